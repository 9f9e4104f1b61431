package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/aegis-api/internal/certificate"
	"github.com/stanstork/aegis-api/internal/classifier"
	"github.com/stanstork/aegis-api/internal/config"
	"github.com/stanstork/aegis-api/internal/erasure"
	"github.com/stanstork/aegis-api/internal/handlers"
	"github.com/stanstork/aegis-api/internal/middleware"
	"github.com/stanstork/aegis-api/internal/migration"
	"github.com/stanstork/aegis-api/internal/notification"
	"github.com/stanstork/aegis-api/internal/records"
	"github.com/stanstork/aegis-api/internal/repository"
	"github.com/stanstork/aegis-api/internal/routes"
	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/target"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	engine *erasure.Engine
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level; keeping info")
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	broker := target.NewBroker(target.Options{
		AllowedDrivers:   cfg.Target.AllowedDrivers,
		ConnectTimeout:   cfg.Target.ConnectTimeout,
		StatementTimeout: cfg.Target.StatementTimeout,
	}, logger)

	engine, err := erasure.NewEngine(erasure.Config{
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		ConnectRetries:    cfg.Worker.ConnectRetries,
		RowsPerSecond:     cfg.Worker.RowsPerSecond,
		ArtifactDir:       cfg.Worker.ArtifactDir,
	},
		erasure.NewStore(),
		broker,
		certificate.NewGenerator(certificate.Options{
			SigningKey: []byte(cfg.Certificate.SigningKey),
			Issuer:     cfg.Certificate.Issuer,
			Compress:   cfg.Certificate.Compress,
		}),
		repository.NewAuditRepository(db),
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start the erasure engine")
	}

	app := &application{
		config: cfg,
		db:     db,
		engine: engine,
		logger: logger,
	}

	// Background maintenance: stalled-job watchdog and artifact retention.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(bgCtx)
	group.Go(func() error {
		return engine.RunWatchdog(groupCtx, cfg.Worker.WatchdogInterval, cfg.Worker.StallTimeout)
	})
	group.Go(func() error {
		return engine.RunSweeper(groupCtx, cfg.Worker.SweepInterval, cfg.Worker.Retention)
	})

	// Initialize the HTTP router and middleware.
	router := app.initRouter(broker)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.ExposedHeaders([]string{"Content-Disposition", "X-Content-SHA256", "Location"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(h.ProxyHeaders(corsHandler))

	stopBackground()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Background task failed")
	}

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(broker *target.Broker) http.Handler {
	cfg := app.config

	// Repositories
	userRepo := repository.NewUserRepository(app.db)
	tenantRepo := repository.NewTenantRepository(app.db)
	verificationRepo := repository.NewVerificationRepository(app.db)
	auditRepo := repository.NewAuditRepository(app.db)

	mailer, err := notification.NewVerificationMailer(cfg.Email, app.logger)
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to configure verification mailer")
	}

	resolver := scope.NewResolver(scope.Limits{
		RangeCeiling: cfg.Scope.RangeCeiling,
		ListCeiling:  cfg.Scope.ListCeiling,
	})

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, verificationRepo, tenantRepo, mailer, cfg, app.logger)
	targetHandler := handlers.NewTargetHandler(
		broker,
		classifier.New(cfg.Target.SampleSize, app.logger),
		resolver,
		records.NewFetcher(cfg.Target.PreviewLimit, app.logger),
		app.logger,
	)
	erasureHandler := handlers.NewErasureHandler(app.engine, resolver, app.logger)
	auditHandler := handlers.NewAuditHandler(auditRepo, app.logger)
	healthHandler := handlers.NewHealthHandler(app.db, app.logger)

	return routes.NewRouter(healthHandler, authHandler, targetHandler, erasureHandler, auditHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Let running jobs finish or roll back.
	logger.Info().Msg("Stopping erasure engine...")
	jobCtx, jobCancel := context.WithTimeout(context.Background(), app.config.Worker.ShutdownTimeout)
	defer jobCancel()
	if err := app.engine.Shutdown(jobCtx); err != nil {
		logger.Error().Err(err).Msg("Erasure engine did not drain in time")
	} else {
		logger.Info().Msg("Erasure engine stopped.")
	}
}
