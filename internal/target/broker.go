package target

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3" // SQLite target driver
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stanstork/aegis-api/internal/telemetry"
)

const defaultConnectTimeout = 10 * time.Second

// Opener produces a live handle for a connection spec.
type Opener interface {
	Open(ctx context.Context, spec ConnectionSpec) (*Handle, error)
}

type Options struct {
	AllowedDrivers   []string
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// Broker opens short-lived, single-connection handles to caller-specified
// targets. It keeps no state between calls and never retries.
type Broker struct {
	allowed          map[string]bool
	connectTimeout   time.Duration
	statementTimeout time.Duration
	tracer           trace.Tracer
	logger           zerolog.Logger
}

func NewBroker(opts Options, logger zerolog.Logger) *Broker {
	allowed := make(map[string]bool)
	for _, d := range opts.AllowedDrivers {
		allowed[ConnectionSpec{Driver: d}.Normalized().Driver] = true
	}
	if len(allowed) == 0 {
		allowed[DriverPostgres] = true
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Broker{
		allowed:          allowed,
		connectTimeout:   opts.ConnectTimeout,
		statementTimeout: opts.StatementTimeout,
		tracer:           telemetry.Tracer("target"),
		logger:           logger.With().Str("component", "target-broker").Logger(),
	}
}

// Open validates spec, connects and pings the target.
func (b *Broker) Open(ctx context.Context, spec ConnectionSpec) (*Handle, error) {
	spec = spec.Normalized()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !b.allowed[spec.Driver] {
		return nil, &ConnectionError{Reason: ReasonDriverNotAllowed, Detail: spec.Driver}
	}

	var handle *Handle
	attrs := []attribute.KeyValue{
		attribute.String("db.system", spec.Driver),
		attribute.String("db.name", spec.DBName),
		attribute.String("server.address", spec.Host),
	}
	err := telemetry.ExecuteAndTrace(ctx, b.tracer, "target.open", attrs, func(ctx context.Context) error {
		db, err := b.openDB(spec)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		pingCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return classify(err)
		}

		dialect, err := dialectFor(spec.Driver)
		if err != nil {
			_ = db.Close()
			return &ConnectionError{Reason: ReasonInvalidSpec, Cause: err}
		}
		handle = &Handle{db: db, dialect: dialect, database: spec.DBName}
		return nil
	})
	if err != nil {
		b.logger.Warn().Err(err).Object("target", spec).Msg("Failed to open target connection")
		return nil, err
	}

	b.logger.Debug().Object("target", spec).Msg("Target connection opened")
	return handle, nil
}

func (b *Broker) openDB(spec ConnectionSpec) (*sql.DB, error) {
	switch spec.Driver {
	case DriverSQLite:
		dsn := "file:" + spec.DBName + "?mode=rw&_busy_timeout=5000&_foreign_keys=on"
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, &ConnectionError{Reason: ReasonInvalidSpec, Cause: err}
		}
		return db, nil
	default:
		cfg, err := pgx.ParseConfig(b.postgresURL(spec))
		if err != nil {
			return nil, &ConnectionError{Reason: ReasonInvalidSpec, Cause: err}
		}
		if b.statementTimeout > 0 {
			cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(b.statementTimeout.Milliseconds(), 10)
		}
		cfg.RuntimeParams["application_name"] = "aegis"
		return stdlib.OpenDB(*cfg), nil
	}
}

func (b *Broker) postgresURL(spec ConnectionSpec) string {
	sslMode := "disable"
	if spec.TLS() {
		sslMode = "require"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(b.connectTimeout.Seconds())))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(spec.User, spec.Password),
		Host:     net.JoinHostPort(spec.Host, spec.Port),
		Path:     "/" + strings.TrimPrefix(spec.DBName, "/"),
		RawQuery: q.Encode(),
	}
	return u.String()
}
