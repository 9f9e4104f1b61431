package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AuthConfig struct {
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	BindFingerprint     bool          `mapstructure:"bind_fingerprint"`
	RequireVerification bool          `mapstructure:"require_verification"`
}

type TargetConfig struct {
	AllowedDrivers   []string      `mapstructure:"allowed_drivers"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	PreviewLimit     int           `mapstructure:"preview_limit"`
	SampleSize       int           `mapstructure:"sample_size"`
}

type ScopeConfig struct {
	RangeCeiling int `mapstructure:"range_ceiling"`
	ListCeiling  int `mapstructure:"list_ceiling"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	RowsPerSecond     float64       `mapstructure:"rows_per_second"`
	StallTimeout      time.Duration `mapstructure:"stall_timeout"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval"`
	Retention         time.Duration `mapstructure:"retention"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ArtifactDir       string        `mapstructure:"artifact_dir"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type CertificateConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	DatabaseURL    string            `mapstructure:"database_url"`
	ServerPort     string            `mapstructure:"server_port"`
	JWTSecret      string            `mapstructure:"jwt_secret"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	LogLevel       string            `mapstructure:"log_level"`
	Auth           AuthConfig        `mapstructure:"auth"`
	Target         TargetConfig      `mapstructure:"target"`
	Scope          ScopeConfig       `mapstructure:"scope"`
	Worker         WorkerConfig      `mapstructure:"worker"`
	Certificate    CertificateConfig `mapstructure:"certificate"`
	Email          EmailConfig       `mapstructure:"email"`
}

type EmailConfig struct {
	From              string `mapstructure:"from"`
	SMTPHost          string `mapstructure:"smtp_host"`
	SMTPPort          int    `mapstructure:"smtp_port"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	VerifyURLTemplate string `mapstructure:"verify_url_template"`
}

// Enabled reports whether an SMTP server is configured.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

// Load reads config.yaml (optional) and AEGIS_* environment variables. A
// .env file in the working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Skipping .env: %v", err)
	}

	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)
	// Zero is meaningful for these keys, so their defaults live in viper
	// rather than applyDefaults.
	v.SetDefault("auth.require_verification", true)
	v.SetDefault("target.sample_size", 5)
	v.SetDefault("worker.connect_retries", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	config.applyDefaults()

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file or AEGIS_JWT_SECRET")
	}
	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file or AEGIS_DATABASE_URL")
	}

	return &config
}

// Unmarshal only sees environment values for keys viper already knows about.
var envKeys = []string{
	"database_url", "server_port", "jwt_secret", "allowed_origins", "log_level",
	"auth.token_ttl", "auth.bind_fingerprint", "auth.require_verification",
	"target.allowed_drivers", "target.connect_timeout", "target.statement_timeout",
	"target.preview_limit", "target.sample_size",
	"scope.range_ceiling", "scope.list_ceiling",
	"worker.max_concurrent_jobs", "worker.connect_retries", "worker.rows_per_second",
	"worker.stall_timeout", "worker.watchdog_interval", "worker.retention",
	"worker.sweep_interval", "worker.artifact_dir", "worker.shutdown_timeout",
	"certificate.signing_key", "certificate.issuer", "certificate.compress",
	"email.from", "email.smtp_host", "email.smtp_port", "email.username",
	"email.password", "email.verify_url_template",
}

func bindEnv(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

func (c *Config) applyDefaults() {
	// Fallback defaults
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 8 * time.Hour
	}

	if len(c.Target.AllowedDrivers) == 0 {
		c.Target.AllowedDrivers = []string{"postgres"}
	}
	if c.Target.ConnectTimeout <= 0 {
		c.Target.ConnectTimeout = 10 * time.Second
	}
	if c.Target.StatementTimeout <= 0 {
		c.Target.StatementTimeout = 30 * time.Second
	}
	if c.Target.PreviewLimit <= 0 {
		c.Target.PreviewLimit = 100
	}
	if c.Target.SampleSize < 0 {
		c.Target.SampleSize = 0
	}

	if c.Scope.RangeCeiling <= 0 {
		c.Scope.RangeCeiling = 2000
	}
	if c.Scope.ListCeiling <= 0 {
		c.Scope.ListCeiling = 500
	}

	if c.Worker.MaxConcurrentJobs <= 0 {
		c.Worker.MaxConcurrentJobs = 4
	}
	if c.Worker.ConnectRetries < 0 {
		c.Worker.ConnectRetries = 0
	}
	if c.Worker.StallTimeout <= 0 {
		c.Worker.StallTimeout = 5 * time.Minute
	}
	if c.Worker.WatchdogInterval <= 0 {
		c.Worker.WatchdogInterval = 30 * time.Second
	}
	if c.Worker.Retention <= 0 {
		c.Worker.Retention = 24 * time.Hour
	}
	if c.Worker.SweepInterval <= 0 {
		c.Worker.SweepInterval = time.Hour
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Certificate.SigningKey == "" {
		c.Certificate.SigningKey = c.JWTSecret
	}
	if c.Certificate.Issuer == "" {
		c.Certificate.Issuer = "Aegis"
	}

	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Email.VerifyURLTemplate == "" {
		c.Email.VerifyURLTemplate = "http://localhost:8080/api/auth/verify/%s"
	}
}
