package app

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"daters/cmd/internal/expansion"
	"daters/cmd/internal/mail"
	"daters/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	// DBMigrate applies embedded migrations on startup.
	DBMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, startup fails when Argon2 parameters are below the RFC 9106
	// second recommended option.
	RequireStrongHash bool

	PublicURL    string
	MaxBodyBytes int64
	MailTimeout  time.Duration

	// Empty AMQPURL logs activation links instead of publishing them.
	AMQPURL         string
	ActivationQueue string

	ExpansionCacheSize int

	Feed realtime.FeedConfig
}

// LoadDotEnv loads DATERS_ENV_FILE (default .env) into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv() error {
	path := EnvString("DATERS_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	feed := realtime.DefaultFeedConfig()

	return Config{
		HTTPAddr:  EnvString("DATERS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("DATERS_LOG_LEVEL", "info"),
		LogFormat: EnvString("DATERS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("DATERS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("DATERS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("DATERS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("DATERS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("DATERS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("DATERS_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("DATERS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DATERS_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("DATERS_DB_SCHEMA", "daters"),
		DBMigrate:   EnvBool("DATERS_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("DATERS_READINESS_REQUIRE_DB", false),

		RequireStrongHash: EnvBool("DATERS_REQUIRE_STRONG_HASH", false),

		PublicURL:    EnvString("DATERS_PUBLIC_URL", "http://localhost:8080"),
		MaxBodyBytes: int64(EnvInt("DATERS_MAX_BODY_BYTES", 1<<20)),
		MailTimeout:  EnvDuration("DATERS_MAIL_TIMEOUT", 10*time.Second),

		AMQPURL:         EnvString("DATERS_AMQP_URL", ""),
		ActivationQueue: EnvString("DATERS_ACTIVATION_QUEUE", mail.DefaultActivationQueue),

		ExpansionCacheSize: EnvInt("DATERS_EXPANSION_CACHE_SIZE", expansion.DefaultCapacity),

		Feed: realtime.FeedConfig{
			OriginRequired:     EnvBool("DATERS_WS_ORIGIN_REQUIRED", feed.OriginRequired),
			AllowedOrigins:     EnvCSV("DATERS_WS_ALLOWED_ORIGINS", feed.AllowedOrigins),
			InsecureSkipVerify: EnvBool("DATERS_WS_INSECURE_SKIP_VERIFY", false),
			WriteTimeout:       EnvDuration("DATERS_WS_WRITE_TIMEOUT", feed.WriteTimeout),
			SendQueueSize:      EnvInt("DATERS_WS_SEND_QUEUE", feed.SendQueueSize),
			HeartbeatInterval:  EnvDuration("DATERS_WS_HEARTBEAT_INTERVAL", feed.HeartbeatInterval),
			HeartbeatTimeout:   EnvDuration("DATERS_WS_HEARTBEAT_TIMEOUT", feed.HeartbeatTimeout),
			RateEvents:         EnvInt("DATERS_WS_RATE_EVENTS", feed.RateEvents),
			RateWindow:         EnvDuration("DATERS_WS_RATE_WINDOW", feed.RateWindow),
		},
	}
}
