// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every variable, e.g. SWAPSHELF_DATABASE_URL.
const EnvPrefix = "SWAPSHELF"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds service configuration.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:"0.0.0.0:8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	Storage     string `envconfig:"STORAGE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// ReplicaURL serves directory reads when set.
	ReplicaURL  string `envconfig:"REPLICA_DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer          string        `envconfig:"JWT_ISSUER" default:"swapshelf"`
	JWTTTL             time.Duration `envconfig:"JWT_TTL" default:"24h"`
	AllowedEmailDomain string        `envconfig:"ALLOWED_EMAIL_DOMAIN"`

	RedisURL          string        `envconfig:"REDIS_URL"`
	CreateRateLimit   int           `envconfig:"CREATE_RATE_LIMIT" default:"20"`
	SendRateLimit     int           `envconfig:"SEND_RATE_LIMIT" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RecentWriteWindow time.Duration `envconfig:"RECENT_WRITE_WINDOW" default:"5s"`

	RealtimeBuffer       int           `envconfig:"REALTIME_BUFFER" default:"64"`
	RealtimePingInterval time.Duration `envconfig:"REALTIME_PING_INTERVAL" default:"30s"`

	// AllowedOrigins is a comma-separated list of browser origins allowed
	// to open realtime connections; empty means same host only.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	PubSubProject      string `envconfig:"PUBSUB_PROJECT"`
	PubSubSubscription string `envconfig:"PUBSUB_ITEM_DELETED_SUBSCRIPTION"`

	AuditSigningKey string `envconfig:"AUDIT_SIGNING_KEY"`
}

// Override adjusts a loaded Config before validation, e.g. from CLI flags.
type Override func(*Config)

// Load reads an optional .env file, then the environment, applies overrides
// and validates.
func Load(overrides ...Override) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage)
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 bytes")
	}
	if c.JWTTTL <= 0 {
		return errors.New("config: JWT_TTL must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	if c.CreateRateLimit <= 0 || c.SendRateLimit <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("config: rate limits and window must be positive")
	}
	if c.RealtimeBuffer <= 0 {
		return errors.New("config: REALTIME_BUFFER must be positive")
	}
	if (c.PubSubProject == "") != (c.PubSubSubscription == "") {
		return errors.New("config: PUBSUB_PROJECT and PUBSUB_ITEM_DELETED_SUBSCRIPTION must be set together")
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
