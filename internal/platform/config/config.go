package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	hbstrings "homebank/pkg/platform/strings"
)

// Config is the full process configuration read from the environment.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Issuance IssuanceConfig
	Audit    AuditConfig

	// SeedDemoData inserts a demo client on startup.
	SeedDemoData bool
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects PostgreSQL; an empty URL uses the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig backs the idempotency store; an empty URL uses memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration
	AdminEmails   []string
}

// IssuanceConfig holds the account and card issuance rules.
type IssuanceConfig struct {
	MaxAccountsPerClient  int
	MaxCardsPerType       int
	CardValidityYears     int
	CardBIN               string
	MaxGenerationAttempts int
	IdempotencyTTL        time.Duration
}

// AuditConfig selects the audit sink; no brokers means in-memory.
type AuditConfig struct {
	KafkaBrokers []string
	Topic        string
}

const devSigningKey = "dev-secret-key-change-in-production"

// IsProduction reports whether the service runs with production safeguards.
func (c Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed numeric or duration values are reported as errors.
func FromEnv() (Config, error) {
	p := &parser{}

	cfg := Config{
		Server: Server{
			Addr:            envOr("HOMEBANK_ADDR", ":8080"),
			Environment:     envOr("HOMEBANK_ENV", "development"),
			LogLevel:        envOr("LOG_LEVEL", "info"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.int("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Auth: AuthConfig{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:     envOr("JWT_ISSUER", "homebank"),
			TokenTTL:      p.duration("JWT_TTL", 15*time.Minute),
			AdminEmails:   hbstrings.SplitListLower(os.Getenv("ADMIN_EMAILS")),
		},
		Issuance: IssuanceConfig{
			MaxAccountsPerClient:  p.int("MAX_ACCOUNTS_PER_CLIENT", 3),
			MaxCardsPerType:       p.int("MAX_CARDS_PER_TYPE", 3),
			CardValidityYears:     p.int("CARD_VALIDITY_YEARS", 5),
			CardBIN:               envOr("CARD_BIN", "4517"),
			MaxGenerationAttempts: p.int("MAX_GENERATION_ATTEMPTS", 1000),
			IdempotencyTTL:        p.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Audit: AuditConfig{
			KafkaBrokers: hbstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:        envOr("AUDIT_TOPIC", "homebank.audit"),
		},
		SeedDemoData: os.Getenv("SEED_DEMO_DATA") == "true",
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if cfg.Auth.JWTSigningKey == "" && !cfg.IsProduction() {
		// Use a default for development - should be overridden in production
		cfg.Auth.JWTSigningKey = devSigningKey
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Issuance.MaxAccountsPerClient <= 0 {
		errs = append(errs, errors.New("MAX_ACCOUNTS_PER_CLIENT must be positive"))
	}
	if c.Issuance.MaxCardsPerType <= 0 {
		errs = append(errs, errors.New("MAX_CARDS_PER_TYPE must be positive"))
	}
	if c.Issuance.CardValidityYears <= 0 {
		errs = append(errs, errors.New("CARD_VALIDITY_YEARS must be positive"))
	}
	if c.Issuance.MaxGenerationAttempts <= 0 {
		errs = append(errs, errors.New("MAX_GENERATION_ATTEMPTS must be positive"))
	}
	if n := len(c.Issuance.CardBIN); n == 0 || n > 8 || strings.Trim(c.Issuance.CardBIN, "0123456789") != "" {
		errs = append(errs, errors.New("CARD_BIN must be 1-8 digits"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.IsProduction() && c.Auth.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser accumulates the first parse error so FromEnv reads linearly.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
	}
	return v
}
