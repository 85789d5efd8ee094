package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Auth     AuthConfig
	Platform PlatformConfig
	Logging  LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// DatabaseConfig describes connectivity to Postgres. An empty URL selects the
// in-memory stores.
type DatabaseConfig struct {
	URL string
}

// LedgerConfig describes the token ledger endpoint. An empty endpoint selects
// the in-process simulator.
type LedgerConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// AuthConfig carries the token-signing secret.
type AuthConfig struct {
	JWTSecret string
}

// PlatformConfig names the platform's well-known identities.
type PlatformConfig struct {
	// Custodian owns the per-job custodial subaccounts on the ledger.
	Custodian string
	// PlatformWallet receives the platform fee share of each release.
	PlatformWallet string
	// ServiceIdentity is the job manager's identity on the engine allow-lists.
	ServiceIdentity string
	// OperatorIdentity may drive arbitration administration.
	OperatorIdentity string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLedgerTimeout   = 10 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"

	defaultCustodian        = "escrow-custodian"
	defaultPlatformWallet   = "platform-treasury"
	defaultServiceIdentity  = "svc:jobs"
	defaultOperatorIdentity = ""
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:       defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Ledger: LedgerConfig{
			Endpoint: os.Getenv("LEDGER_ENDPOINT"),
			Timeout:  defaultLedgerTimeout,
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Platform: PlatformConfig{
			Custodian:        valueOrDefault("ESCROW_CUSTODIAN", defaultCustodian),
			PlatformWallet:   valueOrDefault("PLATFORM_WALLET", defaultPlatformWallet),
			ServiceIdentity:  valueOrDefault("SERVICE_IDENTITY", defaultServiceIdentity),
			OperatorIdentity: valueOrDefault("OPERATOR_IDENTITY", defaultOperatorIdentity),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	for _, item := range []struct {
		key  string
		dest *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"LEDGER_TIMEOUT", &cfg.Ledger.Timeout},
	} {
		if v := os.Getenv(item.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", item.key, err)
			}
			*item.dest = d
		}
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// AllowedOrigins splits the CSV origin list into its entries.
func (c HTTPConfig) AllowedOrigins() []string {
	if c.AllowedOriginsCSV == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOriginsCSV, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
