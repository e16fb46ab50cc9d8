package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string

	PGDSN string

	MailEndpoint string
	MailKey      string

	StripeEnabled bool
	Currency      string

	GoogleMapsKey string
	OSRMEndpoint  string

	// LocationInterval is the minimum gap between persisted location
	// writes per driver; faster pushes are coalesced.
	LocationInterval time.Duration

	DefaultTenantID int64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		Currency:         "usd",
		LocationInterval: 5 * time.Second,
		DefaultTenantID:  1,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.MailEndpoint, "MAIL_ENDPOINT")
	cfg.MailKey = os.Getenv("MAIL_KEY")

	cfg.StripeEnabled = os.Getenv("STRIPE_API_KEY") != ""
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	cfg.GoogleMapsKey = os.Getenv("GOOGLE_MAPS_KEY")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_MIN_INTERVAL", &errs)
	setInt64FromEnv(&cfg.DefaultTenantID, "DEFAULT_TENANT_ID", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.LocationInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_MIN_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
