package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the engine. Values come from the
// environment with sane defaults so the daemon starts without a .env file.
type Config struct {
	// Database
	PostgresDSN string

	// Engine
	StoreTimeout time.Duration // upper bound for any single datastore interaction

	// Compliance
	ScanInterval         time.Duration // cadence of the recurring alert scan
	ExpiryWarnDays       int           // licenses entering this window raise an alert
	DeviceRiskWarnDays   int           // assigned licenses expiring within this window put a device at risk
	OverUtilizationRatio float64       // soft warning band, fraction of total seats

	// Auth
	TokenTTL time.Duration

	// Observability
	MetricsAddr string
}

// Load reads configuration from the environment, consulting .env when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		PostgresDSN: getEnv("LICENTRA_PG_DSN", ""),

		StoreTimeout: getEnvDuration("LICENTRA_STORE_TIMEOUT", 5*time.Second),

		ScanInterval:         getEnvDuration("LICENTRA_SCAN_INTERVAL", 6*time.Hour),
		ExpiryWarnDays:       getEnvInt("LICENTRA_EXPIRY_WARN_DAYS", 30),
		DeviceRiskWarnDays:   getEnvInt("LICENTRA_DEVICE_RISK_WARN_DAYS", 15),
		OverUtilizationRatio: getEnvFloat("LICENTRA_OVERUTILIZATION_RATIO", 0.90),

		TokenTTL: getEnvDuration("LICENTRA_TOKEN_TTL", 24*time.Hour),

		MetricsAddr: getEnv("LICENTRA_METRICS_ADDR", ":9090"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
