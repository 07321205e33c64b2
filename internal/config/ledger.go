package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LedgerConfig struct {
	RateCacheTTL         time.Duration
	IngestLeaseTTL       time.Duration
	IngestRatePerSecond  float64
	IngestBurst          int
	DefaultRefCurrency   string
	MaxIngestBatch       int
	HTTPRatePerSecond    float64
	HTTPBurst            int
	DefaultHistoryWindow time.Duration
}

// LoadLedgerConfig reads the ledger settings through viper, so values may
// come from the environment or from the .env file loaded by the server.
// Environment variables win. Unparseable values fall back to the defaults.
func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		RateCacheTTL:         getDuration("LEDGER_RATE_CACHE_TTL", 1*time.Hour),
		IngestLeaseTTL:       getDuration("LEDGER_INGEST_LEASE_TTL", 30*time.Second),
		IngestRatePerSecond:  getFloat("LEDGER_INGEST_RPS", 2),
		IngestBurst:          getInt("LEDGER_INGEST_BURST", 5),
		DefaultRefCurrency:   strings.ToUpper(getString("LEDGER_DEFAULT_REF_CURRENCY", "USD")),
		MaxIngestBatch:       getInt("LEDGER_MAX_INGEST_BATCH", 500),
		HTTPRatePerSecond:    getFloat("HTTP_RATE_LIMIT_RPS", 20),
		HTTPBurst:            getInt("HTTP_RATE_LIMIT_BURST", 40),
		DefaultHistoryWindow: getDuration("LEDGER_DEFAULT_HISTORY_WINDOW", 90*24*time.Hour),
	}
}

// lookup binds the variable to its lower-case viper key, which is also the
// key a dotenv file produces.
func lookup(env string) string {
	key := strings.ToLower(env)
	viper.BindEnv(key, env)
	return strings.TrimSpace(viper.GetString(key))
}

func getString(env, defaultVal string) string {
	if val := lookup(env); val != "" {
		return val
	}
	return defaultVal
}

func getInt(env string, defaultVal int) int {
	if val := lookup(env); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getFloat(env string, defaultVal float64) float64 {
	if val := lookup(env); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(env string, defaultVal time.Duration) time.Duration {
	if val := lookup(env); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
