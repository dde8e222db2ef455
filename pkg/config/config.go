package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr   string
	MaxBodyBytes int64    // bytes for /observe payload
	TrustProxy   bool     // honor X-Forwarded-For / X-Real-IP
	Outputs      []string // enabled sinks: log, kafka, pg

	StoreDSN string // Postgres DSN for the durable store; empty = in-memory only

	SweepInterval time.Duration // retention sweep cadence
	AnalysisDelay time.Duration // wait before comparing policy text against observed trackers

	LogLevel string
	LogFile  string // rotated file output; empty = console only

	HMACSecret  string
	HMACRequire bool

	OracleEnabled bool
	OracleURL     string
	OracleAPIKey  string
	OracleModel   string
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr:    getOr("SERVER_ADDR", ":19891"),
		MaxBodyBytes:  getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		TrustProxy:    getBool("TRUST_PROXY", false),
		Outputs:       getStringSlice("OUTPUTS", "log"),  // default to log only
		StoreDSN:      getOr("STORE_DSN", ""),
		SweepInterval: getDuration("SWEEP_INTERVAL", time.Hour),
		AnalysisDelay: getDuration("ANALYSIS_DELAY", 30*time.Second),
		LogLevel:      getOr("LOG_LEVEL", "info"),
		LogFile:       getOr("LOG_FILE", ""),
		HMACSecret:    getOr("HMAC_SECRET", ""),
		HMACRequire:   getBool("HMAC_REQUIRE", false),
		OracleEnabled: getBool("ORACLE_ENABLED", false),
		OracleURL:     getOr("ORACLE_URL", ""),
		OracleAPIKey:  getOr("ORACLE_API_KEY", ""),
		OracleModel:   getOr("ORACLE_MODEL", "gpt-4o-mini"),
	}
}
