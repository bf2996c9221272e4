package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is process configuration, read once at startup. Domain settings
// (point values, bonuses, tie-breaker flags) live in the store and are
// editable at runtime; everything here needs a restart.
type Config struct {
	ListenAddr      string
	DatabaseURL     string // empty = in-memory store
	RefreshInterval time.Duration
	KafkaBrokers    []string // empty = ingest disabled
	KafkaTopic      string
	KafkaGroupID    string
	CORSOrigins     []string
	LogLevel        string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = getenv("SERVER_PORT", "9000")
	}

	return Config{
		ListenAddr:      ":" + port,
		DatabaseURL:     getenv("DATABASE_URL", ""),
		RefreshInterval: getDuration("REFRESH_INTERVAL", 5*time.Minute),
		KafkaBrokers:    getList("KAFKA_BROKERS"),
		KafkaTopic:      getenv("KAFKA_TOPIC", "attendance.events"),
		KafkaGroupID:    getenv("KAFKA_GROUP_ID", "officepulse-core"),
		CORSOrigins:     getListDefault("CORS_ORIGINS", []string{"*"}),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// Accept bare seconds for compatibility with older deployments.
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getList(k string) []string {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getListDefault(k string, def []string) []string {
	if l := getList(k); len(l) > 0 {
		return l
	}
	return def
}
