// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port           string
	AppEnv         string
	AllowedOrigins []string
	LogLevel       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LobbyTTL        time.Duration
	DisconnectGrace time.Duration
	ResultsQueue    string

	DatabaseURL string

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load reads the configuration, applying defaults for unset variables.
func Load() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LobbyTTL:        getEnvDuration("LOBBY_TTL", 2*time.Hour),
		DisconnectGrace: getEnvDuration("LOBBY_DISCONNECT_GRACE", 15*time.Second),
		ResultsQueue:    getEnv("RESULTS_QUEUE_NAME", "typerace_results"),

		DatabaseURL: databaseURL(),

		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// individual postgres variables. Empty means no database is configured.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   fmt.Sprintf("%s:%s", host, getEnv("PG_PORT", "5432")),
		Path:   "/" + os.Getenv("PG_DATABASE"),
	}
	return u.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// NewLogger builds the process logger: JSON output in production, text
// otherwise, at LOG_LEVEL.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
