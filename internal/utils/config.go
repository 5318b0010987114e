package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort   string
	Postgres     PostgresConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	Logging      LoggingConfig
	Provider     ProviderConfig
	Conversation ConversationConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	CacheTTL time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// ProviderConfig points at the OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Temperature float64
	MaxTokens   int
}

// ConversationConfig tunes the session state machine.
type ConversationConfig struct {
	MinTurns            int
	ConfidenceThreshold float64
	MaxExtractRetries   int
	IdleTTL             time.Duration
	SweepInterval       time.Duration
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "contacts-server"),
	}

	cfg := &Config{
		ServerPort: port,
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          os.Getenv("POSTGRES_PASSWORD"),
			Database:          envOrDefault("POSTGRES_DB", "contacts"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            os.Getenv("MONGO_URI"),
			Database:       envOrDefault("MONGO_DATABASE", "contacts"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			CacheTTL: parseDuration(envOrDefault("REDIS_CACHE_TTL", "10m"), 10*time.Minute),
		},
		Logging: logging,
		Provider: ProviderConfig{
			BaseURL:     envOrDefault("LLM_API_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Model:       envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Timeout:     parseDuration(envOrDefault("LLM_GATEWAY_TIMEOUT", "30s"), 30*time.Second),
			MaxAttempts: parseInt(envOrDefault("LLM_GATEWAY_ATTEMPTS", "3"), 3),
			Temperature: parseFloat(envOrDefault("LLM_TEMPERATURE", "0.1"), 0.1),
			MaxTokens:   parseInt(envOrDefault("LLM_MAX_TOKENS", "800"), 800),
		},
		Conversation: ConversationConfig{
			MinTurns:            parseInt(envOrDefault("LLM_MIN_TURNS", "1"), 1),
			ConfidenceThreshold: parseFloat(envOrDefault("LLM_CONFIDENCE_THRESHOLD", "0.5"), 0.5),
			MaxExtractRetries:   parseInt(envOrDefault("LLM_EXTRACT_RETRIES", "3"), 3),
			IdleTTL:             parseDuration(envOrDefault("SESSION_IDLE_TTL", "30m"), 30*time.Minute),
			SweepInterval:       parseDuration(envOrDefault("SESSION_SWEEP_INTERVAL", "1m"), time.Minute),
		},
	}

	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("missing required environment variable: LLM_API_KEY")
	}

	return cfg, nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
