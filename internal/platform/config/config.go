package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds connection settings for the distributed run lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the event-stream settings. Empty seeds disable the
// Kafka publisher and events stay on the in-process channel sink.
type KafkaConfig struct {
	Seeds []string
	Topic string
}

// Config captures everything main needs to wire the engine.
type Config struct {
	Addr        string
	PostgresURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// SweepInterval paces the deadline sweep; SweepHorizon is how far ahead
	// of a deadline an obligation turns avencer.
	SweepInterval time.Duration
	SweepHorizon  time.Duration

	JWTSigningKey string
	// AdminKeyHash is the bcrypt hash of the catalog-load admin key. Empty
	// disables the catalog write endpoint.
	AdminKeyHash string

	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:        envOr("CONFORMO_ADDR", ":8080"),
		PostgresURL: os.Getenv("CONFORMO_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("CONFORMO_REDIS_URL"),
			PoolSize:     envInt("CONFORMO_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONFORMO_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Seeds: splitNonEmpty(os.Getenv("CONFORMO_KAFKA_SEEDS")),
			Topic: envOr("CONFORMO_KAFKA_TOPIC", "conformo.obligation-events"),
		},
		SweepInterval:   envDuration("CONFORMO_SWEEP_INTERVAL", time.Hour),
		SweepHorizon:    envDuration("CONFORMO_SWEEP_HORIZON", 720*time.Hour),
		JWTSigningKey:   envOr("CONFORMO_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminKeyHash:    os.Getenv("CONFORMO_ADMIN_KEY_HASH"),
		ShutdownTimeout: envDuration("CONFORMO_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
