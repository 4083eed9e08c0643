package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	BindAddr      string
	GRPCPort      string
	RuntimeBinary string
	QueueSize     int
	MailboxSize   int

	LogLevel  string
	LogFormat string
	LockFile  string

	AllowOrigins []string

	DatabaseURL string
	DBPath      string

	RedisAddr    string
	RedisChannel string

	RabbitMQURL string

	KafkaBrokerURL   string
	KafkaTopicEvents string
}

// Load reads the environment, after merging an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BindAddr:         getEnv("BIND_ADDR", "127.0.0.1"),
		GRPCPort:         getEnv("GRPC_PORT", "12001"),
		RuntimeBinary:    getEnv("RUNTIME_BINARY", "docker"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LockFile:         getEnv("LOCK_FILE", filepath.Join(os.TempDir(), "docker-queue.lock")),
		AllowOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DBPath:           getEnv("DB_PATH", "docker-queue.db"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisChannel:     getEnv("REDIS_CHANNEL", "docker-queue:events"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		KafkaBrokerURL:   getEnv("KAFKA_BROKER_URL", ""),
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "docker-queue.events"),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", 12000); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getEnvInt("QUEUE_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.MailboxSize, err = getEnvInt("MAILBOX_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("QUEUE_SIZE must not be negative: %d", cfg.QueueSize)
	}
	return cfg, nil
}

// HTTPAddr is the listen address of the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

// GRPCAddr is empty when the gRPC health endpoint is disabled.
func (c *Config) GRPCAddr() string {
	if c.GRPCPort == "" {
		return ""
	}
	return c.BindAddr + ":" + c.GRPCPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
