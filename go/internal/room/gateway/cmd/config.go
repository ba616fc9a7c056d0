package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/studysync/go/internal/room/gateway"
	"github.com/mcdev12/studysync/go/internal/room/store"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/studyroom.yaml"

type Config struct {
	Port         string `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	JWTSecret    string `yaml:"jwt_secret"`
	HistoryLimit int    `yaml:"history_limit"`

	Store struct {
		Driver    string        `yaml:"driver"`
		Workers   int           `yaml:"workers"`
		QueueSize int           `yaml:"queue_size"`
		OpTimeout time.Duration `yaml:"op_timeout"`
	} `yaml:"store"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Catalog struct {
		Channel string `yaml:"channel"`
	} `yaml:"catalog"`

	WebSocket struct {
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendBufferSize  int           `yaml:"send_buffer_size"`
	} `yaml:"websocket"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

func defaultConfig() *Config {
	var c Config
	c.Port = "8082"
	c.LogLevel = "info"
	c.LogFormat = "console"
	c.HistoryLimit = 50

	w := store.DefaultWriterConfig()
	c.Store.Driver = "memory"
	c.Store.Workers = w.Workers
	c.Store.QueueSize = w.QueueSize
	c.Store.OpTimeout = w.OpTimeout

	c.Redis.URL = "redis://localhost:6379/0"
	c.NATS.Stream = "STUDY_ROOM_EVENTS"
	c.NATS.SubjectPrefix = "study.rooms"
	c.Catalog.Channel = "study_room_catalog"

	ws := gateway.DefaultConnectionConfig()
	c.WebSocket.WriteTimeout = ws.WriteTimeout
	c.WebSocket.ReadTimeout = ws.ReadTimeout
	c.WebSocket.PingInterval = ws.PingInterval
	c.WebSocket.MaxMessageSize = ws.MaxMessageSize
	c.WebSocket.ReadBufferSize = ws.ReadBufferSize
	c.WebSocket.WriteBufferSize = ws.WriteBufferSize
	c.WebSocket.SendBufferSize = ws.SendBufferSize

	c.CORS.AllowedOrigins = []string{"*"}
	return &c
}

// loadConfig layers defaults, the YAML file at path (if present) and
// environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", c.HistoryLimit)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Workers = getEnvAsInt("STORE_WORKERS", c.Store.Workers)
	c.Store.QueueSize = getEnvAsInt("STORE_QUEUE_SIZE", c.Store.QueueSize)
	c.Store.OpTimeout = getEnvAsDuration("STORE_OP_TIMEOUT", c.Store.OpTimeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.Catalog.Channel = getEnv("CATALOG_CHANNEL", c.Catalog.Channel)

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORS.AllowedOrigins = strings.Split(origins, ",")
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func (c *Config) writerConfig() store.WriterConfig {
	return store.WriterConfig{
		Workers:   c.Store.Workers,
		QueueSize: c.Store.QueueSize,
		OpTimeout: c.Store.OpTimeout,
	}
}

func (c *Config) gatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.HistoryLimit = c.HistoryLimit
	cfg.JWTSecret = c.JWTSecret

	ws := &cfg.ConnectionConfig
	ws.WriteTimeout = c.WebSocket.WriteTimeout
	ws.ReadTimeout = c.WebSocket.ReadTimeout
	ws.PingInterval = c.WebSocket.PingInterval
	ws.MaxMessageSize = c.WebSocket.MaxMessageSize
	ws.ReadBufferSize = c.WebSocket.ReadBufferSize
	ws.WriteBufferSize = c.WebSocket.WriteBufferSize
	ws.SendBufferSize = c.WebSocket.SendBufferSize
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
