// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	OverflowDisconnect = "disconnect"
	OverflowDropOldest = "drop_oldest"
)

// Config holds every runtime setting of the chat service.
type Config struct {
	Port        string `env:"PORT" envDefault:"8083"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"chatroom-service"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	DebugRoutes bool   `env:"DEBUG_ROUTES" envDefault:"false"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"file:chat.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`

	AMQPURL        string `env:"AMQP_URL"`
	AMQPExchange   string `env:"AMQP_EXCHANGE" envDefault:"chat.events"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR"`

	SessionCookieName    string        `env:"SESSION_COOKIE_NAME" envDefault:"chat_session"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"0s"`
	CookieSecure         bool          `env:"COOKIE_SECURE" envDefault:"false"`
	AccessCodePoolSize   int           `env:"ACCESS_CODE_POOL_SIZE" envDefault:"15"`

	RetentionMonths   int           `env:"RETENTION_MONTHS" envDefault:"6"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"24h"`

	HistoryReplayLimit int `env:"HISTORY_REPLAY_LIMIT" envDefault:"50"`
	HistoryQueryLimit  int `env:"HISTORY_QUERY_LIMIT" envDefault:"100"`

	PingInterval    time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	SendQueueSize   int           `env:"WS_SEND_QUEUE_SIZE" envDefault:"256"`
	OverflowPolicy  string        `env:"WS_OVERFLOW_POLICY" envDefault:"disconnect"`
	MaxMessageSize  int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"16384"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load parses the environment into a Config and replaces invalid values with defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return sanitize(cfg), nil
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(err)
	}
	return sanitize(cfg)
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = "8083"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.SessionSweepInterval < 0 {
		cfg.SessionSweepInterval = 0
	}
	if cfg.AccessCodePoolSize < 0 {
		cfg.AccessCodePoolSize = 0
	}
	if cfg.RetentionMonths <= 0 {
		cfg.RetentionMonths = 6
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = 24 * time.Hour
	}
	if cfg.HistoryReplayLimit < 0 {
		cfg.HistoryReplayLimit = 50
	}
	if cfg.HistoryQueryLimit <= 0 {
		cfg.HistoryQueryLimit = 100
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.OverflowPolicy != OverflowDisconnect && cfg.OverflowPolicy != OverflowDropOldest {
		log.Printf("unknown overflow policy %q, using %s", cfg.OverflowPolicy, OverflowDisconnect)
		cfg.OverflowPolicy = OverflowDisconnect
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 16384
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.RateLimitRefill <= 0 {
		cfg.RateLimitRefill = time.Second
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins
	return cfg
}
