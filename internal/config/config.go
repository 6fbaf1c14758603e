package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the relay.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network level settings for the HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	// Frame size caps. Producers upload base64 media blobs, control roles
	// only send small command frames.
	MaxProducerFrame int64 `mapstructure:"max_producer_frame"`
	MaxControlFrame  int64 `mapstructure:"max_control_frame"`
	SendQueueSize    int   `mapstructure:"send_queue_size"`
}

// SessionConfig controls sender arbitration.
type SessionConfig struct {
	MaxProducers             int           `mapstructure:"max_producers"`
	InactivityTimeout        time.Duration `mapstructure:"inactivity_timeout"`
	ReconnectWindow          time.Duration `mapstructure:"reconnect_window"`
	ReconnectPromotionWindow time.Duration `mapstructure:"reconnect_promotion_window"`
	ReclaimIdleThreshold     time.Duration `mapstructure:"reclaim_idle_threshold"`
	StatusInterval           time.Duration `mapstructure:"status_interval"`
	RateWindow               time.Duration `mapstructure:"rate_window"`
}

// BatchConfig controls the bulk listener batching pipeline.
type BatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxSize  int           `mapstructure:"max_size"`
	// QueueLimit bounds the bulk queue while no bulk listener is attached;
	// beyond it the oldest record is dropped.
	QueueLimit int `mapstructure:"queue_limit"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from defaults, an optional parrot.yaml, and
// PARROT_* environment variables. The PORT environment variable and the
// first positional argument override the listen port, in that order.
func Load(args []string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_buffer_size", 4096)
	v.SetDefault("server.write_buffer_size", 4096)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.pong_timeout", 60*time.Second)
	v.SetDefault("server.max_producer_frame", int64(16<<20))
	v.SetDefault("server.max_control_frame", int64(64<<10))
	v.SetDefault("server.send_queue_size", 256)

	v.SetDefault("session.max_producers", 25)
	v.SetDefault("session.inactivity_timeout", 30*time.Second)
	v.SetDefault("session.reconnect_window", 5*time.Minute)
	v.SetDefault("session.reconnect_promotion_window", 60*time.Second)
	v.SetDefault("session.reclaim_idle_threshold", 10*time.Second)
	v.SetDefault("session.status_interval", 60*time.Second)
	v.SetDefault("session.rate_window", 60*time.Second)

	v.SetDefault("batch.interval", time.Second)
	v.SetDefault("batch.max_size", 10)
	v.SetDefault("batch.queue_limit", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("parrot")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PARROT")
	v.AutomaticEnv()

	// Config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}
	if len(args) > 0 && args[0] != "" {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return Config{}, fmt.Errorf("invalid port argument %q: %w", args[0], err)
		}
		cfg.Server.Port = port
	}

	if cfg.Session.MaxProducers <= 0 {
		cfg.Session.MaxProducers = 25
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = 10
	}
	if cfg.Batch.Interval <= 0 {
		cfg.Batch.Interval = time.Second
	}
	if cfg.Server.SendQueueSize <= 0 {
		cfg.Server.SendQueueSize = 256
	}

	return cfg, nil
}
