package internal

import (
	"chat-relay/errors"
	"fmt"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=5000"`
	GrpcHealthPort       int           `env:"GRPC_HEALTH_PORT,default=5001"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	CommandBufferSize    int           `env:"COMMAND_BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	StorageQueueSize     int           `env:"STORAGE_QUEUE_SIZE,default=16"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=100"`
	PersistFailurePolicy string        `env:"PERSIST_FAILURE_POLICY,default=broadcast"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s"`
	QueueWarnPercent     int           `env:"QUEUE_WARN_PERCENT,default=80"`
	MaxMessageSize       int           `env:"MAX_MESSAGE_SIZE,default=4096"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	// Empty disables token checks on the websocket upgrade.
	JwtSecret string `env:"JWT_SECRET"`
}

// Validate rejects values that would only fail later, inside a ticker or a channel make.
func (c Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"METRIC_INTERVAL", c.MetricInterval},
		{"PONG_WAIT", c.PongWait},
		{"WRITE_TIMEOUT", c.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", errors.ErrInvalidConfig, d.name, d.value)
		}
	}

	sizes := []struct {
		name  string
		value int
	}{
		{"COMMAND_BUFFER_SIZE", c.CommandBufferSize},
		{"CONNECTION_BUFFER_SIZE", c.ConnectionBufferSize},
		{"STORAGE_QUEUE_SIZE", c.StorageQueueSize},
	}
	for _, s := range sizes {
		if s.value < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", errors.ErrInvalidConfig, s.name, s.value)
		}
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MAX_MESSAGE_SIZE must be positive, got %d", errors.ErrInvalidConfig, c.MaxMessageSize)
	}
	return nil
}
