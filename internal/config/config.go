// Package config holds the runtime configuration of the signaling
// server and its defaults.
package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default configuration values.
const (
	DefaultBindAddr        = "127.0.0.1:8080"
	DefaultLogLevel        = "info"
	DefaultHistoryDB       = ""
	DefaultSendQueueSize   = 256
	DefaultShutdownTimeout = 5 * time.Second
)

// Config contains all configuration properties of the signaling server.
// Fields carry mapstructure tags so viper can unmarshal them from
// flags, environment variables, or a config file.
type Config struct {
	// BindAddr is the address:port the HTTP/WebSocket listener binds.
	BindAddr string `mapstructure:"listen"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// AllowedOrigins lists the Origin header values accepted during the
	// websocket upgrade. Empty means any origin is accepted, which is
	// only appropriate behind a trusted proxy or in development.
	AllowedOrigins []string `mapstructure:"allowed-origins"`

	// HistoryDB is the path of the sqlite chat-history database. Empty
	// disables chat persistence entirely.
	HistoryDB string `mapstructure:"history-db"`

	// RequireIdentity rejects websocket upgrades that carry no verified
	// user identity from the portal's auth layer.
	RequireIdentity bool `mapstructure:"require-identity"`

	// SendQueueSize is the per-connection outbound buffer. A connection
	// that falls this many envelopes behind is closed.
	SendQueueSize int `mapstructure:"send-queue"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		BindAddr:        DefaultBindAddr,
		LogLevel:        DefaultLogLevel,
		HistoryDB:       DefaultHistoryDB,
		SendQueueSize:   DefaultSendQueueSize,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Logger returns a formatted logrus logger at the configured level.
// The underlying logger is created lazily and cached.
func (c *Config) Logger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetLevel(LogLevel(c.LogLevel))
		c.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return c.logger
}

// LogLevel parses a level string, defaulting to debug on garbage input
// so misconfiguration errs on the side of more output.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
