package config_test

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/gramseva/consult-signal/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	if cfg.BindAddr != config.DefaultBindAddr {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, config.DefaultBindAddr)
	}
	if cfg.SendQueueSize != config.DefaultSendQueueSize {
		t.Errorf("SendQueueSize = %d, want %d", cfg.SendQueueSize, config.DefaultSendQueueSize)
	}
	if cfg.HistoryDB != "" {
		t.Errorf("HistoryDB = %q, want disabled by default", cfg.HistoryDB)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"fatal", logrus.FatalLevel},
		{"panic", logrus.PanicLevel},
		{"garbage", logrus.DebugLevel},
		{"", logrus.DebugLevel},
	}
	for _, tt := range tests {
		if got := config.LogLevel(tt.in); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_UsesConfiguredLevel(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "warn"

	if got := cfg.Logger().GetLevel(); got != logrus.WarnLevel {
		t.Errorf("Logger level = %v, want warn", got)
	}
}
