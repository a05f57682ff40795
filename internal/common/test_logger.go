package common

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// testLoggerAdapter maps log writes onto testing.TB.Log so that log
// output only shows up for failed tests.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	if d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	if a.prefix != "" {
		l := a.prefix + ": " + string(d)
		a.t.Log(l)
		return len(l), nil
	}
	a.t.Log(string(d))
	return len(d), nil
}

// NewTestLogger returns a debug-level logger writing through t.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t}
	logger.Level = logrus.DebugLevel
	return logger
}

// NewTestEntry returns a test logger wrapped in an Entry, which is what
// most components take.
func NewTestEntry(t testing.TB) *logrus.Entry {
	return NewTestLogger(t).WithField("prefix", "test")
}
