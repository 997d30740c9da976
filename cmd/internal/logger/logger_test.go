package logger

import (
	"bytes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		verbose bool
		debug   bool
	}{
		{false, false},
		{true, true},
	}

	for _, test := range tests {
		var buffer bytes.Buffer
		log := zap.New(buildCore(zapcore.AddSync(&buffer), test.verbose))

		log.Debug("debug message")
		log.Info("info message")

		if strings.Contains(buffer.String(), "debug message") != test.debug {
			t.Errorf("verbose=%v: unexpected output %q", test.verbose, buffer.String())
		}

		if !strings.Contains(buffer.String(), "info\tinfo message") {
			t.Errorf("verbose=%v: info messages should always be logged, got %q", test.verbose, buffer.String())
		}
	}
}
