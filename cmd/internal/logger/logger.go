package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
)

// BuildLogger ensures everything printed by the logger is done to stderr.
// This allows generated files printed to stdout to be redirected to a file,
// while application messages are kept in a separate stream.
func BuildLogger(verbose bool) {
	zap.ReplaceGlobals(zap.New(buildCore(zapcore.Lock(os.Stderr), verbose)))
}

func buildCore(syncer zapcore.WriteSyncer, verbose bool) zapcore.Core {
	minimumLevel := zapcore.InfoLevel
	if verbose {
		minimumLevel = zapcore.DebugLevel
	}

	levels := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= minimumLevel
	})

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}),
		syncer,
		levels,
	)
}
