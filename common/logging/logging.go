package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init initializes the logging subsystem. Every entry is tagged with the
// agent's instance address so interleaved fleets stay separable once their
// logs are aggregated; pass the same address the metrics are tagged with.
func Init(cfg *Config, instance string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if instance != "" {
		logger = logger.With(zap.String("instance", instance))
	}

	return logger.Sugar(), config.Level, nil
}

// ForConn derives the logger for one client connection. The cid comes from
// the connection-id bitmap, so a live connection's lines are greppable by a
// small stable integer instead of an ephemeral remote address.
func ForConn(log *zap.SugaredLogger, service string, cid int) *zap.SugaredLogger {
	return log.With(
		zap.String("service", service),
		zap.Int("cid", cid),
	)
}
