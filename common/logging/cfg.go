package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem. The level applies
// process-wide; per-connection context is attached with ForConn, not by
// reconfiguring the logger.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
}
