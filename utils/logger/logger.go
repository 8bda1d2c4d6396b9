package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger and installs it as zap's global logger.
// Production gets JSON output at info level, everything else the console encoder at debug.
func New(goEnv string) (*zap.Logger, error) {
	var cfg zap.Config
	if goEnv == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}

// Must is New for main packages that cannot run without a logger
func Must(goEnv string) *zap.Logger {
	log, err := New(goEnv)
	if err != nil {
		panic(err)
	}
	return log
}
