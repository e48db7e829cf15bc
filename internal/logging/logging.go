// Package logging builds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level       string // debug, info, warn, error
	File        string // optional rotating log file, tee'd with stdout
	MaxSizeMB   int
	MaxBackups  int
	Development bool

	// Out overrides stdout; tests point it at a buffer.
	Out io.Writer
}

// New returns a sugared logger and a function that flushes and closes its
// sinks.
func New(cfg Config) (*zap.SugaredLogger, func() error, error) {
	lvl := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var out io.Writer = os.Stdout
	if cfg.Out != nil {
		out = cfg.Out
	}
	var enc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if cfg.Development {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), lvl)

	var rot *lumberjack.Logger
	if cfg.File != "" {
		rot = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 64),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			Compress:   true,
		}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(rot), lvl)
		core = zapcore.NewTee(core, fileCore)
	}

	logger := zap.New(core)
	closeFn := func() error {
		_ = logger.Sync()
		if rot != nil {
			return rot.Close()
		}
		return nil
	}
	return logger.Sugar(), closeFn, nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// Nop is a logger that discards everything.
func Nop() *zap.SugaredLogger { return zap.NewNop().Sugar() }
