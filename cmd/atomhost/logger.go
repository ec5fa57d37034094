package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/caffeineduck/atomhost/config"
)

// newLogger writes to w and, when lc.File is set, to a rotated log file.
// The console uses the console encoder; the file always gets JSON.
func newLogger(lc config.LogConfig, w io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if lc.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(lc.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	if lc.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level),
	}
	if lc.File != "" {
		rw := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB, // megabytes
			MaxAge:     lc.MaxAgeDays,
			MaxBackups: lc.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rw), level))
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(w))}
	if lc.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}
