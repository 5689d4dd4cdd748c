// Package logger provides the process-wide structured logger. It keeps the
// teacher's printf-style call sites (Debug/Info/Warn/Error) but backs them
// with zap's tee'd console+file core instead of a bare log.Printf gate,
// matching the logging stack used elsewhere in the reference corpus
// (zfogg-sidechain/backend/internal/logger).
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *zap.SugaredLogger

// Options configures Init.
type Options struct {
	Level string // debug, info, warn, error (default info)
	File  string // rotated log file path (default quillsync.log)
}

// Init builds the global logger. Safe to call once at process startup;
// if it has not been called, the first log call below runs Init with
// default Options (info level, quillsync.log).
func Init(opts Options) {
	level := parseLevel(opts.Level)
	file := opts.File
	if file == "" {
		file = "quillsync.log"
	}

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	})

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	jsonEncoderConfig := zap.NewProductionEncoderConfig()
	jsonEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(jsonEncoderConfig)

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(jsonEncoder, fileWriter, level),
	)

	log = zap.New(core, zap.AddCaller()).Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries; call during graceful shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func ensure() {
	if log == nil {
		Init(Options{})
	}
}

// Debug logs at debug level.
func Debug(format string, v ...interface{}) {
	ensure()
	log.Debugf(format, v...)
}

// Info logs at info level.
func Info(format string, v ...interface{}) {
	ensure()
	log.Infof(format, v...)
}

// Warn logs at warn level.
func Warn(format string, v ...interface{}) {
	ensure()
	log.Warnf(format, v...)
}

// Error logs at error level.
func Error(format string, v ...interface{}) {
	ensure()
	log.Errorf(format, v...)
}
