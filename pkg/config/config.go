// Package config assembles the server's Config from environment variables
// (optionally loaded from a .env file via godotenv), following the
// teacher's env-first getEnv/getEnvInt pattern but promoted to one typed
// struct assembled once at startup.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option from spec.md §6 plus the
// SPEC_FULL.md additions.
type Config struct {
	Port                int
	MaxConnections      int
	DocumentsDir         string
	MaxFileSize          int
	MaxInsertLen         int
	HistoryDepth         int
	TransformWindowInsert int
	TransformWindowDelete int
	AutoSaveInterval     time.Duration
	SocketReadTimeout    time.Duration

	MetricsPort   int
	LogLevel      string
	LogFile       string
	AuditDB       string
	BcryptCost    int
	AnonymousAuth bool
}

// Default mirrors spec.md §6's defaults plus SPEC_FULL.md's additions.
func Default() Config {
	return Config{
		Port:                  8080,
		MaxConnections:        100,
		DocumentsDir:          "documents/",
		MaxFileSize:           10 * 1024 * 1024,
		MaxInsertLen:          10000,
		HistoryDepth:          100,
		TransformWindowInsert: 3,
		TransformWindowDelete: 20,
		AutoSaveInterval:      30 * time.Second,
		SocketReadTimeout:     5 * time.Second,

		MetricsPort:   9090,
		LogLevel:      "info",
		LogFile:       "quillsync.log",
		AuditDB:       "quillsync-audit.db",
		BcryptCost:    10,
		AnonymousAuth: false,
	}
}

// Load reads a .env file (if present, ignored if not) and then overlays
// environment variables onto Default().
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.Port = envInt("PORT", cfg.Port)
	cfg.MaxConnections = envInt("MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.DocumentsDir = envString("DOCUMENTS_DIR", cfg.DocumentsDir)
	cfg.MaxFileSize = envInt("MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.MaxInsertLen = envInt("MAX_INSERT_LEN", cfg.MaxInsertLen)
	cfg.HistoryDepth = envInt("HISTORY_DEPTH", cfg.HistoryDepth)
	cfg.TransformWindowInsert = envInt("TRANSFORM_WINDOW_INSERT", cfg.TransformWindowInsert)
	cfg.TransformWindowDelete = envInt("TRANSFORM_WINDOW_DELETE", cfg.TransformWindowDelete)
	cfg.AutoSaveInterval = envDurationMillis("AUTO_SAVE_INTERVAL_MS", cfg.AutoSaveInterval)
	cfg.SocketReadTimeout = envDurationMillis("SOCKET_READ_TIMEOUT_MS", cfg.SocketReadTimeout)

	cfg.MetricsPort = envInt("METRICS_PORT", cfg.MetricsPort)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.AuditDB = envString("AUDIT_DB", cfg.AuditDB)
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.AnonymousAuth = envBool("ANONYMOUS_AUTH", cfg.AnonymousAuth)

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return fallback
}
