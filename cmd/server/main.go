package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiv248/quillsync/internal/protocol"
	"github.com/shiv248/quillsync/pkg/audit"
	"github.com/shiv248/quillsync/pkg/config"
	"github.com/shiv248/quillsync/pkg/docstore"
	"github.com/shiv248/quillsync/pkg/document"
	"github.com/shiv248/quillsync/pkg/logger"
	"github.com/shiv248/quillsync/pkg/metrics"
	"github.com/shiv248/quillsync/pkg/session"
	"github.com/shiv248/quillsync/pkg/userstore"
)

var (
	flagPort           int
	flagDocumentsDir   string
	flagAuditDB        string
	flagUsersFile      string
	flagLogLevel       string
	flagLogFile        string
	flagMetricsPort    int
	flagAnonymousAuth  bool
)

var rootCmd = &cobra.Command{
	Use:   "quillsync",
	Short: "quillsync collaboration server",
	Long:  "quillsync is a line-framed TCP server for concurrent collaborative text editing.",
	RunE:  runServer,
}

func init() {
	defaults := config.Default()
	rootCmd.Flags().IntVar(&flagPort, "port", defaults.Port, "TCP port for the collaboration protocol")
	rootCmd.Flags().StringVar(&flagDocumentsDir, "documents-dir", defaults.DocumentsDir, "directory documents are persisted under")
	rootCmd.Flags().StringVar(&flagAuditDB, "audit-db", defaults.AuditDB, "sqlite file for the operation audit log")
	rootCmd.Flags().StringVar(&flagUsersFile, "users-file", "users.txt", "flat file backing the credential store")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "debug, info, warn, or error")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", defaults.LogFile, "rotated log sink path")
	rootCmd.Flags().IntVar(&flagMetricsPort, "metrics-port", defaults.MetricsPort, "HTTP port for the Prometheus /metrics endpoint")
	rootCmd.Flags().BoolVar(&flagAnonymousAuth, "anonymous-auth", defaults.AnonymousAuth, "allow CONNECT without credentials")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	// Flags, when explicitly set, take precedence over env/.env (teacher's
	// env-first Config promoted with a flag layer on top).
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("documents-dir") {
		cfg.DocumentsDir = flagDocumentsDir
	}
	if cmd.Flags().Changed("audit-db") {
		cfg.AuditDB = flagAuditDB
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = flagLogFile
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.MetricsPort = flagMetricsPort
	}
	if cmd.Flags().Changed("anonymous-auth") {
		cfg.AnonymousAuth = flagAnonymousAuth
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	logger.Info("quillsync: starting, port=%d documents_dir=%s", cfg.Port, cfg.DocumentsDir)

	users, err := userstore.Open(flagUsersFile, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}

	docs, err := docstore.New(cfg.DocumentsDir, cfg.MaxFileSize)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	router := session.New(session.Options{
		Users: users,
		Docs:  docs,
		Audit: auditLog,
		DocumentConfig: document.Config{
			HistoryCapacity:       cfg.HistoryDepth,
			TransformWindowInsert: cfg.TransformWindowInsert,
			TransformWindowDelete: cfg.TransformWindowDelete,
		},
		Limits:         limitsFromConfig(cfg),
		ReadTimeout:    cfg.SocketReadTimeout,
		MaxConnections: cfg.MaxConnections,
		AnonymousAuth:  cfg.AnonymousAuth,
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	go func() {
		logger.Info("quillsync: metrics listening on :%d/metrics", cfg.MetricsPort)
		if err := metrics.Serve(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
			logger.Error("metrics server: %v", err)
		}
	}()

	autoSaveStop := make(chan struct{})
	autoSaveDone := make(chan struct{})
	go func() {
		router.RunAutoSave(cfg.AutoSaveInterval, autoSaveStop)
		close(autoSaveDone)
	}()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- router.Accept(ln) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("quillsync: shutting down")
	case err := <-acceptErr:
		logger.Error("quillsync: accept loop exited: %v", err)
	}

	_ = ln.Close()
	router.AutoSaveAll()
	close(autoSaveStop)

	select {
	case <-autoSaveDone:
	case <-time.After(5 * time.Second):
		logger.Warn("quillsync: auto-save scheduler did not stop within 5s deadline")
	}

	return nil
}

func limitsFromConfig(cfg config.Config) protocol.Limits {
	return protocol.Limits{MaxFrameBytes: protocol.DefaultMaxFrameBytes, MaxInsertLen: cfg.MaxInsertLen}
}
