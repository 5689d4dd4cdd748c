package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiv248/quillsync/pkg/audit"
	"github.com/shiv248/quillsync/pkg/config"
)

var auditReplayCmd = &cobra.Command{
	Use:   "audit-replay <file-id>",
	Short: "print a document's logged operations in applied order",
	Long:  "audit-replay reads the sqlite audit log and prints every operation recorded for a file, in logical-clock order — a diagnostic aid for reconstructing what happened to a document beyond its last saved snapshot.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditReplay,
}

func init() {
	defaults := config.Default()
	auditReplayCmd.Flags().StringVar(&flagAuditDB, "audit-db", defaults.AuditDB, "sqlite file for the operation audit log")
	rootCmd.AddCommand(auditReplayCmd)
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	log, err := audit.Open(flagAuditDB)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer log.Close()

	ops, err := log.Replay(fileID)
	if err != nil {
		return fmt.Errorf("replay %s: %w", fileID, err)
	}

	for _, op := range ops {
		fmt.Fprintf(os.Stdout, "clock=%d author=%d kind=%s position=%d length=%d payload=%q\n",
			op.LogicalClock, op.Author, op.Kind, op.Position, op.Length, op.Payload)
	}
	return nil
}
