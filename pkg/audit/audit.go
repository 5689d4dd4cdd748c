// Package audit appends every applied operation to a sqlite-backed log,
// independent of a Document's bounded in-memory history (spec.md §4.3). It
// keeps the sequence of applied operations, which the flat-file snapshot in
// pkg/docstore does not — that store only ever holds the latest snapshot.
// The server does not replay the log when it loads a document; the log is
// read back only through Replay.
// Grounded on the teacher's pkg/database (go-sqlite3 + embedded
// migrations), repurposed from whole-document snapshots to an append-only
// operation log.
package audit

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shiv248/quillsync/pkg/clock"
)

// Log wraps a sqlite connection holding the operation_log table.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path and runs migrations.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying connection.
func (l *Log) Close() error { return l.db.Close() }

// Append records one applied operation for fileID.
func (l *Log) Append(fileID string, op clock.Operation) error {
	_, err := l.db.Exec(
		`INSERT INTO operation_log
			(id, file_id, author, kind, position, payload, length, logical_clock, site_id, wall_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), fileID, op.Author, op.Kind.String(), op.Position, op.Payload, op.Length,
		op.LogicalClock, op.SiteID, op.WallTime,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Replay returns every logged operation for fileID in logical-clock order.
// The log is not truncated at save time, so the result includes operations
// already folded into the latest snapshot.
func (l *Log) Replay(fileID string) ([]clock.Operation, error) {
	rows, err := l.db.Query(
		`SELECT author, kind, position, payload, length, logical_clock, site_id, wall_time
		 FROM operation_log WHERE file_id = ? ORDER BY logical_clock ASC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var ops []clock.Operation
	for rows.Next() {
		var author uint64
		var kindStr string
		var position, length uint32
		var payload string
		var logicalClock uint64
		var siteID int32
		var wallTime uint64
		if err := rows.Scan(&author, &kindStr, &position, &payload, &length, &logicalClock, &siteID, &wallTime); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		kind := clock.Insert
		if kindStr == "DELETE" {
			kind = clock.Delete
		}
		ops = append(ops, clock.Operation{
			Kind: kind, Position: position, Payload: payload, Length: length,
			Author: author, LogicalClock: logicalClock, SiteID: siteID, WallTime: wallTime,
		})
	}
	return ops, rows.Err()
}
