// Package audit implements the agent runtime's plugin audit log: an
// append-only record of plugin load/enable/disable/unload transitions,
// independent of dispatch state. It is a trail of manager actions, never
// read back to reconstruct timers or queued events.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/fenmoor/agentcore/plugin"
)

// Record is one row of the audit log.
type Record struct {
	PluginID   string
	Transition string
	Detail     string
	Timestamp  time.Time
}

// Sink is the plugin.AuditSink the manager writes to, plus the ability
// to read the trail back out and close the underlying connection.
type Sink interface {
	plugin.AuditSink
	Records(limit int) ([]Record, error)
	Close() error
}

// New opens the sqlite-backed sink at path, or returns a no-op sink if
// path is empty (the AUDIT_DB configuration key unset).
func New(path string) (Sink, error) {
	if path == "" {
		return noopSink{}, nil
	}
	return openSQLite(path)
}

type noopSink struct{}

func (noopSink) Record(string, string, string) {}
func (noopSink) Records(int) ([]Record, error) { return nil, nil }
func (noopSink) Close() error                  { return nil }

type sqliteSink struct {
	db     *sql.DB
	insert *sql.Stmt
}

func openSQLite(path string) (Sink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS plugin_audit (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			plugin_id   TEXT NOT NULL,
			transition  TEXT NOT NULL,
			detail      TEXT,
			timestamp   DATETIME NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating table: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO plugin_audit (plugin_id, transition, detail, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: preparing insert: %w", err)
	}

	return &sqliteSink{db: db, insert: stmt}, nil
}

// Record inserts one transition row. It satisfies plugin.AuditSink,
// whose signature has no error return, so a write failure is reported
// to stderr via the standard logger rather than surfaced to the caller -
// a plugin transition must never fail because its audit trail couldn't
// be written.
func (s *sqliteSink) Record(pluginID, transition, detail string) {
	_, err := s.insert.Exec(pluginID, transition, detail, time.Now().UTC())
	if err != nil {
		log.Printf("audit: failed to record %s %s: %v", pluginID, transition, err)
	}
}

// Records returns the most recent limit rows, newest first. limit <= 0
// means no limit.
func (s *sqliteSink) Records(limit int) ([]Record, error) {
	query := `SELECT plugin_id, transition, detail, timestamp FROM plugin_audit ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("audit: querying records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.PluginID, &r.Transition, &r.Detail, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteSink) Close() error {
	s.insert.Close()
	return s.db.Close()
}
