package record

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/karatag/satsweep/probe"
)

// SQLite indexes the outcome stream in a local database for ad hoc querying
// after a run. It is an optional sink alongside the file captures.
type SQLite struct {
	db   *sql.DB
	stmt *sql.Stmt
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	// WAL keeps the single-writer drain from contending with readers
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")

	schema := `
    CREATE TABLE IF NOT EXISTS probe_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL,
        target TEXT NOT NULL,
        group_label TEXT NOT NULL DEFAULT '',
        probe_type TEXT NOT NULL,
        rtt_ms REAL,
        status TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_target_timestamp ON probe_results(target, timestamp);
    CREATE INDEX IF NOT EXISTS idx_group ON probe_results(group_label);
    `
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema creation failed: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO probe_results
        (timestamp, target, group_label, probe_type, rtt_ms, status)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, stmt: stmt}, nil
}

func (s *SQLite) Write(o probe.Outcome) error {
	var rtt interface{}
	if o.RTTValid() {
		rtt = o.RTT
	}
	_, err := s.stmt.Exec(o.Timestamp, o.Target, string(o.Group), o.Type.String(), rtt, o.Status.String())
	return err
}

func (s *SQLite) Close() error {
	s.stmt.Close()
	return s.db.Close()
}

// Count reports rows per status for one target, mostly for sanity queries.
func (s *SQLite) Count(targetID string) (total, successes int, err error) {
	err = s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(status = 'success'), 0) FROM probe_results WHERE target = ?`,
		targetID,
	).Scan(&total, &successes)
	return
}
