package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"torvpn/pkg/model"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS audit(
	id TEXT PRIMARY KEY,
	actor TEXT,
	action TEXT,
	target TEXT,
	detail TEXT,
	outcomes TEXT,
	ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit(ts);`

// SQLite is a journal in a local sqlite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, e model.AuditEntry) error {
	outcomes, err := json.Marshal(e.Outcomes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit(id, actor, action, target, detail, outcomes, ts) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.Actor, e.Action, e.Target, e.Detail, string(outcomes), e.Timestamp.UnixMilli())
	return err
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, target, detail, outcomes, ts FROM audit ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e        model.AuditEntry
			outcomes string
			ts       int64
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.Detail, &outcomes, &ts); err != nil {
			return nil, err
		}
		if outcomes != "" && outcomes != "null" {
			if err := json.Unmarshal([]byte(outcomes), &e.Outcomes); err != nil {
				return nil, fmt.Errorf("decode outcomes of %s: %w", e.ID, err)
			}
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
