// Package journal records an audit trail of control-plane operations and their per-step
// outcomes.
package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	"torvpn/pkg/config"
	"torvpn/pkg/model"
)

var log = logging.MustGetLogger("journal")

// SQLiteFile is the default sqlite database inside the state directory.
const SQLiteFile = "journal.db"

// Journal stores audit entries.
type Journal interface {
	Record(ctx context.Context, e model.AuditEntry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]model.AuditEntry, error)
	Close() error
}

// Open builds the journal selected by cfg.Driver.
func Open(cfg config.JournalConfig, stateDir string) (Journal, error) {
	switch cfg.Driver {
	case "none":
		return Nop{}, nil
	case "", "sqlite":
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(stateDir, SQLiteFile)
		}
		return OpenSQLite(path)
	case "mysql":
		return OpenMySQL(cfg.DSN)
	case "amqp":
		return OpenAMQP(cfg.DSN, cfg.Exchange)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
}

// NewEntry stamps an entry with a fresh id and the current time.
func NewEntry(actor, action, target string, outcomes []model.StepOutcome) model.AuditEntry {
	return model.AuditEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Outcomes:  outcomes,
		Timestamp: time.Now().UTC(),
	}
}

// RecordBestEffort writes e and logs instead of failing.
func RecordBestEffort(ctx context.Context, j Journal, e model.AuditEntry) {
	if j == nil {
		return
	}
	if err := j.Record(ctx, e); err != nil {
		log.Warningf("journal %s %s: %v", e.Action, e.ID, err)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, model.AuditEntry) error { return nil }

func (Nop) Recent(context.Context, int) ([]model.AuditEntry, error) { return nil, nil }

func (Nop) Close() error { return nil }
