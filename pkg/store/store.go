// Package store keeps the small JSON documents shared between requests (rate limits,
// hop plan). Documents are read and written whole; every read-modify-write goes through
// Update, which serializes writers of the same document.
package store

import (
	"context"
	"fmt"

	"github.com/op/go-logging"

	"torvpn/pkg/config"
)

var log = logging.MustGetLogger("store")

// Document names.
const (
	RateLimitDoc = "rate_limit.json"
	HopStateDoc  = "hop_state.json"
)

// DocStore is a whole-document key-value store.
type DocStore interface {
	// Load returns the document, or nil with no error when it does not exist.
	Load(name string) ([]byte, error)
	// Update passes the current document (nil when missing) to fn and stores the result.
	// No other Update of the same document runs concurrently with fn.
	Update(name string, fn func(cur []byte) ([]byte, error)) error
}

// Watcher is implemented by backends that can push document changes.
type Watcher interface {
	Watch(ctx context.Context, name string, onChange func([]byte))
}

// Open builds the backend selected in cfg.
func Open(cfg config.StoreConfig, stateDir string) (DocStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(stateDir), nil
	case "consul":
		return NewConsulStore(cfg.ConsulAddr, cfg.ConsulPrefix)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
