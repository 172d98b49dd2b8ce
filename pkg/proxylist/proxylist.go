// Package proxylist rotates through the configured forwarding proxies. Only the rotation
// cursor is persisted; the list itself comes from configuration.
package proxylist

import (
	"encoding/json"
	"fmt"

	"github.com/op/go-logging"

	"torvpn/pkg/model"
	"torvpn/pkg/store"
)

var log = logging.MustGetLogger("proxylist")

// StateDoc holds the persisted cursor.
const StateDoc = "proxy_state.json"

type state struct {
	Cursor int `json:"cursor"`
}

// Manager tracks the current position in a proxy list.
type Manager struct {
	list   []model.ProxyHop
	cursor int
}

// Load restores the cursor from s. A missing or unreadable document starts at 0.
func Load(s store.DocStore, list []model.ProxyHop) (*Manager, error) {
	b, err := s.Load(StateDoc)
	if err != nil {
		return nil, fmt.Errorf("load proxy state: %w", err)
	}
	m := &Manager{list: list}
	if len(b) > 0 {
		var st state
		if err := json.Unmarshal(b, &st); err != nil {
			log.Warningf("proxy state corrupt, restarting rotation: %v", err)
		} else {
			m.cursor = st.Cursor
		}
	}
	m.normalize()
	return m, nil
}

// Current returns the proxy at the cursor. ok is false for an empty list.
func (m *Manager) Current() (model.ProxyHop, bool) {
	if len(m.list) == 0 {
		return model.ProxyHop{}, false
	}
	return m.list[m.cursor], true
}

// Next advances the cursor, wrapping at the end of the list.
func (m *Manager) Next() {
	if len(m.list) == 0 {
		return
	}
	m.cursor = (m.cursor + 1) % len(m.list)
}

// Cursor returns the current position.
func (m *Manager) Cursor() int { return m.cursor }

// Save persists the cursor.
func (m *Manager) Save(s store.DocStore) error {
	return s.Update(StateDoc, func([]byte) ([]byte, error) {
		return json.Marshal(state{Cursor: m.cursor})
	})
}

func (m *Manager) normalize() {
	if len(m.list) == 0 || m.cursor < 0 {
		m.cursor = 0
		return
	}
	m.cursor %= len(m.list)
}
