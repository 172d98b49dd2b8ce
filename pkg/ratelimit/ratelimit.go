// Package ratelimit implements the persisted per-peer burst and window limiter used by the
// status endpoint when it is exposed beyond loopback.
package ratelimit

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/op/go-logging"

	"torvpn/pkg/model"
	"torvpn/pkg/store"
)

var log = logging.MustGetLogger("ratelimit")

// ErrRateLimited is returned by Check when the peer exceeded a limit.
var ErrRateLimited = errors.New("rate limited")

const (
	BurstGap    = time.Second
	Window      = time.Minute
	MaxBurst    = 5
	MaxInWindow = 120
)

// Limiter keeps one model.RateLimitEntry per peer IP in store.RateLimitDoc.
type Limiter struct {
	store store.DocStore
	now   func() time.Time
}

func New(s store.DocStore) *Limiter {
	return &Limiter{store: s, now: time.Now}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check records a request from peer and returns ErrRateLimited when it exceeds either
// limit. The updated entry is persisted before Check returns, including for rejected
// requests.
func (l *Limiter) Check(peer string) error {
	ip := PeerIP(peer)
	allowed := true
	err := l.store.Update(store.RateLimitDoc, func(cur []byte) ([]byte, error) {
		entries := decode(cur)
		prev, known := entries[ip]
		next, ok := Step(prev, known, l.now().UnixMilli())
		entries[ip] = next
		allowed = ok
		return json.MarshalIndent(entries, "", "  ")
	})
	if err != nil {
		return err
	}
	if !allowed {
		log.Infof("rate limited %s", ip)
		return ErrRateLimited
	}
	return nil
}

// Step advances one entry at nowMs. known is false for a peer seen for the first time,
// whose window starts now.
func Step(e model.RateLimitEntry, known bool, nowMs int64) (model.RateLimitEntry, bool) {
	if !known {
		e.WindowStartMs = nowMs
	}
	burst := e.Burst + 1
	if nowMs-e.LastMs > BurstGap.Milliseconds() {
		burst = 0
	}
	win, count := e.WindowStartMs, e.WindowCount
	if nowMs-win > Window.Milliseconds() {
		win, count = nowMs, 0
	}
	count++
	next := model.RateLimitEntry{LastMs: nowMs, Burst: burst, WindowStartMs: win, WindowCount: count}
	return next, burst <= MaxBurst && count <= MaxInWindow
}

// PeerIP strips the port from a remote address.
func PeerIP(peer string) string {
	if host, _, err := net.SplitHostPort(peer); err == nil {
		return host
	}
	return peer
}

func decode(b []byte) map[string]model.RateLimitEntry {
	entries := map[string]model.RateLimitEntry{}
	if len(b) == 0 {
		return entries
	}
	if err := json.Unmarshal(b, &entries); err != nil || entries == nil {
		log.Debugf("rate limit state unreadable, starting empty: %v", err)
		return map[string]model.RateLimitEntry{}
	}
	return entries
}
