package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	mu      sync.Mutex
	index   uint64
	values  map[string][]byte
	indexes map[string]uint64
	casMiss int
}

// waitPast emulates a blocking query: it holds the request until the index moves past idx
// or a short timeout elapses.
func (f *fakeKV) waitPast(idx uint64) {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		moved := f.index > idx
		f.mu.Unlock()
		if moved {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if idx, _ := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64); idx > 0 && r.Method == http.MethodGet {
		f.waitPast(idx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
	w.Header().Set("X-Consul-Index", strconv.FormatUint(f.index, 10))
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	switch r.Method {
	case http.MethodGet:
		v, ok := f.values[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{{
			"Key": key, "Value": v, "ModifyIndex": f.indexes[key], "CreateIndex": f.indexes[key],
		}})
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if cas := r.URL.Query().Get("cas"); cas != "" {
			want, _ := strconv.ParseUint(cas, 10, 64)
			if f.casMiss > 0 || f.indexes[key] != want {
				if f.casMiss > 0 {
					f.casMiss--
				}
				_, _ = io.WriteString(w, "false")
				return
			}
		}
		f.index++
		f.values[key] = body
		f.indexes[key] = f.index
		_, _ = io.WriteString(w, "true")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newConsulStore(t *testing.T) (*ConsulStore, *fakeKV) {
	t.Helper()
	fake := &fakeKV{index: 1, values: map[string][]byte{}, indexes: map[string]uint64{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewConsulStore(strings.TrimPrefix(srv.URL, "http://"), "torvpn/state/")
	require.NoError(t, err)
	return s, fake
}

func TestConsulStoreLoadMissing(t *testing.T) {
	s, _ := newConsulStore(t)
	b, err := s.Load(HopStateDoc)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestConsulStoreUpdateRoundTrip(t *testing.T) {
	s, fake := newConsulStore(t)
	require.NoError(t, s.Update(RateLimitDoc, increment))
	require.NoError(t, s.Update(RateLimitDoc, increment))

	b, err := s.Load(RateLimitDoc)
	require.NoError(t, err)
	assert.Equal(t, "2", string(b))
	assert.Contains(t, fake.values, "torvpn/state/"+RateLimitDoc)
}

func TestConsulStoreRetriesOnConflict(t *testing.T) {
	s, fake := newConsulStore(t)
	fake.casMiss = 3
	calls := 0
	require.NoError(t, s.Update("doc", func(cur []byte) ([]byte, error) {
		calls++
		return increment(cur)
	}))
	assert.Equal(t, 4, calls)

	fake.casMiss = casAttempts
	assert.ErrorIs(t, s.Update("doc", increment), ErrConflict)
}

func TestConsulStoreWatch(t *testing.T) {
	s, _ := newConsulStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Watch(ctx, HopStateDoc, func(b []byte) { changes <- string(b) })
	}()

	next := func() string {
		select {
		case v := <-changes:
			return v
		case <-time.After(5 * time.Second):
			t.Fatal("no change observed")
			return ""
		}
	}

	require.NoError(t, s.Update(HopStateDoc, increment))
	assert.Equal(t, "1", next())
	require.NoError(t, s.Update(HopStateDoc, increment))
	assert.Equal(t, "2", next())

	// writes to other documents do not trigger the watch
	require.NoError(t, s.Update(RateLimitDoc, increment))
	select {
	case v := <-changes:
		t.Fatalf("unexpected change %q", v)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
