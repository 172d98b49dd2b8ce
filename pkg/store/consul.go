package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

const (
	casAttempts = 16
	watchWait   = 5 * time.Minute
)

// ErrConflict is returned when a consul check-and-set keeps losing to other writers.
var ErrConflict = errors.New("store: too many concurrent writers")

// ConsulStore keeps each document as a KV pair under a prefix. Update uses check-and-set
// on ModifyIndex, so writers on different hosts do not lose updates either.
type ConsulStore struct {
	kv     *consulapi.KV
	prefix string
}

func NewConsulStore(addr, prefix string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulStore{kv: cli.KV(), prefix: prefix}, nil
}

func (s *ConsulStore) key(name string) string { return s.prefix + name }

func (s *ConsulStore) Load(name string) ([]byte, error) {
	pair, _, err := s.kv.Get(s.key(name), nil)
	if err != nil {
		return nil, fmt.Errorf("consul get %s: %w", s.key(name), err)
	}
	if pair == nil {
		return nil, nil
	}
	return pair.Value, nil
}

func (s *ConsulStore) Update(name string, fn func(cur []byte) ([]byte, error)) error {
	key := s.key(name)
	for attempt := 0; attempt < casAttempts; attempt++ {
		pair, _, err := s.kv.Get(key, nil)
		if err != nil {
			return fmt.Errorf("consul get %s: %w", key, err)
		}
		var cur []byte
		var index uint64
		if pair != nil {
			cur, index = pair.Value, pair.ModifyIndex
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		ok, _, err := s.kv.CAS(&consulapi.KVPair{Key: key, Value: next, ModifyIndex: index}, nil)
		if err != nil {
			return fmt.Errorf("consul cas %s: %w", key, err)
		}
		if ok {
			return nil
		}
		log.Debugf("consul cas conflict on %s (attempt %d)", key, attempt+1)
	}
	return ErrConflict
}

// Watch follows a document with blocking queries and calls onChange with its contents
// each time it is written. It returns when ctx is done.
func (s *ConsulStore) Watch(ctx context.Context, name string, onChange func([]byte)) {
	key := s.key(name)
	q := (&consulapi.QueryOptions{WaitTime: watchWait}).WithContext(ctx)
	var seen uint64
	for ctx.Err() == nil {
		pair, meta, err := s.kv.Get(key, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debugf("consul watch %s: %v", key, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// the index can go backwards after a snapshot restore
		if meta.LastIndex < q.WaitIndex {
			q.WaitIndex = 0
		} else {
			q.WaitIndex = meta.LastIndex
		}
		if pair != nil && pair.ModifyIndex != seen {
			seen = pair.ModifyIndex
			onChange(pair.Value)
		}
	}
}
