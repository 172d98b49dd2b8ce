// Package hopplan reads the hop-plan position published by the external scheduler and
// projects it onto the configured hop sequence.
package hopplan

import (
	"encoding/json"
	"time"

	"github.com/op/go-logging"

	"torvpn/pkg/model"
	"torvpn/pkg/store"
)

var log = logging.MustGetLogger("hopplan")

// Load reads store.HopStateDoc. A missing or unreadable document yields the zero state.
func Load(s store.DocStore) model.HopState {
	b, err := s.Load(store.HopStateDoc)
	if err != nil {
		log.Warningf("hop state unavailable: %v", err)
		return model.HopState{}
	}
	return Parse(b)
}

// Parse decodes hop_state.json field by field. Each missing or ill-typed field falls back
// to its zero value; order entries that are not non-negative integers are dropped.
func Parse(b []byte) model.HopState {
	var st model.HopState
	if len(b) == 0 {
		return st
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		log.Debugf("hop state corrupt, using defaults: %v", err)
		return st
	}
	var items []json.RawMessage
	if json.Unmarshal(fields["order"], &items) == nil {
		for _, it := range items {
			var v uint32
			if json.Unmarshal(it, &v) == nil {
				st.Order = append(st.Order, int(v))
			}
		}
	}
	_ = json.Unmarshal(fields["randomized"], &st.Randomized)
	var idx uint32
	if json.Unmarshal(fields["idx"], &idx) == nil {
		st.Idx = int(idx)
	}
	var next uint64
	if json.Unmarshal(fields["next_epoch_ms"], &next) == nil && next <= 1<<62 {
		st.NextEpochMs = int64(next)
	}
	return st
}

// SecondsRemaining returns whole seconds until NextEpochMs, or 0 once elapsed or unset.
func SecondsRemaining(st model.HopState, now time.Time) int64 {
	nowMs := now.UnixMilli()
	if st.NextEpochMs <= nowMs {
		return 0
	}
	return (st.NextEpochMs - nowMs) / 1000
}

// Upcoming lists the sequence items referenced by Order from Idx to the end. Indices that
// fall outside seq are skipped.
func Upcoming(st model.HopState, seq []model.HopItem) []model.UpcomingHop {
	out := []model.UpcomingHop{}
	if st.Idx >= len(st.Order) {
		return out
	}
	for _, i := range st.Order[st.Idx:] {
		if i >= len(seq) {
			continue
		}
		item := seq[i]
		out = append(out, model.UpcomingHop{
			Index:         i,
			Duration:      item.Duration,
			ExitCountries: item.ExitCountries,
			Proxy:         item.Proxy,
		})
	}
	return out
}

// Current returns the sequence item at idx, or nil.
func Current(idx int, seq []model.HopItem) *model.HopItem {
	if idx < 0 || idx >= len(seq) {
		return nil
	}
	item := seq[idx]
	return &item
}
