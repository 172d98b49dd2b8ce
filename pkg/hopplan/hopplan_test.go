package hopplan

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvpn/pkg/model"
	"torvpn/pkg/store"
)

var sequence = []model.HopItem{
	{Duration: "10m", ExitCountries: []string{"nl"}},
	{Duration: "5m", ExitCountries: []string{"se"}, Proxy: &model.ProxyHop{Type: "socks5", Addr: "198.51.100.1:1080"}},
	{Duration: "15m", ExitCountries: []string{"ch", "is"}},
}

func TestParseFull(t *testing.T) {
	st := Parse([]byte(`{"order":[2,0,1],"randomized":true,"idx":1,"next_epoch_ms":1700000030000}`))
	assert.Equal(t, model.HopState{Order: []int{2, 0, 1}, Randomized: true, Idx: 1, NextEpochMs: 1700000030000}, st)
}

func TestParseDefaults(t *testing.T) {
	for _, raw := range []string{
		``,
		`{not json`,
		`[]`,
		`{}`,
		`{"order":"x","randomized":"yes","idx":-3,"next_epoch_ms":"soon"}`,
	} {
		st := Parse([]byte(raw))
		assert.Empty(t, st.Order, raw)
		assert.False(t, st.Randomized, raw)
		assert.Zero(t, st.Idx, raw)
		assert.Zero(t, st.NextEpochMs, raw)
	}
}

func TestParseSkipsBadOrderEntries(t *testing.T) {
	st := Parse([]byte(`{"order":[1,-1,"2",2.5,0],"idx":1}`))
	assert.Equal(t, []int{1, 0}, st.Order)
	assert.Equal(t, 1, st.Idx)
}

func TestLoadFromStore(t *testing.T) {
	fs := store.NewFileStore(t.TempDir())
	assert.Equal(t, model.HopState{}, Load(fs))

	require.NoError(t, os.WriteFile(fs.Path(store.HopStateDoc), []byte(`{"idx":2}`), 0o644))
	assert.Equal(t, 2, Load(fs).Idx)
}

func TestSecondsRemaining(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	assert.Equal(t, int64(30), SecondsRemaining(model.HopState{NextEpochMs: now.UnixMilli() + 30_000}, now))
	assert.Equal(t, int64(29), SecondsRemaining(model.HopState{NextEpochMs: now.UnixMilli() + 29_999}, now))
	assert.Zero(t, SecondsRemaining(model.HopState{NextEpochMs: now.UnixMilli() - 1}, now))
	assert.Zero(t, SecondsRemaining(model.HopState{}, now))
}

func TestUpcoming(t *testing.T) {
	st := model.HopState{Order: []int{2, 0, 1}, Idx: 1}
	up := Upcoming(st, sequence)
	require.Len(t, up, 2)
	assert.Equal(t, 0, up[0].Index)
	assert.Equal(t, "10m", up[0].Duration)
	assert.Equal(t, 1, up[1].Index)
	assert.Equal(t, "198.51.100.1:1080", up[1].Proxy.Addr)

	assert.Empty(t, Upcoming(model.HopState{Order: []int{0}, Idx: 1}, sequence))
	assert.Empty(t, Upcoming(model.HopState{}, sequence))
	assert.Len(t, Upcoming(model.HopState{Order: []int{7, 2}}, sequence), 1)
}

func TestCurrent(t *testing.T) {
	assert.Equal(t, "15m", Current(2, sequence).Duration)
	assert.Nil(t, Current(3, sequence))
	assert.Nil(t, Current(0, nil))
	for i := range sequence {
		assert.NotNil(t, Current(i, sequence), fmt.Sprint(i))
	}
}
