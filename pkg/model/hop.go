package model

// HopItem is one segment of the configured hop sequence.
type HopItem struct {
	Duration      string    `json:"duration" mapstructure:"duration"` // e.g. "15m"
	ExitCountries []string  `json:"exit_countries" mapstructure:"exit_countries"`
	Proxy         *ProxyHop `json:"proxy" mapstructure:"proxy"`
}

// HopState is the scheduler-published position in the hop plan (hop_state.json).
// It is read-only from the daemon's point of view.
type HopState struct {
	Order       []int `json:"order"`
	Randomized  bool  `json:"randomized"`
	Idx         int   `json:"idx"`
	NextEpochMs int64 `json:"next_epoch_ms"`
}

// UpcomingHop is a hop item annotated with its index in the configured sequence.
type UpcomingHop struct {
	Index         int       `json:"index"`
	Duration      string    `json:"duration"`
	ExitCountries []string  `json:"exit_countries"`
	Proxy         *ProxyHop `json:"proxy"`
}
