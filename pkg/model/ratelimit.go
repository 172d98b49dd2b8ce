package model

// RateLimitEntry is the persisted per-IP limiter state in rate_limit.json.
type RateLimitEntry struct {
	LastMs        int64 `json:"last_ms"`
	Burst         int   `json:"burst"`
	WindowStartMs int64 `json:"win_ms"`
	WindowCount   int   `json:"count"`
}
