package domain

import "time"

type CommandRecord struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"client_id"`
	Route      string        `json:"route"`
	Text       string        `json:"text"`
	Kind       CommandKind   `json:"kind"`
	Code       int           `json:"code"`
	CacheHit   bool          `json:"cache_hit"`
	Duration   time.Duration `json:"duration_ns"`
	ReceivedAt time.Time     `json:"received_at"`
}
