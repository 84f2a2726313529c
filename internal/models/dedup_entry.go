package models

import "time"

// DedupEntry maps a message content fingerprint to the trigger it produced.
// While an entry is live (TriggeredAt + TTL in the future) no second trigger
// may fire for an equivalent message. Entries expire lazily on lookup.
type DedupEntry struct {
	Fingerprint string `gorm:"primaryKey;size:64"`
	AgentID     string `gorm:"size:64;index"`
	MessageID   uint
	ExecutionID string `gorm:"size:64"`
	TriggeredAt time.Time
	TTLSeconds  int
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *DedupEntry) Expired(now time.Time) bool {
	return now.After(e.TriggeredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}
