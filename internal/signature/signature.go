// Package signature implements the durable thought-signature cache: a hot
// in-memory map backed by append-only per-day JSONL logs on disk, with a
// bounded LRU index and migration-on-read so entries survive process
// restarts within a retention window.
package signature

import (
	"time"
)

// FallbackSignature is returned when the index knows an entry exists but its
// on-disk payload cannot be read. Retained bit-compatible with upstream
// expectations regardless of whether the bypass is actually honoured.
const FallbackSignature = "context_engineering_is_the_way_to_go"

// Entry is one cached signature/reasoning pair, identified by
// (RequestID, ToolCallID).
type Entry struct {
	Signature   string
	Reasoning   string
	RequestID   string
	ToolCallID  string
	IsImageKey  bool
	Model       string
	CreatedAt   time.Time
	LastAccess  time.Time
}

func key(requestID, toolCallID string) string {
	return requestID + ":" + toolCallID
}

// indexRecord is what's persisted per-line in a date's .idx file and held in
// the bounded LRU index cache.
type indexRecord struct {
	Date       string
	RequestID  string
	ToolCallID string
	Offset     int64
	Length     int
	CreatedAt  time.Time
	LastAccess time.Time
}
