package ingest

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Ledger remembers which source messages were turned into protocols.
type Ledger interface {
	Seen(messageID string) bool
	Mark(messageID string)
}

// DedupSet is a bounded Ledger. The least recently marked ids are evicted
// once capacity is reached, so capacity should be far larger than the fetch
// window.
type DedupSet struct {
	cache *lru.Cache[string, time.Time]
	now   func() time.Time
}

// NewDedupSet creates a DedupSet holding up to capacity ids.
func NewDedupSet(capacity int) (*DedupSet, error) {
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating dedup set: %w", err)
	}
	return &DedupSet{cache: cache, now: time.Now}, nil
}

// Seen reports whether messageID was marked. It does not refresh recency.
func (d *DedupSet) Seen(messageID string) bool {
	return d.cache.Contains(messageID)
}

// Mark records messageID as ingested.
func (d *DedupSet) Mark(messageID string) {
	d.cache.Add(messageID, d.now())
}

// MarkedAt returns when messageID was marked.
func (d *DedupSet) MarkedAt(messageID string) (time.Time, bool) {
	return d.cache.Peek(messageID)
}

// Len returns the number of remembered ids.
func (d *DedupSet) Len() int {
	return d.cache.Len()
}
