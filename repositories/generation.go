package repositories

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rl337/authface/models"
)

// GenerationClock hands out strictly increasing generation markers based on
// Unix microseconds, which stay exact when stored as a float64 score. If the
// wall clock has not advanced past the previous marker, the previous marker
// plus one is used instead.
type GenerationClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewGenerationClock creates a clock. A nil now uses time.Now.
func NewGenerationClock(now func() time.Time) *GenerationClock {
	if now == nil {
		now = time.Now
	}
	return &GenerationClock{now: now}
}

// Next returns the next marker
func (c *GenerationClock) Next() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMicro()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Observe raises the clock so later markers exceed marker. Stores call it
// with markers found in the backend, so a restarted process keeps ordering.
func (c *GenerationClock) Observe(marker int64) {
	for {
		prev := c.last.Load()
		if marker <= prev || c.last.CompareAndSwap(prev, marker) {
			return
		}
	}
}

// Now returns the current time from the clock's source
func (c *GenerationClock) Now() time.Time {
	return c.now()
}

// EncodeSnapshot serializes a snapshot into its persisted JSON form
func EncodeSnapshot(snapshot models.Snapshot) ([]byte, error) {
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a persisted snapshot. Entries without an identity are
// dropped.
func DecodeSnapshot(data []byte) (models.Snapshot, error) {
	snapshot := models.Snapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	for handle, identity := range snapshot {
		if identity == nil {
			delete(snapshot, handle)
		}
	}
	return snapshot, nil
}
