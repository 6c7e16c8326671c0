package regime

import (
	"sync"
	"time"
)

// DispositionChange is a transition between consecutive assessments
type DispositionChange struct {
	Timestamp time.Time   `json:"timestamp"`
	From      Disposition `json:"from"`
	To        Disposition `json:"to"`
	Score     int         `json:"score"`
}

// Tracker remembers the last assessment and the disposition changes seen
// across runs. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	last    *Assessment
	changes []DispositionChange
	limit   int
}

// NewTracker keeps at most limit changes; limit <= 0 keeps 100
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 100
	}
	return &Tracker{limit: limit}
}

// Observe records a and returns the change it caused, or nil. Assessments
// older than the last one are ignored.
func (t *Tracker) Observe(a *Assessment) *DispositionChange {
	if a == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last != nil && a.AsOf.Before(t.last.AsOf) {
		return nil
	}
	var change *DispositionChange
	if t.last != nil && t.last.Disposition != a.Disposition {
		change = &DispositionChange{
			Timestamp: a.AsOf,
			From:      t.last.Disposition,
			To:        a.Disposition,
			Score:     a.TotalScore,
		}
		t.changes = append(t.changes, *change)
		if len(t.changes) > t.limit {
			t.changes = t.changes[len(t.changes)-t.limit:]
		}
	}
	t.last = a
	return change
}

// History returns the recorded changes, oldest first
func (t *Tracker) History() []DispositionChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]DispositionChange(nil), t.changes...)
}

// Last returns the most recent assessment, if any
func (t *Tracker) Last() *Assessment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
