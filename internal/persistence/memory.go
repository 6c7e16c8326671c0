package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sawpanic/tradegate/internal/pipeline"
)

// MemoryDecisions is the DecisionRepo used when no database is configured.
// It keeps at most limit records, dropping the oldest.
type MemoryDecisions struct {
	mu    sync.RWMutex
	limit int
	byID  map[string]*pipeline.DecisionRecord
	order []string // insertion order, oldest first
}

// NewMemoryDecisions creates a bounded in-memory store
func NewMemoryDecisions(limit int) *MemoryDecisions {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryDecisions{limit: limit, byID: make(map[string]*pipeline.DecisionRecord)}
}

func (m *MemoryDecisions) Insert(_ context.Context, rec *pipeline.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[rec.ID]; ok {
		m.remove(rec.ID)
	}
	m.byID[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	for len(m.order) > m.limit {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryDecisions) remove(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *MemoryDecisions) Get(_ context.Context, id string) (*pipeline.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id], nil
}

func (m *MemoryDecisions) ListRecent(_ context.Context, ticker string, limit int) ([]*pipeline.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ticker = strings.ToUpper(ticker)
	var out []*pipeline.DecisionRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.byID[m.order[i]]
		if ticker != "" && rec.Ticker != ticker {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AsOf.After(out[j].AsOf) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
