package storage

import (
	"context"
	"sync"

	"github.com/example/driver-console-sync/internal/models"
)

// Journal records applied job status transitions.
type Journal interface {
	Append(ctx context.Context, t models.Transition) error
	ForJob(ctx context.Context, jobID models.ID) ([]models.Transition, error)
}

type MemoryJournal struct {
	mu   sync.RWMutex
	byID map[models.ID][]models.Transition
	n    int
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byID: make(map[models.ID][]models.Transition)}
}

func (m *MemoryJournal) Append(_ context.Context, t models.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.JobID] = append(m.byID[t.JobID], t)
	m.n++
	return nil
}

func (m *MemoryJournal) ForJob(_ context.Context, jobID models.ID) ([]models.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Transition(nil), m.byID[jobID]...), nil
}

func (m *MemoryJournal) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.n
}
