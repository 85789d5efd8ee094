package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured and
// by unit tests.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[uint64]Job
	nextID uint64
}

// NewMemoryStore builds an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uint64]Job), nextID: 1}
}

func cloneJob(j Job) Job {
	out := j
	out.Milestones = make([]Milestone, len(j.Milestones))
	copy(out.Milestones, j.Milestones)
	return out
}

func (m *MemoryStore) CreateJob(_ context.Context, j Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	m.jobs[j.ID] = cloneJob(j)
	return j, nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uint64) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, j Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return Job{}, ErrNotFound
	}
	j.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID] = cloneJob(j)
	return j, nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) ListByParty(_ context.Context, userID string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, 8)
	for _, j := range m.jobs {
		if j.Client == userID || j.Freelancer == userID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}
