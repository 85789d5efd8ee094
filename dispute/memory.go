package dispute

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured and
// by unit tests.
type MemoryStore struct {
	mu          sync.Mutex
	disputes    map[uint64]Dispute
	evidence    []Evidence
	messages    []Message
	votes       []Vote
	arbitrators map[string]struct{}
	nextID      uint64
	nextChildID uint64
}

// NewMemoryStore builds an empty in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes:    make(map[uint64]Dispute),
		arbitrators: make(map[string]struct{}),
		nextID:      1,
		nextChildID: 1,
	}
}

func (m *MemoryStore) CreateDispute(_ context.Context, d Dispute) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.disputes[d.ID] = d
	return d, nil
}

func (m *MemoryStore) GetDispute(_ context.Context, id uint64) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) UpdateDispute(_ context.Context, d Dispute) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return Dispute{}, ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	m.disputes[d.ID] = d
	return d, nil
}

func (m *MemoryStore) AppendEvidence(_ context.Context, e Evidence) (Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextChildID
	m.nextChildID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.evidence = append(m.evidence, e)
	return e, nil
}

func (m *MemoryStore) ListEvidence(_ context.Context, disputeID uint64) ([]Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Evidence, 0, 4)
	for _, e := range m.evidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.nextChildID
	m.nextChildID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, disputeID uint64) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, 4)
	for _, msg := range m.messages {
		if msg.DisputeID == disputeID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendVote(_ context.Context, v Vote) (Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v.ID = m.nextChildID
	m.nextChildID++
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.votes = append(m.votes, v)
	return v, nil
}

func (m *MemoryStore) ListVotes(_ context.Context, disputeID uint64) ([]Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Vote, 0, 2)
	for _, v := range m.votes {
		if v.DisputeID == disputeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) AddArbitrator(_ context.Context, arbitratorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.arbitrators[arbitratorID]; exists {
		return ErrDuplicateArbitrator
	}
	m.arbitrators[arbitratorID] = struct{}{}
	return nil
}

func (m *MemoryStore) RemoveArbitrator(_ context.Context, arbitratorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.arbitrators[arbitratorID]; !exists {
		return ErrUnknownArbitrator
	}
	delete(m.arbitrators, arbitratorID)
	return nil
}

func (m *MemoryStore) IsArbitrator(_ context.Context, arbitratorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.arbitrators[arbitratorID]
	return ok, nil
}

func (m *MemoryStore) ListArbitrators(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.arbitrators))
	for id := range m.arbitrators {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
