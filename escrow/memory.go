package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured and
// by unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uint64]Account
	txs      []Transaction
	nextTxID uint64
}

// NewMemoryStore builds an empty in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uint64]Account),
		nextTxID: 1,
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.JobID]; exists {
		return ErrAccountExists
	}
	m.accounts[account.JobID] = account
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, jobID uint64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[jobID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryStore) SetFreelancer(_ context.Context, jobID uint64, freelancer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[jobID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Freelancer = freelancer
	account.UpdatedAt = time.Now().UTC()
	m.accounts[jobID] = account
	return nil
}

func (m *MemoryStore) AddReleased(_ context.Context, jobID uint64, delta uint64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[jobID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	account.ReleasedAmount += delta
	account.UpdatedAt = time.Now().UTC()
	m.accounts[jobID] = account
	return account, nil
}

func (m *MemoryStore) AppendTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx.ID = m.nextTxID
	m.nextTxID++
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	m.txs = append(m.txs, tx)
	return tx, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, jobID uint64) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transaction, 0, 8)
	for _, tx := range m.txs {
		if tx.JobID == jobID {
			out = append(out, tx)
		}
	}
	return out, nil
}
