package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used when no database is
// configured and by unit tests of the services that consult the registry.
type MemoryRepository struct {
	mu           sync.Mutex
	usersByEmail map[string]User
	usersByID    map[string]User
}

// NewMemoryRepository builds an empty in-memory identity repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
	}
}

func (m *MemoryRepository) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(params.Email)
	if _, exists := m.usersByEmail[key]; exists {
		return User{}, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		Reputation:   InitialReputation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.usersByEmail[key] = user
	m.usersByID[user.ID] = user
	return user, nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) UpdateReputation(_ context.Context, userID string, reputation float64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.Reputation = reputation
	user.UpdatedAt = time.Now().UTC()
	m.usersByID[userID] = user
	m.usersByEmail[strings.ToLower(user.Email)] = user
	return user, nil
}
