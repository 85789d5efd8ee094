package escrow

import (
	"context"
	"errors"
)

var (
	// ErrAccountExists signals an escrow account already exists for the job.
	ErrAccountExists = errors.New("escrow: account already exists")
	// ErrAccountNotFound signals no escrow account exists for the job.
	ErrAccountNotFound = errors.New("escrow: account not found")
)

// Store is the persistence boundary of the escrow engine. The engine holds a
// per-job lock around every mutating sequence, so implementations only need
// to make individual calls atomic.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, jobID uint64) (Account, error)
	SetFreelancer(ctx context.Context, jobID uint64, freelancer string) error
	// AddReleased bumps ReleasedAmount by delta and returns the updated account.
	AddReleased(ctx context.Context, jobID uint64, delta uint64) (Account, error)
	// AppendTransaction assigns the next transaction id and stores the record.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, jobID uint64) ([]Transaction, error)
}
