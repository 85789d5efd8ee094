package dispute

import (
	"context"
	"errors"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicateArbitrator signals the identity is already in the arbitrator set.
	ErrDuplicateArbitrator = errors.New("dispute: arbitrator already registered")
	// ErrUnknownArbitrator signals the identity is not in the arbitrator set.
	ErrUnknownArbitrator = errors.New("dispute: arbitrator not registered")
)

// Store is the persistence boundary of the arbitration engine. Evidence,
// messages and votes are append-only.
type Store interface {
	// CreateDispute assigns the next dispute id and stores the record.
	CreateDispute(ctx context.Context, d Dispute) (Dispute, error)
	GetDispute(ctx context.Context, id uint64) (Dispute, error)
	UpdateDispute(ctx context.Context, d Dispute) (Dispute, error)

	AppendEvidence(ctx context.Context, e Evidence) (Evidence, error)
	ListEvidence(ctx context.Context, disputeID uint64) ([]Evidence, error)
	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, disputeID uint64) ([]Message, error)
	AppendVote(ctx context.Context, v Vote) (Vote, error)
	ListVotes(ctx context.Context, disputeID uint64) ([]Vote, error)

	AddArbitrator(ctx context.Context, arbitratorID string) error
	RemoveArbitrator(ctx context.Context, arbitratorID string) error
	IsArbitrator(ctx context.Context, arbitratorID string) (bool, error)
	ListArbitrators(ctx context.Context) ([]string, error)
}
