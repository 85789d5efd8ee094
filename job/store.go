package job

import (
	"context"
	"errors"
)

// ErrNotFound signals the job does not exist.
var ErrNotFound = errors.New("job: not found")

// Store is the persistence boundary of the job manager. The service holds a
// per-job lock around every mutating sequence; implementations only need to
// make individual calls atomic.
type Store interface {
	// CreateJob assigns the next job id and stores the record.
	CreateJob(ctx context.Context, j Job) (Job, error)
	GetJob(ctx context.Context, id uint64) (Job, error)
	// UpdateJob replaces the stored record, milestones included.
	UpdateJob(ctx context.Context, j Job) (Job, error)
	// DeleteJob removes a record; used only to compensate a failed creation.
	DeleteJob(ctx context.Context, id uint64) error
	// ListByParty returns jobs where the identity is client or freelancer.
	ListByParty(ctx context.Context, userID string) ([]Job, error)
}
