package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotAuthorized signals the caller is not on the engine's allow-list.
	ErrNotAuthorized = errors.New("dispute: caller not authorized")
	// ErrNotParty signals an operation reserved for the named parties.
	ErrNotParty = errors.New("dispute: caller is not a party to the dispute")
	// ErrNotArbitrator signals an operation reserved for arbitrators.
	ErrNotArbitrator = errors.New("dispute: caller is not an arbitrator")
	// ErrClosed signals the dispute is already resolved or cancelled.
	ErrClosed = errors.New("dispute: already closed")
	// ErrBadStatus signals the operation is invalid for the current status.
	ErrBadStatus = errors.New("dispute: invalid status transition")
	// ErrReasonTooShort signals a reason under the engine's 20-character bound.
	ErrReasonTooShort = errors.New("dispute: reason must be at least 20 characters")
	// ErrBadResolution signals malformed resolution parameters.
	ErrBadResolution = errors.New("dispute: invalid resolution")
)

const minReason = 20

// Config carries the engine's startup wiring.
type Config struct {
	// ManagerIdentities is the allow-list of service identities permitted to
	// create and cancel disputes, assign arbitrators, and mutate the
	// arbitrator set. Fail-closed: an empty list means no caller may.
	ManagerIdentities []string
}

// Engine owns dispute lifecycle, evidence, messaging, and arbitrator voting.
type Engine struct {
	store    Store
	log      *slog.Logger
	managers map[string]struct{}
}

// NewEngine builds a dispute arbitration engine.
func NewEngine(store Store, log *slog.Logger, cfg Config) *Engine {
	managers := make(map[string]struct{}, len(cfg.ManagerIdentities))
	for _, id := range cfg.ManagerIdentities {
		managers[id] = struct{}{}
	}
	return &Engine{store: store, log: log, managers: managers}
}

func (e *Engine) isManager(caller string) bool {
	_, ok := e.managers[caller]
	return ok
}

// CreateDispute opens a dispute on behalf of a party. Manager-only.
func (e *Engine) CreateDispute(ctx context.Context, caller string, params CreateParams) (Dispute, error) {
	if !e.isManager(caller) {
		return Dispute{}, ErrNotAuthorized
	}
	if len(params.Reason) < minReason {
		return Dispute{}, ErrReasonTooShort
	}
	if params.Client == "" || params.Freelancer == "" {
		return Dispute{}, fmt.Errorf("dispute: both parties required")
	}
	if params.RaisedBy != params.Client && params.RaisedBy != params.Freelancer {
		return Dispute{}, ErrNotParty
	}

	return e.store.CreateDispute(ctx, Dispute{
		JobID:       params.JobID,
		MilestoneID: params.MilestoneID,
		Client:      params.Client,
		Freelancer:  params.Freelancer,
		RaisedBy:    params.RaisedBy,
		Reason:      params.Reason,
		Status:      StatusOpen,
	})
}

// SubmitEvidence attaches an exhibit. Parties only; rejected once closed.
func (e *Engine) SubmitEvidence(ctx context.Context, caller string, disputeID uint64, description, attachment string) (Evidence, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Evidence{}, err
	}
	if caller != d.Client && caller != d.Freelancer {
		return Evidence{}, ErrNotParty
	}
	if d.Status.Closed() {
		return Evidence{}, ErrClosed
	}
	if description == "" {
		return Evidence{}, fmt.Errorf("dispute: evidence description required")
	}

	return e.store.AppendEvidence(ctx, Evidence{
		DisputeID:   disputeID,
		Submitter:   caller,
		Description: description,
		Attachment:  attachment,
	})
}

// SendMessage appends a note to the dispute thread. The sender must be a
// party or a registered arbitrator. A private message may be sent only by
// the assigned arbitrator, or by any registered arbitrator while none is
// assigned yet.
func (e *Engine) SendMessage(ctx context.Context, caller string, disputeID uint64, body string, private bool) (Message, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Message{}, err
	}
	if body == "" {
		return Message{}, fmt.Errorf("dispute: message body required")
	}
	if d.Status.Closed() {
		return Message{}, ErrClosed
	}

	isArb, err := e.store.IsArbitrator(ctx, caller)
	if err != nil {
		return Message{}, fmt.Errorf("dispute: arbitrator lookup: %w", err)
	}
	isParty := caller == d.Client || caller == d.Freelancer
	if !isParty && !isArb {
		return Message{}, ErrNotParty
	}

	if private {
		if d.Arbitrator != "" {
			if caller != d.Arbitrator {
				return Message{}, ErrNotArbitrator
			}
		} else if !isArb {
			return Message{}, ErrNotArbitrator
		}
	}

	return e.store.AppendMessage(ctx, Message{
		DisputeID: disputeID,
		Sender:    caller,
		Body:      body,
		Private:   private,
	})
}

// AssignArbitrator sets the arbitrator and moves the dispute under review.
// Manager-only; the target must be in the arbitrator set and the dispute
// must be Open or AwaitingEvidence.
func (e *Engine) AssignArbitrator(ctx context.Context, caller string, disputeID uint64, arbitratorID string) (Dispute, error) {
	if !e.isManager(caller) {
		return Dispute{}, ErrNotAuthorized
	}

	isArb, err := e.store.IsArbitrator(ctx, arbitratorID)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: arbitrator lookup: %w", err)
	}
	if !isArb {
		return Dispute{}, ErrUnknownArbitrator
	}

	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusOpen && d.Status != StatusAwaitingEvidence {
		return Dispute{}, ErrBadStatus
	}

	d.Arbitrator = arbitratorID
	d.Status = StatusUnderReview
	return e.store.UpdateDispute(ctx, d)
}

// UpdateStage moves an assigned dispute between the revisitable pre-resolution
// stages. Assigned-arbitrator-only.
func (e *Engine) UpdateStage(ctx context.Context, caller string, disputeID uint64, stage Status) (Dispute, error) {
	switch stage {
	case StatusUnderReview, StatusAwaitingEvidence, StatusInMediation:
	default:
		return Dispute{}, ErrBadStatus
	}

	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Arbitrator == "" || caller != d.Arbitrator {
		return Dispute{}, ErrNotArbitrator
	}
	if d.Status.Closed() {
		return Dispute{}, ErrClosed
	}

	d.Status = stage
	return e.store.UpdateDispute(ctx, d)
}

// Resolve records the decision and appends an immutable vote. The caller
// must be the assigned arbitrator or any member of the arbitrator set.
func (e *Engine) Resolve(ctx context.Context, caller string, disputeID uint64, resolution Resolution) (Dispute, error) {
	if err := validateResolution(resolution); err != nil {
		return Dispute{}, err
	}

	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status.Closed() {
		return Dispute{}, ErrClosed
	}
	if caller != d.Arbitrator {
		isArb, err := e.store.IsArbitrator(ctx, caller)
		if err != nil {
			return Dispute{}, fmt.Errorf("dispute: arbitrator lookup: %w", err)
		}
		if !isArb {
			return Dispute{}, ErrNotArbitrator
		}
	}

	now := time.Now().UTC()
	res := resolution
	d.Status = StatusResolved
	d.Resolution = &res
	d.ResolvedAt = &now

	updated, err := e.store.UpdateDispute(ctx, d)
	if err != nil {
		return Dispute{}, err
	}

	if _, err := e.store.AppendVote(ctx, Vote{
		DisputeID:  disputeID,
		Arbitrator: caller,
		Resolution: resolution,
	}); err != nil {
		e.log.Error("vote record failed after resolution", "dispute_id", disputeID, "error", err)
	}

	return updated, nil
}

// CancelDispute withdraws an open dispute. Manager-only.
func (e *Engine) CancelDispute(ctx context.Context, caller string, disputeID uint64) (Dispute, error) {
	if !e.isManager(caller) {
		return Dispute{}, ErrNotAuthorized
	}

	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status.Closed() {
		return Dispute{}, ErrClosed
	}

	d.Status = StatusCancelled
	return e.store.UpdateDispute(ctx, d)
}

// Get returns a dispute to a party, arbitrator, or manager.
func (e *Engine) Get(ctx context.Context, caller string, disputeID uint64) (Dispute, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if err := e.requireViewer(ctx, caller, d); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// Evidence lists the dispute's exhibits for a party, arbitrator, or manager.
func (e *Engine) Evidence(ctx context.Context, caller string, disputeID uint64) ([]Evidence, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := e.requireViewer(ctx, caller, d); err != nil {
		return nil, err
	}
	return e.store.ListEvidence(ctx, disputeID)
}

// Messages lists the dispute thread. Registered arbitrators see every
// message; all other viewers see public messages only.
func (e *Engine) Messages(ctx context.Context, caller string, disputeID uint64) ([]Message, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := e.requireViewer(ctx, caller, d); err != nil {
		return nil, err
	}

	all, err := e.store.ListMessages(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	isArb, err := e.store.IsArbitrator(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("dispute: arbitrator lookup: %w", err)
	}
	if isArb {
		return all, nil
	}

	out := make([]Message, 0, len(all))
	for _, m := range all {
		if !m.Private {
			out = append(out, m)
		}
	}
	return out, nil
}

// Votes lists the dispute's votes for a party, arbitrator, or manager.
func (e *Engine) Votes(ctx context.Context, caller string, disputeID uint64) ([]Vote, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := e.requireViewer(ctx, caller, d); err != nil {
		return nil, err
	}
	return e.store.ListVotes(ctx, disputeID)
}

// AddArbitrator adds an identity to the arbitrator set. Manager-only;
// duplicate adds are rejected.
func (e *Engine) AddArbitrator(ctx context.Context, caller string, arbitratorID string) error {
	if !e.isManager(caller) {
		return ErrNotAuthorized
	}
	if arbitratorID == "" {
		return fmt.Errorf("dispute: arbitrator identity required")
	}
	return e.store.AddArbitrator(ctx, arbitratorID)
}

// RemoveArbitrator removes an identity from the arbitrator set. Manager-only.
func (e *Engine) RemoveArbitrator(ctx context.Context, caller string, arbitratorID string) error {
	if !e.isManager(caller) {
		return ErrNotAuthorized
	}
	return e.store.RemoveArbitrator(ctx, arbitratorID)
}

func (e *Engine) requireViewer(ctx context.Context, caller string, d Dispute) error {
	if e.isManager(caller) || caller == d.Client || caller == d.Freelancer {
		return nil
	}
	isArb, err := e.store.IsArbitrator(ctx, caller)
	if err != nil {
		return fmt.Errorf("dispute: arbitrator lookup: %w", err)
	}
	if !isArb {
		return ErrNotParty
	}
	return nil
}

func validateResolution(r Resolution) error {
	switch r.Kind {
	case ClientWins, FreelancerWins:
		if r.ClientBps != 0 || r.FreelancerBps != 0 {
			return ErrBadResolution
		}
	case PartialClientRefund:
		if r.ClientBps == 0 || r.ClientBps > 10_000 || r.FreelancerBps != 0 {
			return ErrBadResolution
		}
	case Split:
		if r.ClientBps+r.FreelancerBps != 10_000 {
			return ErrBadResolution
		}
	default:
		return ErrBadResolution
	}
	return nil
}
