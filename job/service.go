package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
)

var (
	// ErrNotClient signals an operation reserved for the job's client.
	ErrNotClient = errors.New("job: caller is not the client")
	// ErrNotFreelancer signals an operation reserved for the assigned freelancer.
	ErrNotFreelancer = errors.New("job: caller is not the assigned freelancer")
	// ErrNotParty signals the caller is neither client nor freelancer.
	ErrNotParty = errors.New("job: caller is not a party to the job")
	// ErrNotOperator signals an arbitration-admin call by a non-operator.
	ErrNotOperator = errors.New("job: caller is not the platform operator")
	// ErrWrongStatus signals the operation is invalid for the job's status.
	ErrWrongStatus = errors.New("job: operation invalid for current status")
	// ErrMilestoneStatus signals the operation is invalid for the milestone's status.
	ErrMilestoneStatus = errors.New("job: operation invalid for milestone status")
	// ErrMilestoneNotFound signals an unknown milestone index.
	ErrMilestoneNotFound = errors.New("job: milestone not found")
	// ErrNoMilestones signals a creation attempt without milestones.
	ErrNoMilestones = errors.New("job: at least one milestone required")
	// ErrBadAmount signals a zero milestone amount.
	ErrBadAmount = errors.New("job: milestone amounts must be positive")
	// ErrAmountOverflow signals a milestone list whose amounts do not fit in uint64.
	ErrAmountOverflow = errors.New("job: milestone amounts overflow the total")
	// ErrReasonTooShort signals a dispute reason under 10 characters.
	ErrReasonTooShort = errors.New("job: dispute reason must be at least 10 characters")
	// ErrNotRegistered signals the referenced identity is not in the registry.
	ErrNotRegistered = errors.New("job: identity is not registered")
	// ErrNoFreelancer signals a start attempt before a freelancer was assigned.
	ErrNoFreelancer = errors.New("job: no freelancer assigned")
)

// minDisputeReason is the manager-side bound; the dispute engine applies its
// own, stricter bound on top.
const minDisputeReason = 10

// CompletionScore is the input fed into both parties' reputation EMA when a
// job completes.
const CompletionScore = 10.0

// EscrowEngine is the slice of the escrow engine the manager drives.
type EscrowEngine interface {
	CreateEscrow(ctx context.Context, caller string, jobID uint64, client string, totalAmount uint64, feeBps uint32) (escrow.Account, error)
	SetFreelancer(ctx context.Context, caller string, jobID uint64, freelancer string) error
	Deposit(ctx context.Context, caller string, jobID uint64) (escrow.Transaction, error)
	ReleaseMilestoneFunds(ctx context.Context, caller string, jobID uint64, milestoneID int, amount uint64) (escrow.Transaction, error)
	Transactions(ctx context.Context, caller string, jobID uint64) ([]escrow.Transaction, error)
}

// DisputeEngine is the slice of the dispute engine the manager drives.
type DisputeEngine interface {
	CreateDispute(ctx context.Context, caller string, params dispute.CreateParams) (dispute.Dispute, error)
	AssignArbitrator(ctx context.Context, caller string, disputeID uint64, arbitratorID string) (dispute.Dispute, error)
	CancelDispute(ctx context.Context, caller string, disputeID uint64) (dispute.Dispute, error)
	AddArbitrator(ctx context.Context, caller string, arbitratorID string) error
	RemoveArbitrator(ctx context.Context, caller string, arbitratorID string) error
}

// Registry is the identity collaborator consulted for registration checks
// and reputation updates.
type Registry interface {
	IsRegistered(ctx context.Context, userID string) (bool, error)
	RecordCompletion(ctx context.Context, userID string, score float64) (float64, error)
}

// Config carries the manager's startup wiring.
type Config struct {
	// ServiceIdentity is presented to the escrow and dispute engines, which
	// authorize the manager by allow-list.
	ServiceIdentity string
	// OperatorIdentity may drive arbitration administration through the
	// manager. Fail-closed: empty means nobody can.
	OperatorIdentity string
}

// Service owns the job and milestone state machines and triggers escrow and
// dispute calls on assignment, start, approval, and conflict.
type Service struct {
	store    Store
	escrow   EscrowEngine
	disputes DisputeEngine
	registry Registry
	log      *slog.Logger
	cfg      Config
	locks    *keyedMutex
}

// NewService builds a job manager service.
func NewService(store Store, esc EscrowEngine, disp DisputeEngine, registry Registry, log *slog.Logger, cfg Config) *Service {
	return &Service{
		store:    store,
		escrow:   esc,
		disputes: disp,
		registry: registry,
		log:      log,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}
}

// lock serializes operations per job id across escrow awaits.
func (s *Service) lock(jobID uint64) func() {
	return s.locks.lock(jobID)
}

func (s *Service) ensureRegistered(ctx context.Context, userID string) error {
	ok, err := s.registry.IsRegistered(ctx, userID)
	if err != nil {
		return fmt.Errorf("job: registry lookup: %w", err)
	}
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// Create validates the milestone list, stores the job as Draft, and opens the
// matching escrow account. TotalAmount is the sum of milestone amounts.
func (s *Service) Create(ctx context.Context, caller string, params CreateParams) (Job, error) {
	if err := s.ensureRegistered(ctx, caller); err != nil {
		return Job{}, err
	}
	if len(params.Milestones) == 0 {
		return Job{}, ErrNoMilestones
	}

	var total uint64
	milestones := make([]Milestone, 0, len(params.Milestones))
	for i, m := range params.Milestones {
		if m.Amount == 0 {
			return Job{}, ErrBadAmount
		}
		if m.Amount > math.MaxUint64-total {
			return Job{}, ErrAmountOverflow
		}
		total += m.Amount
		milestones = append(milestones, Milestone{
			ID:          i,
			Description: m.Description,
			Amount:      m.Amount,
			Status:      MilestonePending,
		})
	}
	if params.FeeBps > escrow.MaxFeeBps {
		return Job{}, escrow.ErrFeeTooHigh
	}

	j, err := s.store.CreateJob(ctx, Job{
		Client:      caller,
		Title:       params.Title,
		TotalAmount: total,
		FeeBps:      params.FeeBps,
		Status:      StatusDraft,
		Milestones:  milestones,
	})
	if err != nil {
		return Job{}, err
	}

	if _, err := s.escrow.CreateEscrow(ctx, s.cfg.ServiceIdentity, j.ID, caller, total, params.FeeBps); err != nil {
		if delErr := s.store.DeleteJob(ctx, j.ID); delErr != nil {
			s.log.Error("job left without escrow account", "job_id", j.ID, "error", delErr)
		}
		return Job{}, fmt.Errorf("job: open escrow: %w", err)
	}

	return j, nil
}

// AssignFreelancer attaches a registered freelancer and opens the job.
func (s *Service) AssignFreelancer(ctx context.Context, caller string, jobID uint64, freelancerID string) (Job, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, ErrNotClient
	}
	if j.Status != StatusDraft && j.Status != StatusOpen {
		return Job{}, ErrWrongStatus
	}
	if err := s.ensureRegistered(ctx, freelancerID); err != nil {
		return Job{}, err
	}

	if err := s.escrow.SetFreelancer(ctx, s.cfg.ServiceIdentity, jobID, freelancerID); err != nil {
		return Job{}, fmt.Errorf("job: attach freelancer to escrow: %w", err)
	}

	j.Freelancer = freelancerID
	j.Status = StatusOpen
	return s.store.UpdateJob(ctx, j)
}

// Start funds the escrow from the client and activates the first milestone.
// On a ledger failure the job stays Open and the call is retryable.
func (s *Service) Start(ctx context.Context, caller string, jobID uint64) (Job, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, ErrNotClient
	}
	if j.Status != StatusOpen {
		return Job{}, ErrWrongStatus
	}
	if j.Freelancer == "" {
		return Job{}, ErrNoFreelancer
	}

	deposited, err := s.hasDeposit(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !deposited {
		if _, err := s.escrow.Deposit(ctx, caller, jobID); err != nil {
			return Job{}, fmt.Errorf("job: fund escrow: %w", err)
		}
	}

	j.Status = StatusInProgress
	j.Milestones[0].Status = MilestoneInProgress
	return s.store.UpdateJob(ctx, j)
}

// hasDeposit consults the escrow transaction ledger, the authoritative
// record, so a retried start never double-funds.
func (s *Service) hasDeposit(ctx context.Context, jobID uint64) (bool, error) {
	txs, err := s.escrow.Transactions(ctx, s.cfg.ServiceIdentity, jobID)
	if err != nil {
		return false, fmt.Errorf("job: check deposits: %w", err)
	}
	for _, tx := range txs {
		if tx.Kind == escrow.KindDeposit {
			return true, nil
		}
	}
	return false, nil
}

// SubmitMilestone marks the active milestone as delivered.
func (s *Service) SubmitMilestone(ctx context.Context, caller string, jobID uint64, milestoneID int) (Job, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Freelancer {
		return Job{}, ErrNotFreelancer
	}
	if j.Status != StatusInProgress {
		return Job{}, ErrWrongStatus
	}
	if milestoneID < 0 || milestoneID >= len(j.Milestones) {
		return Job{}, ErrMilestoneNotFound
	}
	if j.Milestones[milestoneID].Status != MilestoneInProgress {
		return Job{}, ErrMilestoneStatus
	}

	now := time.Now().UTC()
	j.Milestones[milestoneID].Status = MilestoneSubmitted
	j.Milestones[milestoneID].SubmittedAt = &now
	return s.store.UpdateJob(ctx, j)
}

// ApproveMilestone releases the milestone's funds through the escrow engine
// and advances the job. The milestone stamps are committed only after the
// payee transfer is confirmed; on a ledger failure the milestone stays
// Submitted and the approval is retryable.
func (s *Service) ApproveMilestone(ctx context.Context, caller string, jobID uint64, milestoneID int) (Job, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, ErrNotClient
	}
	if j.Status != StatusInProgress {
		return Job{}, ErrWrongStatus
	}
	if milestoneID < 0 || milestoneID >= len(j.Milestones) {
		return Job{}, ErrMilestoneNotFound
	}
	milestone := j.Milestones[milestoneID]
	if milestone.Status != MilestoneSubmitted {
		return Job{}, ErrMilestoneStatus
	}

	if _, err := s.escrow.ReleaseMilestoneFunds(ctx, s.cfg.ServiceIdentity, jobID, milestoneID, milestone.Amount); err != nil {
		return Job{}, fmt.Errorf("job: release milestone funds: %w", err)
	}

	now := time.Now().UTC()
	j.Milestones[milestoneID].Status = MilestoneReleased
	j.Milestones[milestoneID].ApprovedAt = &now
	j.Milestones[milestoneID].ReleasedAt = &now

	if next := firstPending(j.Milestones); next >= 0 {
		j.Milestones[next].Status = MilestoneInProgress
	} else if allReleased(j.Milestones) {
		j.Status = StatusCompleted
		s.recordCompletions(ctx, j)
	}

	return s.store.UpdateJob(ctx, j)
}

// recordCompletions feeds the completion score into both parties' reputation.
// Funds already moved, so a registry fault is logged rather than surfaced.
func (s *Service) recordCompletions(ctx context.Context, j Job) {
	for _, party := range []string{j.Client, j.Freelancer} {
		if party == "" {
			continue
		}
		if _, err := s.registry.RecordCompletion(ctx, party, CompletionScore); err != nil {
			s.log.Error("reputation update failed", "job_id", j.ID, "user_id", party, "error", err)
		}
	}
}

// RaiseDispute opens a dispute through the arbitration engine and parks the
// job. The manager bound on the reason is 10 characters; the engine applies
// its own 20-character bound.
func (s *Service) RaiseDispute(ctx context.Context, caller string, jobID uint64, milestoneID *int, reason string) (dispute.Dispute, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return dispute.Dispute{}, err
	}
	if caller != j.Client && caller != j.Freelancer {
		return dispute.Dispute{}, ErrNotParty
	}
	if len(reason) < minDisputeReason {
		return dispute.Dispute{}, ErrReasonTooShort
	}
	if j.Status != StatusInProgress {
		return dispute.Dispute{}, ErrWrongStatus
	}
	if milestoneID != nil {
		id := *milestoneID
		if id < 0 || id >= len(j.Milestones) {
			return dispute.Dispute{}, ErrMilestoneNotFound
		}
		status := j.Milestones[id].Status
		if status != MilestoneInProgress && status != MilestoneSubmitted {
			return dispute.Dispute{}, ErrMilestoneStatus
		}
	}

	d, err := s.disputes.CreateDispute(ctx, s.cfg.ServiceIdentity, dispute.CreateParams{
		JobID:       jobID,
		MilestoneID: milestoneID,
		Client:      j.Client,
		Freelancer:  j.Freelancer,
		RaisedBy:    caller,
		Reason:      reason,
	})
	if err != nil {
		return dispute.Dispute{}, fmt.Errorf("job: create dispute: %w", err)
	}

	j.Status = StatusInDispute
	if milestoneID != nil {
		j.Milestones[*milestoneID].Status = MilestoneDisputed
	}
	if _, err := s.store.UpdateJob(ctx, j); err != nil {
		s.log.Error("job not parked after dispute creation", "job_id", jobID, "dispute_id", d.ID, "error", err)
		return dispute.Dispute{}, err
	}
	return d, nil
}

// Cancel withdraws a job that has not started.
func (s *Service) Cancel(ctx context.Context, caller string, jobID uint64) (Job, error) {
	unlock := s.lock(jobID)
	defer unlock()

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != j.Client {
		return Job{}, ErrNotClient
	}
	if j.Status != StatusDraft && j.Status != StatusOpen {
		return Job{}, ErrWrongStatus
	}

	j.Status = StatusCancelled
	return s.store.UpdateJob(ctx, j)
}

// Get returns a job record.
func (s *Service) Get(ctx context.Context, jobID uint64) (Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListByParty returns the jobs the identity participates in.
func (s *Service) ListByParty(ctx context.Context, userID string) ([]Job, error) {
	return s.store.ListByParty(ctx, userID)
}

// Arbitration administration is funneled through the manager: the operator
// asks, the manager forwards under its own service identity.

func (s *Service) requireOperator(caller string) error {
	if s.cfg.OperatorIdentity == "" || caller != s.cfg.OperatorIdentity {
		return ErrNotOperator
	}
	return nil
}

// AssignArbitrator assigns a registered arbitrator to a dispute.
func (s *Service) AssignArbitrator(ctx context.Context, caller string, disputeID uint64, arbitratorID string) (dispute.Dispute, error) {
	if err := s.requireOperator(caller); err != nil {
		return dispute.Dispute{}, err
	}
	return s.disputes.AssignArbitrator(ctx, s.cfg.ServiceIdentity, disputeID, arbitratorID)
}

// CancelDispute withdraws an open dispute.
func (s *Service) CancelDispute(ctx context.Context, caller string, disputeID uint64) (dispute.Dispute, error) {
	if err := s.requireOperator(caller); err != nil {
		return dispute.Dispute{}, err
	}
	return s.disputes.CancelDispute(ctx, s.cfg.ServiceIdentity, disputeID)
}

// AddArbitrator adds an identity to the arbitrator set.
func (s *Service) AddArbitrator(ctx context.Context, caller string, arbitratorID string) error {
	if err := s.requireOperator(caller); err != nil {
		return err
	}
	if err := s.ensureRegistered(ctx, arbitratorID); err != nil {
		return err
	}
	return s.disputes.AddArbitrator(ctx, s.cfg.ServiceIdentity, arbitratorID)
}

// RemoveArbitrator removes an identity from the arbitrator set.
func (s *Service) RemoveArbitrator(ctx context.Context, caller string, arbitratorID string) error {
	if err := s.requireOperator(caller); err != nil {
		return err
	}
	return s.disputes.RemoveArbitrator(ctx, s.cfg.ServiceIdentity, arbitratorID)
}

func firstPending(milestones []Milestone) int {
	for i, m := range milestones {
		if m.Status == MilestonePending {
			return i
		}
	}
	return -1
}

func allReleased(milestones []Milestone) bool {
	for _, m := range milestones {
		if m.Status != MilestoneReleased {
			return false
		}
	}
	return true
}
