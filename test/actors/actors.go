package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/job"
	"escrowflow/ledger"
)

// World bundles the live services an actor drives and the identities it acts as.
type World struct {
	Jobs     *job.Service
	Escrow   *escrow.Engine
	Disputes *dispute.Engine
	Ledger   *ledger.Sim

	ClientID     string
	FreelancerID string
	ArbitratorID string
	OperatorID   string
}

// retryable reports whether an error came from the ledger and is worth
// retrying. Chaos injects these; the state machines are expected to leave
// the record replayable.
func retryable(err error) bool {
	_, ok := ledger.AsTransferError(err)
	return ok
}

// Lifecycle drives full jobs end to end: create, assign, fund, submit and
// approve every milestone. Ledger faults injected by chaos are retried.
func Lifecycle(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := runOneJob(ctx, w); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("lifecycle: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

func runOneJob(ctx context.Context, w *World) error {
	count := 1 + rand.Intn(3)
	milestones := make([]job.MilestoneParams, 0, count)
	for i := 0; i < count; i++ {
		milestones = append(milestones, job.MilestoneParams{
			Description: fmt.Sprintf("deliverable %d", i+1),
			Amount:      uint64(1_000_000 * (1 + rand.Intn(5))),
		})
	}

	j, err := w.Jobs.Create(ctx, w.ClientID, job.CreateParams{
		Title:      fmt.Sprintf("stress job %d", rand.Int63()),
		FeeBps:     uint32(rand.Intn(int(escrow.MaxFeeBps) + 1)),
		Milestones: milestones,
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if _, err := w.Jobs.AssignFreelancer(ctx, w.ClientID, j.ID, w.FreelancerID); err != nil {
		return fmt.Errorf("assign: %w", err)
	}

	w.Ledger.Mint(ledger.AccountRef{Owner: w.ClientID}, j.TotalAmount+ledger.DefaultFee)
	if err := withRetry(ctx, func() error {
		_, err := w.Jobs.Start(ctx, w.ClientID, j.ID)
		return err
	}); err != nil {
		return fmt.Errorf("start job %d: %w", j.ID, err)
	}

	for i := range milestones {
		if _, err := w.Jobs.SubmitMilestone(ctx, w.FreelancerID, j.ID, i); err != nil {
			return fmt.Errorf("submit %d/%d: %w", j.ID, i, err)
		}
		if err := withRetry(ctx, func() error {
			_, err := w.Jobs.ApproveMilestone(ctx, w.ClientID, j.ID, i)
			return err
		}); err != nil {
			return fmt.Errorf("approve %d/%d: %w", j.ID, i, err)
		}
	}
	return nil
}

// withRetry repeats an operation while it fails with a ledger error. The
// retry bound is generous because chaos may fault several times in a row.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		if err = op(); err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(5+rand.Intn(20)) * time.Millisecond):
		}
	}
	return err
}

// Disputer runs jobs into conflict: it starts them, raises a dispute mid
// flight, and has the arbitrator resolve it.
func Disputer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := runOneDispute(ctx, w); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("disputer: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

func runOneDispute(ctx context.Context, w *World) error {
	j, err := w.Jobs.Create(ctx, w.ClientID, job.CreateParams{
		Title:  fmt.Sprintf("contested job %d", rand.Int63()),
		FeeBps: 500,
		Milestones: []job.MilestoneParams{
			{Description: "contested deliverable", Amount: 2_000_000},
		},
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if _, err := w.Jobs.AssignFreelancer(ctx, w.ClientID, j.ID, w.FreelancerID); err != nil {
		return fmt.Errorf("assign: %w", err)
	}

	w.Ledger.Mint(ledger.AccountRef{Owner: w.ClientID}, j.TotalAmount+ledger.DefaultFee)
	if err := withRetry(ctx, func() error {
		_, err := w.Jobs.Start(ctx, w.ClientID, j.ID)
		return err
	}); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	raiser := w.ClientID
	if rand.Intn(2) == 0 {
		raiser = w.FreelancerID
	}
	d, err := w.Jobs.RaiseDispute(ctx, raiser, j.ID, nil, "deliverable does not match the agreed scope")
	if err != nil {
		return fmt.Errorf("raise: %w", err)
	}

	if _, err := w.Jobs.AssignArbitrator(ctx, w.OperatorID, d.ID, w.ArbitratorID); err != nil {
		return fmt.Errorf("assign arbitrator: %w", err)
	}

	resolutions := []dispute.Resolution{
		{Kind: dispute.ClientWins},
		{Kind: dispute.FreelancerWins},
		{Kind: dispute.Split, ClientBps: 5_000, FreelancerBps: 5_000},
	}
	if _, err := w.Disputes.Resolve(ctx, w.ArbitratorID, d.ID, resolutions[rand.Intn(len(resolutions))]); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	return nil
}

// Auditor reads accounts and transaction ledgers while writers are active,
// checking the over-release bound from the read side.
func Auditor(ctx context.Context, w *World, stop <-chan struct{}, jobIDs func() []uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		for _, id := range jobIDs() {
			acct, err := w.Escrow.Account(ctx, w.ClientID, id)
			if err != nil {
				if errors.Is(err, escrow.ErrAccountNotFound) || errors.Is(err, escrow.ErrNotParty) {
					continue
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("auditor account %d: %w", id, err)
			}
			if acct.ReleasedAmount > acct.TotalAmount {
				return fmt.Errorf("auditor: job %d released %d of %d", id, acct.ReleasedAmount, acct.TotalAmount)
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
