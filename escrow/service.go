package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"escrowflow/ledger"
)

var (
	// ErrNotAuthorized signals the caller is not on the engine's allow-list.
	ErrNotAuthorized = errors.New("escrow: caller not authorized")
	// ErrNotClient signals a deposit attempt by someone other than the recorded client.
	ErrNotClient = errors.New("escrow: caller is not the escrow client")
	// ErrNotParty signals a query by an identity that is neither a party nor a manager.
	ErrNotParty = errors.New("escrow: caller is not a party to the escrow")
	// ErrNoFreelancer signals a release before a freelancer was attached.
	ErrNoFreelancer = errors.New("escrow: no freelancer attached")
	// ErrOverRelease signals a release that would push ReleasedAmount past TotalAmount.
	ErrOverRelease = errors.New("escrow: release exceeds held balance")
	// ErrNothingToRefund signals a refund on a fully released account.
	ErrNothingToRefund = errors.New("escrow: nothing to refund")
	// ErrFeeTooHigh signals a platform fee above the 1000 bps cap.
	ErrFeeTooHigh = errors.New("escrow: platform fee exceeds cap")
	// ErrAmountTooSmall signals an amount that cannot cover the ledger's fixed fee.
	ErrAmountTooSmall = errors.New("escrow: amount does not cover the transfer fee")
)

// Config carries the engine's startup wiring.
type Config struct {
	// Custodian is the owner identity of the per-job custodial subaccounts.
	Custodian string
	// PlatformWallet receives the platform fee share of each release.
	PlatformWallet string
	// ManagerIdentities is the allow-list of service identities permitted to
	// create accounts, attach freelancers, release, and refund. Fail-closed:
	// an empty list means no caller is authorized.
	ManagerIdentities []string
}

// Engine owns custodial accounts and the append-only transaction ledger.
// Value moves only through the external ledger; local state is mutated only
// after a confirmed settlement reference.
type Engine struct {
	store    Store
	ledger   ledger.Ledger
	log      *slog.Logger
	cfg      Config
	managers map[string]struct{}
	locks    *keyedMutex
	feeGaps  atomic.Uint64
}

// NewEngine builds an escrow engine.
func NewEngine(store Store, lgr ledger.Ledger, log *slog.Logger, cfg Config) *Engine {
	managers := make(map[string]struct{}, len(cfg.ManagerIdentities))
	for _, id := range cfg.ManagerIdentities {
		managers[id] = struct{}{}
	}
	return &Engine{
		store:    store,
		ledger:   lgr,
		log:      log,
		cfg:      cfg,
		managers: managers,
		locks:    newKeyedMutex(),
	}
}

func (e *Engine) isManager(caller string) bool {
	_, ok := e.managers[caller]
	return ok
}

// FeeGaps reports how many platform-fee sub-transfers have failed after a
// successful payee transfer. Each gap is also logged at error level.
func (e *Engine) FeeGaps() uint64 {
	return e.feeGaps.Load()
}

// CreateEscrow opens the custodial account for a job. Fails if one already
// exists. The absolute platform fee is fixed here: floor(total*feeBps/10000).
func (e *Engine) CreateEscrow(ctx context.Context, caller string, jobID uint64, client string, totalAmount uint64, feeBps uint32) (Account, error) {
	if !e.isManager(caller) {
		return Account{}, ErrNotAuthorized
	}
	if client == "" {
		return Account{}, fmt.Errorf("escrow: client identity required")
	}
	if totalAmount == 0 {
		return Account{}, fmt.Errorf("escrow: total amount must be positive")
	}
	if feeBps > MaxFeeBps {
		return Account{}, ErrFeeTooHigh
	}

	now := time.Now().UTC()
	account := Account{
		JobID:       jobID,
		Client:      client,
		TotalAmount: totalAmount,
		PlatformFee: FeeForTotal(totalAmount, feeBps),
		Subaccount:  SubaccountFor(jobID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// SetFreelancer attaches the freelancer identity to the account.
func (e *Engine) SetFreelancer(ctx context.Context, caller string, jobID uint64, freelancer string) error {
	if !e.isManager(caller) {
		return ErrNotAuthorized
	}
	if freelancer == "" {
		return fmt.Errorf("escrow: freelancer identity required")
	}

	unlock := e.locks.lock(jobID)
	defer unlock()

	return e.store.SetFreelancer(ctx, jobID, freelancer)
}

// Deposit moves the job's total amount from the client into the custodial
// subaccount. Only the recorded client may deposit. On ledger failure no
// state changes, so the call is safely retryable.
func (e *Engine) Deposit(ctx context.Context, caller string, jobID uint64) (Transaction, error) {
	unlock := e.locks.lock(jobID)
	defer unlock()

	account, err := e.store.GetAccount(ctx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	if caller != account.Client {
		return Transaction{}, ErrNotClient
	}

	sub := account.Subaccount
	ref, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		From:      ledger.AccountRef{Owner: account.Client},
		To:        ledger.AccountRef{Owner: e.cfg.Custodian, Subaccount: &sub},
		Amount:    account.TotalAmount,
		Fee:       ledger.DefaultFee,
		Memo:      fmt.Sprintf("escrow:%d:deposit", jobID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: deposit transfer: %w", err)
	}

	return e.store.AppendTransaction(ctx, Transaction{
		JobID:         jobID,
		Source:        account.Client,
		Destination:   e.cfg.Custodian,
		Amount:        account.TotalAmount,
		Kind:          KindDeposit,
		SettlementRef: ref,
		CreatedAt:     time.Now().UTC(),
	})
}

// ReleaseMilestoneFunds pays the freelancer their share of a milestone amount
// and then, independently, attempts to move the platform's share. The fee
// sub-transfer failing is non-fatal: the payee transfer and the released
// bookkeeping stand, and the gap is surfaced through logs and FeeGaps.
//
// The ledger's fixed fee is carried inside each outbound amount, so the
// custodial subaccount's outflow equals the escrow bookkeeping exactly.
func (e *Engine) ReleaseMilestoneFunds(ctx context.Context, caller string, jobID uint64, milestoneID int, amount uint64) (Transaction, error) {
	if !e.isManager(caller) {
		return Transaction{}, ErrNotAuthorized
	}

	unlock := e.locks.lock(jobID)
	defer unlock()

	account, err := e.store.GetAccount(ctx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	if account.Freelancer == "" {
		return Transaction{}, ErrNoFreelancer
	}
	// Over-release guard, checked before any transfer. The per-job lock is
	// held across the ledger await, so the bound still holds at commit time.
	if amount == 0 || account.ReleasedAmount+amount > account.TotalAmount {
		return Transaction{}, ErrOverRelease
	}

	fee := feeForRelease(amount, account.PlatformFee, account.TotalAmount)
	payeeAmount := amount - fee
	if payeeAmount <= ledger.DefaultFee {
		return Transaction{}, ErrAmountTooSmall
	}

	sub := account.Subaccount
	ref, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		From:      ledger.AccountRef{Owner: e.cfg.Custodian, Subaccount: &sub},
		To:        ledger.AccountRef{Owner: account.Freelancer},
		Amount:    payeeAmount - ledger.DefaultFee,
		Fee:       ledger.DefaultFee,
		Memo:      fmt.Sprintf("escrow:%d:release:%d", jobID, milestoneID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: release transfer: %w", err)
	}

	if _, err := e.store.AddReleased(ctx, jobID, amount); err != nil {
		// The payee transfer already settled; this is a reconciliation gap,
		// not a rollback.
		e.log.Error("release bookkeeping failed after confirmed transfer",
			"job_id", jobID, "milestone_id", milestoneID, "settlement_ref", ref, "error", err)
		return Transaction{}, fmt.Errorf("escrow: record release: %w", err)
	}

	milestone := milestoneID
	releaseTx, err := e.store.AppendTransaction(ctx, Transaction{
		JobID:         jobID,
		MilestoneID:   &milestone,
		Source:        e.cfg.Custodian,
		Destination:   account.Freelancer,
		Amount:        payeeAmount,
		Kind:          KindMilestoneRelease,
		SettlementRef: ref,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		e.log.Error("release audit record failed after confirmed transfer",
			"job_id", jobID, "milestone_id", milestoneID, "settlement_ref", ref, "error", err)
		return Transaction{}, fmt.Errorf("escrow: record release: %w", err)
	}

	e.collectPlatformFee(ctx, account, milestoneID, fee)

	return releaseTx, nil
}

// collectPlatformFee moves the platform share of a release. Failure is
// swallowed: the worker must not be penalized for a fee-collection fault.
func (e *Engine) collectPlatformFee(ctx context.Context, account Account, milestoneID int, fee uint64) {
	if fee <= ledger.DefaultFee {
		return
	}

	sub := account.Subaccount
	ref, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		From:      ledger.AccountRef{Owner: e.cfg.Custodian, Subaccount: &sub},
		To:        ledger.AccountRef{Owner: e.cfg.PlatformWallet},
		Amount:    fee - ledger.DefaultFee,
		Fee:       ledger.DefaultFee,
		Memo:      fmt.Sprintf("escrow:%d:fee:%d", account.JobID, milestoneID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.feeGaps.Add(1)
		e.log.Error("platform fee transfer failed; reconciliation required",
			"job_id", account.JobID, "milestone_id", milestoneID, "fee", fee, "error", err)
		return
	}

	milestone := milestoneID
	if _, err := e.store.AppendTransaction(ctx, Transaction{
		JobID:         account.JobID,
		MilestoneID:   &milestone,
		Source:        e.cfg.Custodian,
		Destination:   e.cfg.PlatformWallet,
		Amount:        fee,
		Kind:          KindPlatformFee,
		SettlementRef: ref,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		e.log.Error("platform fee audit record failed after confirmed transfer",
			"job_id", account.JobID, "milestone_id", milestoneID, "settlement_ref", ref, "error", err)
	}
}

// Refund returns the unreleased remainder to the client and marks the
// account fully released. Fails with ErrNothingToRefund when nothing is held.
func (e *Engine) Refund(ctx context.Context, caller string, jobID uint64) (Transaction, error) {
	if !e.isManager(caller) {
		return Transaction{}, ErrNotAuthorized
	}

	unlock := e.locks.lock(jobID)
	defer unlock()

	account, err := e.store.GetAccount(ctx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	refundAmount := account.Remaining()
	if refundAmount == 0 {
		return Transaction{}, ErrNothingToRefund
	}
	if refundAmount <= ledger.DefaultFee {
		return Transaction{}, ErrAmountTooSmall
	}

	sub := account.Subaccount
	ref, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		From:      ledger.AccountRef{Owner: e.cfg.Custodian, Subaccount: &sub},
		To:        ledger.AccountRef{Owner: account.Client},
		Amount:    refundAmount - ledger.DefaultFee,
		Fee:       ledger.DefaultFee,
		Memo:      fmt.Sprintf("escrow:%d:refund", jobID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: refund transfer: %w", err)
	}

	if _, err := e.store.AddReleased(ctx, jobID, refundAmount); err != nil {
		e.log.Error("refund bookkeeping failed after confirmed transfer",
			"job_id", jobID, "settlement_ref", ref, "error", err)
		return Transaction{}, fmt.Errorf("escrow: record refund: %w", err)
	}

	return e.store.AppendTransaction(ctx, Transaction{
		JobID:         jobID,
		Source:        e.cfg.Custodian,
		Destination:   account.Client,
		Amount:        refundAmount,
		Kind:          KindRefund,
		SettlementRef: ref,
		CreatedAt:     time.Now().UTC(),
	})
}

// Account returns the custodial account. Callers must be a party to the
// escrow or an authorized manager.
func (e *Engine) Account(ctx context.Context, caller string, jobID uint64) (Account, error) {
	account, err := e.store.GetAccount(ctx, jobID)
	if err != nil {
		return Account{}, err
	}
	if !e.isManager(caller) && caller != account.Client && caller != account.Freelancer {
		return Account{}, ErrNotParty
	}
	return account, nil
}

// Transactions returns the job's append-only transaction ledger, the
// authoritative record callers must consult before retrying an
// unknown-outcome transfer.
func (e *Engine) Transactions(ctx context.Context, caller string, jobID uint64) ([]Transaction, error) {
	account, err := e.store.GetAccount(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !e.isManager(caller) && caller != account.Client && caller != account.Freelancer {
		return nil, ErrNotParty
	}
	return e.store.ListTransactions(ctx, jobID)
}
