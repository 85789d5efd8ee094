package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory ledger used by tests and local development. It keeps
// per-(owner, subaccount) balances, enforces the fixed fee, rejects duplicate
// memos, and can be primed to fail upcoming transfers.
type Sim struct {
	mu        sync.Mutex
	balances  map[string]uint64
	seenMemos map[string]uint64
	nextRef   uint64
	failNext  []*TransferError
	intercept func(TransferRequest) *TransferError
	// TxWindow bounds how far in the past a CreatedAt stamp may lie.
	TxWindow time.Duration
}

// NewSim builds an empty simulator ledger.
func NewSim() *Sim {
	return &Sim{
		balances:  make(map[string]uint64),
		seenMemos: make(map[string]uint64),
		nextRef:   1,
		TxWindow:  24 * time.Hour,
	}
}

func accountKey(ref AccountRef) string {
	if ref.Subaccount == nil {
		return ref.Owner
	}
	return fmt.Sprintf("%s/%x", ref.Owner, ref.Subaccount[:])
}

// Mint credits an account out of thin air. Test setup only.
func (s *Sim) Mint(ref AccountRef, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountKey(ref)] += amount
}

// Balance reports the current balance of an account.
func (s *Sim) Balance(ref AccountRef) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[accountKey(ref)]
}

// FailNext queues a rejection for the next transfer. Multiple queued
// rejections apply in order before normal processing resumes.
func (s *Sim) FailNext(code ErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, NewTransferError(code, "injected"))
}

// Intercept registers a hook consulted on every transfer. Returning a
// non-nil error rejects that transfer; returning nil lets it proceed.
func (s *Sim) Intercept(fn func(TransferRequest) *TransferError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Transfer applies a transfer atomically or rejects it with a TransferError.
func (s *Sim) Transfer(_ context.Context, req TransferRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return 0, err
	}
	if s.intercept != nil {
		if err := s.intercept(req); err != nil {
			return 0, err
		}
	}

	if req.Fee != DefaultFee {
		return 0, NewTransferError(CodeBadFee, fmt.Sprintf("expected fee %d, got %d", DefaultFee, req.Fee))
	}
	if !req.CreatedAt.IsZero() {
		now := time.Now()
		if req.CreatedAt.After(now.Add(time.Minute)) {
			return 0, NewTransferError(CodeCreatedInFuture, "created_at is in the future")
		}
		if now.Sub(req.CreatedAt) > s.TxWindow {
			return 0, NewTransferError(CodeTooOld, "created_at is outside the transaction window")
		}
	}
	if req.Memo != "" {
		if ref, ok := s.seenMemos[req.Memo]; ok {
			return 0, NewTransferError(CodeDuplicate, fmt.Sprintf("memo already settled as ref %d", ref))
		}
	}

	fromKey := accountKey(req.From)
	total := req.Amount + req.Fee
	if s.balances[fromKey] < total {
		return 0, NewTransferError(CodeInsufficientFunds, fmt.Sprintf("balance %d below %d", s.balances[fromKey], total))
	}

	s.balances[fromKey] -= total
	s.balances[accountKey(req.To)] += req.Amount

	ref := s.nextRef
	s.nextRef++
	if req.Memo != "" {
		s.seenMemos[req.Memo] = ref
	}
	return ref, nil
}
