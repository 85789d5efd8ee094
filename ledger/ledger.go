// Package ledger exposes the narrow transfer interface of the external
// value-pegged token ledger. The ledger is consumed, never implemented here;
// Sim is a stand-in for tests and local development.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Subaccount partitions one custodial owner's balance into fixed-width
// sub-buckets. The zero value addresses the owner's default bucket.
type Subaccount [32]byte

// AccountRef names one side of a transfer: an owner identity plus an
// optional subaccount.
type AccountRef struct {
	Owner      string
	Subaccount *Subaccount
}

// DefaultFee is the fixed fee the ledger charges per transfer, in minor
// units. A transfer carrying any other fee is rejected with CodeBadFee.
const DefaultFee uint64 = 10_000

// MinorUnitsPerToken is the number of minor units in one whole token.
const MinorUnitsPerToken uint64 = 100_000_000

// TransferRequest describes a single non-reversible value movement.
type TransferRequest struct {
	From   AccountRef
	To     AccountRef
	Amount uint64
	Fee    uint64
	Memo   string
	// CreatedAt, when non-zero, lets the ledger deduplicate and reject
	// stale or future-dated transfers.
	CreatedAt time.Time
}

// Ledger is the sole way to move value. A successful call returns an opaque
// settlement reference proving the transfer was applied. Any error means the
// transfer must be treated as not applied, except wrapped unknown faults,
// after which callers must re-query authoritative state before retrying.
type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) (uint64, error)
}

// ErrorCode classifies transfer rejections reported by the ledger.
type ErrorCode string

const (
	CodeInsufficientFunds ErrorCode = "insufficient_funds"
	CodeBadFee            ErrorCode = "bad_fee"
	CodeDuplicate         ErrorCode = "duplicate"
	CodeTooOld            ErrorCode = "too_old"
	CodeCreatedInFuture   ErrorCode = "created_in_future"
	CodeUnavailable       ErrorCode = "temporarily_unavailable"
	CodeGeneric           ErrorCode = "generic"
)

// TransferError is a typed rejection from the ledger.
type TransferError struct {
	Code    ErrorCode
	Message string
}

func (e *TransferError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger: transfer rejected: %s", e.Code)
	}
	return fmt.Sprintf("ledger: transfer rejected: %s: %s", e.Code, e.Message)
}

// NewTransferError builds a TransferError for the given code.
func NewTransferError(code ErrorCode, message string) *TransferError {
	return &TransferError{Code: code, Message: message}
}

// AsTransferError unwraps err into a *TransferError if one is present.
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
