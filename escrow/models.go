package escrow

import (
	"time"

	"escrowflow/ledger"
)

// Basis point arithmetic.
const (
	BpsDenominator = 10_000
	// MaxFeeBps caps the platform fee at 10%.
	MaxFeeBps = 1_000
)

// Account is the custodial record held 1:1 with a job. ReleasedAmount is
// monotonically non-decreasing and never exceeds TotalAmount.
type Account struct {
	JobID          uint64
	Client         string
	Freelancer     string
	TotalAmount    uint64
	PlatformFee    uint64 // absolute amount, fixed at creation
	ReleasedAmount uint64
	Subaccount     ledger.Subaccount
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining reports the amount still held for the job.
func (a Account) Remaining() uint64 {
	return a.TotalAmount - a.ReleasedAmount
}

// TransactionKind labels entries in the append-only transaction ledger.
type TransactionKind string

const (
	KindDeposit          TransactionKind = "deposit"
	KindMilestoneRelease TransactionKind = "milestone_release"
	KindPlatformFee      TransactionKind = "platform_fee"
	KindRefund           TransactionKind = "refund"
)

// Transaction is an immutable audit record of one confirmed transfer.
type Transaction struct {
	ID            uint64
	JobID         uint64
	MilestoneID   *int
	Source        string
	Destination   string
	Amount        uint64
	Kind          TransactionKind
	SettlementRef uint64
	CreatedAt     time.Time
}
