package dispute

import "time"

// Status represents the lifecycle of a dispute record. UnderReview,
// AwaitingEvidence and InMediation are revisitable until the dispute closes.
type Status string

const (
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusAwaitingEvidence Status = "awaiting_evidence"
	StatusInMediation      Status = "in_mediation"
	StatusResolved         Status = "resolved"
	StatusCancelled        Status = "cancelled"
)

// Closed reports whether the status is terminal.
func (s Status) Closed() bool {
	return s == StatusResolved || s == StatusCancelled
}

// ResolutionKind enumerates the arbitrator's decision shapes.
type ResolutionKind string

const (
	ClientWins          ResolutionKind = "client_wins"
	FreelancerWins      ResolutionKind = "freelancer_wins"
	PartialClientRefund ResolutionKind = "partial_client_refund"
	Split               ResolutionKind = "split"
)

// Resolution records the arbitrator's decision. The decision is bookkeeping
// only: nothing here triggers an escrow release or refund. Completing that
// wiring is tracked as a known gap.
type Resolution struct {
	Kind ResolutionKind `json:"kind"`
	// ClientBps is the client's share for partial_client_refund and split.
	ClientBps uint32 `json:"client_bps,omitempty"`
	// FreelancerBps is the freelancer's share for split.
	FreelancerBps uint32 `json:"freelancer_bps,omitempty"`
}

// Dispute mirrors the disputes record owned by the arbitration engine.
type Dispute struct {
	ID          uint64
	JobID       uint64
	MilestoneID *int
	Client      string
	Freelancer  string
	RaisedBy    string
	Reason      string
	Status      Status
	Arbitrator  string
	Resolution  *Resolution
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
}

// Evidence is an append-only exhibit attached by a party.
type Evidence struct {
	ID          uint64
	DisputeID   uint64
	Submitter   string
	Description string
	Attachment  string
	CreatedAt   time.Time
}

// Message is an append-only note on the dispute thread. Private messages are
// visible to registered arbitrators only.
type Message struct {
	ID        uint64
	DisputeID uint64
	Sender    string
	Body      string
	Private   bool
	CreatedAt time.Time
}

// Vote is the immutable record appended when an arbitrator resolves.
type Vote struct {
	ID         uint64
	DisputeID  uint64
	Arbitrator string
	Resolution Resolution
	CreatedAt  time.Time
}

// CreateParams enumerates the fields the job manager supplies when raising a
// dispute on behalf of a party.
type CreateParams struct {
	JobID       uint64
	MilestoneID *int
	Client      string
	Freelancer  string
	RaisedBy    string
	Reason      string
}
