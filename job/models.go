package job

import "time"

// Status represents the lifecycle of a job record.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusInDispute  Status = "in_dispute"
	StatusCancelled  Status = "cancelled"
)

// MilestoneStatus represents the lifecycle of a single milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneReleased   MilestoneStatus = "released"
	MilestoneDisputed   MilestoneStatus = "disputed"
)

// Milestone is one deliverable of a job. ID is the sequence position and
// Amount is immutable after creation.
type Milestone struct {
	ID          int
	Description string
	Amount      uint64
	Status      MilestoneStatus
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	ReleasedAt  *time.Time
}

// Job mirrors the jobs record owned by the manager. TotalAmount always equals
// the sum of milestone amounts, fixed at creation.
type Job struct {
	ID          uint64
	Client      string
	Freelancer  string
	Title       string
	TotalAmount uint64
	FeeBps      uint32
	Status      Status
	Milestones  []Milestone
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MilestoneParams describes one milestone at job creation.
type MilestoneParams struct {
	Description string `json:"description"`
	Amount      uint64 `json:"amount"`
}

// CreateParams enumerates the fields required to create a job.
type CreateParams struct {
	Title      string            `json:"title"`
	FeeBps     uint32            `json:"fee_bps"`
	Milestones []MilestoneParams `json:"milestones"`
}
