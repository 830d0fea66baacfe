package orchestrator

import (
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// ActiveStatuses are the non-terminal statuses.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusPaused}
}

// ApprovalStatus only moves from pending to approved or rejected.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// Execution is one run of a sequence snapshot.
type Execution struct {
	ID               string                `json:"id"`
	SequenceID       string                `json:"sequence_id"`
	SequenceName     string                `json:"sequence_name"`
	SequenceType     sequence.SequenceType `json:"sequence_type"`
	Status           Status                `json:"status"`
	InitiatedBy      string                `json:"initiated_by"`
	InitiatedAt      time.Time             `json:"initiated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	CurrentStepID    string                `json:"current_step_id,omitempty"`
	Reason           string                `json:"reason,omitempty"`
	IsEmergency      bool                  `json:"is_emergency"`
	BypassInterlocks bool                  `json:"bypass_interlocks"`
	ApprovalStatus   ApprovalStatus        `json:"approval_status"`
	ApprovedBy       string                `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time            `json:"approved_at,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func (e *Execution) clone() *Execution {
	cpy := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cpy.CompletedAt = &t
	}
	if e.ApprovedAt != nil {
		t := *e.ApprovedAt
		cpy.ApprovedAt = &t
	}
	return &cpy
}

// InitiateRequest starts an execution. BypassInterlocks is honoured only
// when IsEmergency is set, and only for interlocks that allow bypass.
type InitiateRequest struct {
	SequenceID       string `json:"sequence_id"`
	Initiator        string `json:"initiator"`
	Reason           string `json:"reason"`
	IsEmergency      bool   `json:"is_emergency"`
	BypassInterlocks bool   `json:"bypass_interlocks"`
}

// Filter narrows execution listings. Zero fields match everything.
type Filter struct {
	Statuses   []Status
	SequenceID string
	Limit      int
}
