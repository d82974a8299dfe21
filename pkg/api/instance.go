package api

import "time"

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
	InstanceFailed    InstanceStatus = "failed"
)

// Terminal reports whether the status is a terminal one. Terminal instances
// never change again; vote, expiry and cancel calls against them are no-ops.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceCompleted, InstanceCancelled, InstanceFailed:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of a step execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionSkipped    ExecutionStatus = "skipped"
	ExecutionFailed     ExecutionStatus = "failed"
)

// Terminal reports whether the execution can still be resolved.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionSkipped, ExecutionFailed:
		return true
	}
	return false
}

// VoteStatus is the state of a single approver's vote.
type VoteStatus string

const (
	VotePending  VoteStatus = "pending"
	VoteApproved VoteStatus = "approved"
	VoteRejected VoteStatus = "rejected"
)

// Decision is the verdict carried by a CastVote call.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// TimerStatus is the state of an SLA timer.
type TimerStatus string

const (
	// TimerActive means the deadline has not been acted on yet.
	TimerActive TimerStatus = "active"

	// TimerExpired means an external caller invoked ExpireTimer.
	TimerExpired TimerStatus = "expired"

	// TimerCompleted means the owning step resolved before expiry.
	TimerCompleted TimerStatus = "completed"
)

// WorkflowInstance is one run of a workflow bound to an opaque business
// resource. Instances are never deleted; terminal ones form a permanent
// audit trail.
type WorkflowInstance struct {
	ID           string
	WorkflowID   string
	ResourceType string
	ResourceID   string
	Status       InstanceStatus

	// CurrentStepID points at the step currently awaiting resolution.
	// It is empty exactly when the instance is terminal.
	CurrentStepID string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// StepExecution records one entering of a step within an instance.
type StepExecution struct {
	ID         string
	InstanceID string
	StepID     string
	Status     ExecutionStatus

	// VoterIndex is the cursor of a sequential-quorum approval step: the
	// position in the ordered voter list whose vote is accepted next.
	// Zero for all other step types and quorum rules.
	VoterIndex int

	StartedAt   time.Time
	CompletedAt *time.Time

	// Result is an optional payload supplied by CompleteStep.
	// Callers persisting structs here must gob-register them.
	Result any

	// Error describes why the execution failed, if it did.
	Error string
}

// Vote is one approver's decision on an approval step execution.
// Last write wins: an approver may change their mind until the step
// resolves, and only the latest decision is retained.
type Vote struct {
	ID              string
	StepExecutionID string
	VoterID         string
	Status          VoteStatus
	Comments        string
	DecidedAt       *time.Time
}

// SLATimer is the deadline record of an sla_timer step execution.
// The engine never polls the clock; an external scheduler observes EndTime
// and calls Engine.ExpireTimer.
type SLATimer struct {
	ID              string
	StepExecutionID string
	DurationHours   int
	StartTime       time.Time
	EndTime         time.Time
	Status          TimerStatus
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// WorkflowID, if non-empty, limits results to instances of the workflow.
	WorkflowID string

	// Status, if non-empty, limits results to instances with the status.
	Status InstanceStatus
}
