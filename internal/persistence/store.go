package persistence

import (
	"errors"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrExecutionNotFound is returned when a step execution is not found.
	ErrExecutionNotFound = errors.New("step execution not found")

	// ErrVoteNotFound is returned when no vote exists for a voter on a
	// step execution.
	ErrVoteNotFound = errors.New("vote not found")

	// ErrTimerNotFound is returned when an SLA timer is not found.
	ErrTimerNotFound = errors.New("sla timer not found")
)

// WorkflowFilter selects workflow definitions from the store.
// Nil / empty fields mean "no filter".
type WorkflowFilter struct {
	Enabled *bool
	Trigger api.TriggerType
}

// WorkflowStore handles storage of workflow definitions.
type WorkflowStore interface {
	// SaveWorkflow persists the workflow together with its steps and
	// approver specs as one atomic unit.
	SaveWorkflow(wf *api.Workflow) error

	// UpdateWorkflowMeta writes scalar workflow fields only; the step list
	// is untouched.
	UpdateWorkflowMeta(wf *api.Workflow) error

	SetEnabled(id string, enabled bool) error
	GetWorkflow(id string) (*api.Workflow, error)
	ListWorkflows(filter WorkflowFilter) ([]*api.Workflow, error)
}

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	WorkflowID string
	Status     api.InstanceStatus
}

// InstanceStore handles storage of workflow instances.
type InstanceStore interface {
	SaveInstance(inst *api.WorkflowInstance) error
	UpdateInstance(inst *api.WorkflowInstance) error
	GetInstance(id string) (*api.WorkflowInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error)
}

// ExecutionStore handles storage of step executions.
type ExecutionStore interface {
	SaveExecution(exec *api.StepExecution) error
	UpdateExecution(exec *api.StepExecution) error

	// TransitionExecution atomically moves the execution to the given
	// status if its current status is one of from. It returns whether the
	// transition was applied. Concurrent resolvers of the same execution
	// race on this call; exactly one wins.
	TransitionExecution(id string, to api.ExecutionStatus, from ...api.ExecutionStatus) (bool, error)

	GetExecution(id string) (*api.StepExecution, error)

	// ListExecutions returns the executions of an instance in creation
	// order.
	ListExecutions(instanceID string) ([]*api.StepExecution, error)
}

// VoteStore handles storage of votes. Votes of one execution keep their
// creation order, which is the resolved voter order of the step.
type VoteStore interface {
	SaveVote(vote *api.Vote) error
	UpdateVote(vote *api.Vote) error
	GetVoteByVoter(stepExecutionID, voterID string) (*api.Vote, error)
	ListVotes(stepExecutionID string) ([]*api.Vote, error)
}

// TimerStore handles storage of SLA timers.
type TimerStore interface {
	SaveTimer(timer *api.SLATimer) error

	// TransitionTimer atomically moves the timer to the given status if
	// its current status is one of from, reporting whether it applied.
	TransitionTimer(id string, to api.TimerStatus, from ...api.TimerStatus) (bool, error)

	GetTimer(id string) (*api.SLATimer, error)
	GetTimerByExecution(stepExecutionID string) (*api.SLATimer, error)

	// ListDueTimers returns active timers with EndTime at or before the
	// given instant.
	ListDueTimers(before time.Time) ([]*api.SLATimer, error)
}
