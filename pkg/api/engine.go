package api

import (
	"context"
	"time"
)

// Engine is the workflow orchestration API: definition management, instance
// lifecycle, voting, SLA expiry and queries.
//
// All lifecycle mutations for one instance are serialized by the engine;
// concurrent votes and expiries against the same step execution resolve it
// at most once.
type Engine interface {
	// CreateWorkflow validates and persists a workflow with its steps and
	// approver specs as one atomic unit.
	CreateWorkflow(ctx context.Context, orgID string, draft WorkflowDraft) (*Workflow, error)

	// UpdateWorkflow changes scalar workflow fields only. The step list of
	// a created workflow is immutable through this API.
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*Workflow, error)

	// SetWorkflowEnabled flips the enabled flag. Enablement gates new
	// Start calls only; in-flight instances are unaffected.
	SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error

	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)

	// Start creates a running instance of the workflow against the given
	// resource reference and enters the first step.
	Start(ctx context.Context, workflowID, resourceType, resourceID string) (*WorkflowInstance, error)

	// CastVote records (or replaces) the voter's decision on an approval
	// step execution and evaluates the step's quorum rule. Any rejection
	// immediately fails the step and cancels the instance, regardless of
	// the quorum rule. Votes against terminal instances are no-ops.
	CastVote(ctx context.Context, stepExecutionID, voterID string, decision Decision, comments string) error

	// ExpireTimer marks an SLA timer expired and fails its step execution.
	// If the immediately following step is an escalation step the instance
	// advances to it; otherwise the instance fails. ExpireTimer is
	// idempotent and safe to call late or more than once.
	ExpireTimer(ctx context.Context, timerID string) error

	// CompleteStep is the external completion signal for notification,
	// escalation and action step executions, whose work happens outside
	// the engine. It also completes an sla_timer step before its deadline,
	// marking the timer completed.
	CompleteStep(ctx context.Context, stepExecutionID string, result any) error

	// Cancel terminates a running instance. It is idempotent: cancelling a
	// terminal instance is a no-op.
	Cancel(ctx context.Context, instanceID string) error

	GetInstance(ctx context.Context, id string) (*WorkflowInstance, error)
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)
	ListStepExecutions(ctx context.Context, instanceID string) ([]*StepExecution, error)
	ListVotes(ctx context.Context, stepExecutionID string) ([]*Vote, error)
	GetTimer(ctx context.Context, timerID string) (*SLATimer, error)

	// ListDueTimers returns active timers whose deadline is at or before
	// the given time. This is the query an external time-driven scheduler
	// (see pkg/sweeper) pairs with ExpireTimer.
	ListDueTimers(ctx context.Context, before time.Time) ([]*SLATimer, error)
}

// EngineOptions configures optional engine collaborators. Zero values get
// defaults: NoopObserver, StaticResolver and time.Now.
type EngineOptions struct {
	Observer Observer
	Resolver ApproverResolver

	// Clock supplies the engine's notion of now. Tests inject a fixed
	// clock to make SLA deadlines deterministic.
	Clock func() time.Time
}
