package quoro

import (
	"context"
	"database/sql"
	"time"

	"github.com/phautamaki/quoro/internal/engine"
	"github.com/phautamaki/quoro/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	EngineOptions        = api.EngineOptions
	Workflow             = api.Workflow
	WorkflowDraft        = api.WorkflowDraft
	WorkflowUpdate       = api.WorkflowUpdate
	WorkflowFilter       = api.WorkflowFilter
	Step                 = api.Step
	StepDraft            = api.StepDraft
	StepConfig           = api.StepConfig
	ApprovalConfig       = api.ApprovalConfig
	NotificationConfig   = api.NotificationConfig
	EscalationConfig     = api.EscalationConfig
	SLATimerConfig       = api.SLATimerConfig
	ActionConfig         = api.ActionConfig
	ApproverSpec         = api.ApproverSpec
	WorkflowInstance     = api.WorkflowInstance
	StepExecution        = api.StepExecution
	Vote                 = api.Vote
	SLATimer             = api.SLATimer
	InstanceListOptions  = api.InstanceListOptions
	TriggerType          = api.TriggerType
	StepType             = api.StepType
	QuorumRule           = api.QuorumRule
	ApproverKind         = api.ApproverKind
	Decision             = api.Decision
	InstanceStatus       = api.InstanceStatus
	ExecutionStatus      = api.ExecutionStatus
	VoteStatus           = api.VoteStatus
	TimerStatus          = api.TimerStatus
	ApproverResolver     = api.ApproverResolver
	ResourceContext      = api.ResourceContext
	StaticResolver       = api.StaticResolver
	DirectoryResolver    = api.DirectoryResolver
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export the enumerated values callers need to build and inspect
// workflows without importing pkg/api.

const (
	TriggerResourceCreated   = api.TriggerResourceCreated
	TriggerResourceUpdated   = api.TriggerResourceUpdated
	TriggerResourceSubmitted = api.TriggerResourceSubmitted
	TriggerThresholdBreach   = api.TriggerThresholdBreach
	TriggerManual            = api.TriggerManual

	StepApproval     = api.StepApproval
	StepNotification = api.StepNotification
	StepEscalation   = api.StepEscalation
	StepSLATimer     = api.StepSLATimer
	StepAction       = api.StepAction

	QuorumAny        = api.QuorumAny
	QuorumAll        = api.QuorumAll
	QuorumSequential = api.QuorumSequential

	ApproverUser    = api.ApproverUser
	ApproverRole    = api.ApproverRole
	ApproverDynamic = api.ApproverDynamic

	DecisionApproved = api.DecisionApproved
	DecisionRejected = api.DecisionRejected

	InstanceRunning   = api.InstanceRunning
	InstanceCompleted = api.InstanceCompleted
	InstanceCancelled = api.InstanceCancelled
	InstanceFailed    = api.InstanceFailed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithOptions returns an in-memory Engine with the given
// options (observer, approver resolver, clock).
func NewInMemoryEngineWithOptions(opts EngineOptions) Engine {
	return engine.NewInMemoryEngineWithOptions(opts)
}

// NewSQLiteEngine returns an Engine that persists workflows, instances,
// votes and timers in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithOptions returns a SQLite-backed Engine with the given
// options.
func NewSQLiteEngineWithOptions(db *sql.DB, opts EngineOptions) (Engine, error) {
	return engine.NewSQLiteEngineWithOptions(db, opts)
}

// NewPostgresEngine returns an Engine that persists state in PostgreSQL.
// The caller is responsible for importing a database/sql driver.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithOptions returns a Postgres-backed Engine with the
// given options.
func NewPostgresEngineWithOptions(db *sql.DB, opts EngineOptions) (Engine, error) {
	return engine.NewPostgresEngineWithOptions(db, opts)
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts a new instance of a workflow against a resource.
func Start(ctx context.Context, eng Engine, workflowID, resourceType, resourceID string) (*WorkflowInstance, error) {
	return eng.Start(ctx, workflowID, resourceType, resourceID)
}

// Approve records an approval vote on a step execution.
func Approve(ctx context.Context, eng Engine, stepExecutionID, voterID, comments string) error {
	return eng.CastVote(ctx, stepExecutionID, voterID, DecisionApproved, comments)
}

// Reject records a rejecting vote on a step execution. A single rejection
// cancels the instance regardless of the step's quorum rule.
func Reject(ctx context.Context, eng Engine, stepExecutionID, voterID, comments string) error {
	return eng.CastVote(ctx, stepExecutionID, voterID, DecisionRejected, comments)
}

// CompleteStep reports that a non-approval step has finished.
func CompleteStep(ctx context.Context, eng Engine, stepExecutionID string, result any) error {
	return eng.CompleteStep(ctx, stepExecutionID, result)
}

// Cancel terminates a running instance.
func Cancel(ctx context.Context, eng Engine, instanceID string) error {
	return eng.Cancel(ctx, instanceID)
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*WorkflowInstance, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists workflow instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*WorkflowInstance, error) {
	return eng.ListInstances(ctx, opts)
}

// ExpireDueTimers expires every SLA timer due at the given moment. It is a
// one-shot form of what pkg/sweeper does on an interval:
//
//	count, err := quoro.ExpireDueTimers(ctx, engine, time.Now())
func ExpireDueTimers(ctx context.Context, eng Engine, before time.Time) (int, error) {
	due, err := eng.ListDueTimers(ctx, before)
	if err != nil {
		return 0, err
	}
	for _, timer := range due {
		if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
			return len(due), err
		}
	}
	return len(due), nil
}
