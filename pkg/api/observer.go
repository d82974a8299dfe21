package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay instance resolution.
type Observer interface {
	// OnInstanceStarted is called once when an instance is started, before
	// its first step execution is created.
	OnInstanceStarted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceCompleted is called when an instance reaches
	// InstanceCompleted.
	OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceCancelled is called when an instance is cancelled, either
	// by Cancel or by a rejecting vote.
	OnInstanceCancelled(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceFailed is called when an instance transitions to
	// InstanceFailed (SLA breach without escalation, unresolvable
	// approvers).
	OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)

	// OnStepEntered is called after a step execution record is created.
	OnStepEntered(ctx context.Context, inst *WorkflowInstance, exec *StepExecution)

	// OnStepResolved is called when a step execution reaches a terminal
	// state. err is nil for completed executions.
	OnStepResolved(ctx context.Context, inst *WorkflowInstance, exec *StepExecution, err error)

	// OnVoteRecorded is called after a vote is upserted, whether or not it
	// resolves the step.
	OnVoteRecorded(ctx context.Context, exec *StepExecution, vote *Vote)

	// OnTimerExpired is called when an SLA timer transitions to
	// TimerExpired.
	OnTimerExpired(ctx context.Context, timer *SLATimer)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance)            {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)          {}
func (NoopObserver) OnInstanceCancelled(ctx context.Context, inst *WorkflowInstance)          {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)  {}
func (NoopObserver) OnStepEntered(ctx context.Context, inst *WorkflowInstance, exec *StepExecution) {
}
func (NoopObserver) OnStepResolved(ctx context.Context, inst *WorkflowInstance, exec *StepExecution, err error) {
}
func (NoopObserver) OnVoteRecorded(ctx context.Context, exec *StepExecution, vote *Vote) {}
func (NoopObserver) OnTimerExpired(ctx context.Context, timer *SLATimer)                 {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCancelled(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceCancelled(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnStepEntered(ctx context.Context, inst *WorkflowInstance, exec *StepExecution) {
	for _, o := range c.observers {
		o.OnStepEntered(ctx, inst, exec)
	}
}

func (c *CompositeObserver) OnStepResolved(ctx context.Context, inst *WorkflowInstance, exec *StepExecution, err error) {
	for _, o := range c.observers {
		o.OnStepResolved(ctx, inst, exec, err)
	}
}

func (c *CompositeObserver) OnVoteRecorded(ctx context.Context, exec *StepExecution, vote *Vote) {
	for _, o := range c.observers {
		o.OnVoteRecorded(ctx, exec, vote)
	}
}

func (c *CompositeObserver) OnTimerExpired(ctx context.Context, timer *SLATimer) {
	for _, o := range c.observers {
		o.OnTimerExpired(ctx, timer)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("workflow_id", inst.WorkflowID),
		slog.String("instance_id", inst.ID),
		slog.String("resource_type", inst.ResourceType),
		slog.String("resource_id", inst.ResourceID),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("workflow_id", inst.WorkflowID),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceCancelled(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_cancelled",
		slog.String("workflow_id", inst.WorkflowID),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("workflow_id", inst.WorkflowID),
		slog.String("instance_id", inst.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepEntered(ctx context.Context, inst *WorkflowInstance, exec *StepExecution) {
	o.Logger.DebugContext(ctx, "step_entered",
		slog.String("instance_id", inst.ID),
		slog.String("step_id", exec.StepID),
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnStepResolved(ctx context.Context, inst *WorkflowInstance, exec *StepExecution, err error) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_resolved",
		slog.String("instance_id", inst.ID),
		slog.String("step_id", exec.StepID),
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnVoteRecorded(ctx context.Context, exec *StepExecution, vote *Vote) {
	o.Logger.DebugContext(ctx, "vote_recorded",
		slog.String("execution_id", exec.ID),
		slog.String("voter_id", vote.VoterID),
		slog.String("decision", string(vote.Status)),
	)
}

func (o *LoggingObserver) OnTimerExpired(ctx context.Context, timer *SLATimer) {
	o.Logger.WarnContext(ctx, "sla_timer_expired",
		slog.String("timer_id", timer.ID),
		slog.String("execution_id", timer.StepExecutionID),
	)
}

// BasicMetrics collects simple counters for instance and step outcomes.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesCancelled atomic.Int64
	instancesFailed    atomic.Int64
	votesRecorded      atomic.Int64
	timersExpired      atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesCancelled int64
	InstancesFailed    int64
	RunningInstances   int64

	VotesRecorded int64
	TimersExpired int64
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceCancelled(ctx context.Context, inst *WorkflowInstance) {
	m.instancesCancelled.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnVoteRecorded(ctx context.Context, exec *StepExecution, vote *Vote) {
	m.votesRecorded.Add(1)
}

func (m *BasicMetrics) OnTimerExpired(ctx context.Context, timer *SLATimer) {
	m.timersExpired.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	cancelled := m.instancesCancelled.Load()
	failed := m.instancesFailed.Load()

	return BasicMetricsSnapshot{
		InstancesStarted:   started,
		InstancesCompleted: completed,
		InstancesCancelled: cancelled,
		InstancesFailed:    failed,
		RunningInstances:   started - completed - cancelled - failed,
		VotesRecorded:      m.votesRecorded.Load(),
		TimersExpired:      m.timersExpired.Load(),
	}
}
