// Package api contains the core building blocks of the quoro approval
// orchestration engine: the persisted record types, the Engine interface,
// the error taxonomy, and the pluggable Observer and ApproverResolver
// collaborators.
//
// Most users interact with the higher-level quoro package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Workflows and steps
//
// A Workflow is an ordered template of Steps, each tagged with a StepType
// and a matching StepConfig variant. Definitions are validated at creation
// (WorkflowDraft.Validate) and treated as immutable afterwards; only scalar
// metadata may change.
//
// # Instances, executions and votes
//
// Starting a workflow against a resource produces a WorkflowInstance, which
// owns one StepExecution per entered step. Approval step executions own one
// Vote per resolved voter; sla_timer step executions own one SLATimer.
// Instances are never deleted, forming a permanent audit trail.
//
// # Resolution
//
// Votes combine under the step's QuorumRule, with one overriding policy: a
// single rejection always fails the step and cancels the instance, whatever
// the rule. SLA timers are expired by an external caller (see pkg/sweeper);
// the engine itself never polls the clock.
//
// # Observability
//
// The Observer interface receives instance, step, vote and timer lifecycle
// events. NoopObserver, CompositeObserver, LoggingObserver (log/slog) and
// BasicMetrics cover the common cases.
package api
