// Package quoro is an embeddable approval workflow engine for Go
// applications.
//
// Quoro drives definition-based workflows: an ordered list of steps such as
// approvals, notifications, SLA timers, escalations and actions, created once
// per organization and then started against individual resources (a vendor
// record, a contract, a risk finding). The engine tracks every running
// instance, records every approver's vote, and advances instances one step
// at a time until they complete, fail, or are cancelled.
//
// # Core Concepts
//
//   - Workflow: a reusable template of ordered steps, bound to a trigger
//     event type. Immutable once created except for scalar metadata.
//   - WorkflowInstance: one run of a workflow against a single resource,
//     with a pointer to the step currently awaiting resolution.
//   - StepExecution: the record of one instance entering one step, with
//     votes and timers hanging off it.
//   - Vote: a single approver's verdict on an approval step execution.
//   - SLATimer: a persisted deadline for a timed-wait step; deadlines are
//     enforced by calling ExpireTimer, typically from pkg/sweeper.
//
// # Approval Semantics
//
// Approval steps carry a quorum rule. "any" resolves the step on the first
// approval, "all" waits for every voter, and "sequential" accepts votes
// strictly in approver order. A single rejection always cancels the whole
// instance, regardless of the rule or how many approvals were already cast.
//
// # Defining Workflows
//
// Workflows are defined with the fluent builder:
//
//	eng := quoro.NewInMemoryEngine()
//
//	wf, err := quoro.NewWorkflow("Vendor contract review", quoro.TriggerResourceSubmitted).
//	    Approval(quoro.QuorumAll, quoro.User("alice"), quoro.Role("legal")).
//	    Timer(48).
//	    Escalation(map[string]string{"notify": "cfo"}).
//	    Create(ctx, eng, "org-1")
//
// or loaded from YAML with LoadWorkflowFile / ParseWorkflow.
//
// # Running Instances
//
// Instances start when a triggering event occurs and move forward as the
// outside world reports in:
//
//	inst, err := eng.Start(ctx, wf.ID, "contract", "contract-42")
//
//	execs, _ := eng.ListStepExecutions(ctx, inst.ID)
//	err = eng.CastVote(ctx, execs[0].ID, "alice", quoro.DecisionApproved, "lgtm")
//
// Non-approval steps (notifications, escalations, actions) complete through
// Engine.CompleteStep once the surrounding application has performed the
// side effect. The engine never performs I/O on the application's behalf.
//
// # Persistence
//
// Engines are available over in-memory stores (tests, prototypes), SQLite
// (single-process durable deployments) and PostgreSQL. All backends share
// the same semantics; NewSQLiteBundle additionally wires a Sweeper over the
// same database.
//
// # Observability
//
// Lifecycle events flow through the api.Observer interface. The package
// ships a slog-based LoggingObserver, an atomic-counter BasicMetrics, and a
// CompositeObserver for fan-out. Observers are injected via EngineOptions.
package quoro
