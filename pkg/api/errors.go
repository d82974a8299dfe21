package api

import "errors"

var (
	// ErrInvalidDefinition is returned by CreateWorkflow for structurally
	// invalid drafts. Invalid definitions are never persisted.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrNoSteps is returned by Start when the workflow has no steps.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrNotFound is wrapped around lookups of unknown workflow, instance,
	// step execution, vote or timer ids.
	ErrNotFound = errors.New("not found")

	// ErrWorkflowDisabled is returned by Start for disabled workflows.
	// Disabling never affects instances that are already running.
	ErrWorkflowDisabled = errors.New("workflow is disabled")

	// ErrUnresolvableApprovers is returned when entering an approval step
	// whose approver specs resolve to no voters. The step and its instance
	// fail rather than stall.
	ErrUnresolvableApprovers = errors.New("no approvers could be resolved")

	// ErrUnknownVoter is returned by CastVote when the voter is not among
	// the resolved voters of the step execution.
	ErrUnknownVoter = errors.New("voter not eligible for step execution")

	// ErrOutOfTurn is returned by CastVote on a sequential-quorum step when
	// the voter is not the one whose turn it is. The vote is not recorded.
	ErrOutOfTurn = errors.New("vote out of turn")

	// ErrNotApprovalStep is returned by CastVote against a step execution
	// that does not belong to an approval step.
	ErrNotApprovalStep = errors.New("step execution is not an approval step")
)
