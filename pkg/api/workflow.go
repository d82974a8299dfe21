package api

import (
	"encoding/gob"
	"fmt"
)

func init() {
	// Step configs are persisted through the gob codec as StepConfig values;
	// trigger conditions travel through the same codec as a plain map.
	gob.Register(map[string]string{})
	gob.Register(ApprovalConfig{})
	gob.Register(SLATimerConfig{})
	gob.Register(NotificationConfig{})
	gob.Register(EscalationConfig{})
	gob.Register(ActionConfig{})
}

// TriggerType identifies the business event that starts a workflow.
type TriggerType string

const (
	TriggerResourceCreated   TriggerType = "resource_created"
	TriggerResourceUpdated   TriggerType = "resource_updated"
	TriggerResourceSubmitted TriggerType = "resource_submitted"
	TriggerThresholdBreach   TriggerType = "threshold_breach"
	TriggerManual            TriggerType = "manual"
)

// StepType identifies the behavior of a workflow step.
type StepType string

const (
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
	StepEscalation   StepType = "escalation"
	StepSLATimer     StepType = "sla_timer"
	StepAction       StepType = "action"
)

// QuorumRule determines how the votes on an approval step combine into a
// verdict. A step has exactly one quorum rule, shared by all of its approvers.
type QuorumRule string

const (
	// QuorumAny resolves the step approved on the first approving vote.
	QuorumAny QuorumRule = "any"

	// QuorumAll resolves the step approved once every voter has voted and
	// none rejected.
	QuorumAll QuorumRule = "all"

	// QuorumSequential accepts votes strictly in approver order; the step
	// resolves approved when the last approver in the sequence approves.
	QuorumSequential QuorumRule = "sequential"
)

// ApproverKind tags how an ApproverSpec is resolved into voter identities.
type ApproverKind string

const (
	ApproverUser    ApproverKind = "user"
	ApproverRole    ApproverKind = "role"
	ApproverDynamic ApproverKind = "dynamic"
)

// ApproverSpec describes one configured approver of an approval step.
// Specs are resolved into concrete voter ids when the step is entered.
type ApproverSpec struct {
	ID     string
	StepID string
	Kind   ApproverKind

	// Target is the user id for ApproverUser, the role name for
	// ApproverRole, and a resolver-defined key for ApproverDynamic.
	Target string

	// Quorum mirrors the step's quorum rule on every spec row.
	// It is filled in by the engine at creation time.
	Quorum QuorumRule
}

// StepConfig is the tagged per-type configuration of a step.
// Exactly one concrete config type exists per StepType.
type StepConfig interface {
	Type() StepType
	Validate() error
}

// ApprovalConfig configures an approval step: who votes and how the votes
// combine.
type ApprovalConfig struct {
	Quorum    QuorumRule
	Approvers []ApproverSpec
}

func (ApprovalConfig) Type() StepType { return StepApproval }

func (c ApprovalConfig) Validate() error {
	switch c.Quorum {
	case QuorumAny, QuorumAll, QuorumSequential:
	default:
		return fmt.Errorf("%w: unknown quorum rule %q", ErrInvalidDefinition, c.Quorum)
	}
	if len(c.Approvers) == 0 {
		return fmt.Errorf("%w: approval step has no approvers", ErrInvalidDefinition)
	}
	for _, a := range c.Approvers {
		switch a.Kind {
		case ApproverUser, ApproverRole, ApproverDynamic:
		default:
			return fmt.Errorf("%w: unknown approver kind %q", ErrInvalidDefinition, a.Kind)
		}
		if a.Target == "" {
			return fmt.Errorf("%w: approver of kind %q has empty target", ErrInvalidDefinition, a.Kind)
		}
	}
	return nil
}

// DefaultSLAHours is the timer duration applied when a SLATimerConfig does
// not specify one.
const DefaultSLAHours = 24

// SLATimerConfig configures a timed-wait step. A zero DurationHours means
// DefaultSLAHours.
type SLATimerConfig struct {
	DurationHours int
}

func (SLATimerConfig) Type() StepType { return StepSLATimer }

func (c SLATimerConfig) Validate() error {
	if c.DurationHours < 0 {
		return fmt.Errorf("%w: negative sla duration %d", ErrInvalidDefinition, c.DurationHours)
	}
	return nil
}

// NotificationConfig carries the free-form payload of a notification step.
// Delivery itself is external; the step completes via Engine.CompleteStep.
type NotificationConfig struct {
	Payload map[string]string
}

func (NotificationConfig) Type() StepType { return StepNotification }
func (NotificationConfig) Validate() error { return nil }

// EscalationConfig carries the free-form payload of an escalation step.
// An escalation step placed directly after an sla_timer step is entered
// automatically when that timer expires.
type EscalationConfig struct {
	Payload map[string]string
}

func (EscalationConfig) Type() StepType { return StepEscalation }
func (EscalationConfig) Validate() error { return nil }

// ActionConfig carries the free-form payload of an action step.
type ActionConfig struct {
	Payload map[string]string
}

func (ActionConfig) Type() StepType { return StepAction }
func (ActionConfig) Validate() error { return nil }

// Step is one stage of a workflow. Order values are strictly increasing
// within a workflow and define execution order.
type Step struct {
	ID         string
	WorkflowID string
	Order      int
	Type       StepType
	Config     StepConfig
}

// Workflow is a reusable, ordered template of steps triggered by a business
// event type. Definitions are treated as immutable once created; only scalar
// metadata may change afterwards.
type Workflow struct {
	ID                string
	OrgID             string
	DisplayID         string
	Name              string
	Trigger           TriggerType
	TriggerConditions map[string]string
	Enabled           bool

	// Steps are sorted by ascending Order.
	Steps []Step
}

// StepDraft is the pre-persistence form of a step.
type StepDraft struct {
	Order  int
	Type   StepType
	Config StepConfig
}

// WorkflowDraft is the input to Engine.CreateWorkflow.
type WorkflowDraft struct {
	Name              string
	Trigger           TriggerType
	TriggerConditions map[string]string
	Steps             []StepDraft
}

// Validate checks the structural invariants of a draft: a name, at least one
// step, strictly increasing step order, and a config matching each step type.
func (d WorkflowDraft) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: workflow name is required", ErrInvalidDefinition)
	}
	switch d.Trigger {
	case TriggerResourceCreated, TriggerResourceUpdated, TriggerResourceSubmitted,
		TriggerThresholdBreach, TriggerManual:
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidDefinition, d.Trigger)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: workflow has no steps", ErrInvalidDefinition)
	}
	prev := -1
	for i, s := range d.Steps {
		if i > 0 && s.Order <= prev {
			return fmt.Errorf("%w: step order %d after %d is not strictly increasing",
				ErrInvalidDefinition, s.Order, prev)
		}
		prev = s.Order
		if s.Config == nil {
			return fmt.Errorf("%w: step %d has no config", ErrInvalidDefinition, s.Order)
		}
		if s.Config.Type() != s.Type {
			return fmt.Errorf("%w: step %d declares type %q but carries a %q config",
				ErrInvalidDefinition, s.Order, s.Type, s.Config.Type())
		}
		if err := s.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// WorkflowUpdate names the scalar workflow fields that may change after
// creation. Nil fields are left untouched. Steps and approvers are not
// updatable through this path.
type WorkflowUpdate struct {
	Name              *string
	TriggerConditions map[string]string
}

// WorkflowFilter selects workflows in ListWorkflows. Nil / empty fields mean
// "no filter".
type WorkflowFilter struct {
	Enabled *bool
	Trigger TriggerType
}
