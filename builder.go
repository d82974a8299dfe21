package quoro

import (
	"context"
	"fmt"

	"github.com/phautamaki/quoro/pkg/api"
)

// WorkflowBuilder provides a fluent API for assembling workflow drafts:
//
//	draft := quoro.NewWorkflow("Vendor contract review", quoro.TriggerResourceSubmitted).
//	    Approval(quoro.QuorumAll,
//	        quoro.User("alice"),
//	        quoro.Role("legal")).
//	    Timer(48).
//	    Escalation(map[string]string{"notify": "cfo"}).
//	    Notification(map[string]string{"channel": "email"}).
//	    Draft()
//
//	wf, err := engine.CreateWorkflow(ctx, orgID, draft)
//
// Steps are ordered in call order. The builder only shapes the draft;
// validation happens in CreateWorkflow.
type WorkflowBuilder struct {
	draft api.WorkflowDraft
}

// NewWorkflow creates a new workflow builder with the given name and
// trigger.
func NewWorkflow(name string, trigger TriggerType) *WorkflowBuilder {
	return &WorkflowBuilder{
		draft: api.WorkflowDraft{
			Name:    name,
			Trigger: trigger,
			Steps:   make([]api.StepDraft, 0),
		},
	}
}

// Name returns the workflow name.
func (b *WorkflowBuilder) Name() string {
	return b.draft.Name
}

// TriggerConditions sets the trigger condition map on the draft.
func (b *WorkflowBuilder) TriggerConditions(conds map[string]string) *WorkflowBuilder {
	b.draft.TriggerConditions = conds
	return b
}

func (b *WorkflowBuilder) step(t StepType, cfg StepConfig) *WorkflowBuilder {
	b.draft.Steps = append(b.draft.Steps, api.StepDraft{
		Order:  len(b.draft.Steps) + 1,
		Type:   t,
		Config: cfg,
	})
	return b
}

// Approval appends an approval step with the given quorum rule and
// approvers.
func (b *WorkflowBuilder) Approval(quorum QuorumRule, approvers ...ApproverSpec) *WorkflowBuilder {
	if len(approvers) == 0 {
		panic(fmt.Sprintf("quoro: approval step %d has no approvers", len(b.draft.Steps)+1))
	}
	return b.step(StepApproval, api.ApprovalConfig{
		Quorum:    quorum,
		Approvers: approvers,
	})
}

// Notification appends a notification step carrying the given payload.
func (b *WorkflowBuilder) Notification(payload map[string]string) *WorkflowBuilder {
	return b.step(StepNotification, api.NotificationConfig{Payload: payload})
}

// Escalation appends an escalation step. Placed directly after an sla_timer
// or approval step, it becomes the routing target when that step's SLA
// expires.
func (b *WorkflowBuilder) Escalation(payload map[string]string) *WorkflowBuilder {
	return b.step(StepEscalation, api.EscalationConfig{Payload: payload})
}

// Timer appends an sla_timer step with the given duration in hours. Zero
// means DefaultSLAHours.
func (b *WorkflowBuilder) Timer(hours int) *WorkflowBuilder {
	return b.step(StepSLATimer, api.SLATimerConfig{DurationHours: hours})
}

// Action appends an action step carrying the given payload.
func (b *WorkflowBuilder) Action(payload map[string]string) *WorkflowBuilder {
	return b.step(StepAction, api.ActionConfig{Payload: payload})
}

// Draft returns the assembled WorkflowDraft.
// Typically used when interacting with lower-level APIs.
func (b *WorkflowBuilder) Draft() WorkflowDraft {
	return b.draft
}

// Create persists the draft as a new enabled workflow on the given engine.
func (b *WorkflowBuilder) Create(ctx context.Context, eng Engine, orgID string) (*Workflow, error) {
	return eng.CreateWorkflow(ctx, orgID, b.draft)
}

// Approver spec shorthands used with Approval.

// User names a single concrete approver.
func User(id string) ApproverSpec {
	return ApproverSpec{Kind: ApproverUser, Target: id}
}

// Role names a role whose members are resolved when the step is entered.
func Role(name string) ApproverSpec {
	return ApproverSpec{Kind: ApproverRole, Target: name}
}

// Dynamic names a resolver-defined rule, e.g. "resource_owner_manager".
func Dynamic(rule string) ApproverSpec {
	return ApproverSpec{Kind: ApproverDynamic, Target: rule}
}
