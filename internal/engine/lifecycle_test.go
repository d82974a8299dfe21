package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// currentExec returns the execution the instance is waiting on.
func currentExec(t *testing.T, eng api.Engine, instanceID string) *api.StepExecution {
	t.Helper()

	inst, err := eng.GetInstance(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	execs, err := eng.ListStepExecutions(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	for _, exec := range execs {
		if exec.StepID == inst.CurrentStepID && !exec.Status.Terminal() {
			return exec
		}
	}
	t.Fatalf("no open execution for current step %q", inst.CurrentStepID)
	return nil
}

func requireInstanceStatus(t *testing.T, eng api.Engine, instanceID string, want api.InstanceStatus) *api.WorkflowInstance {
	t.Helper()

	inst, err := eng.GetInstance(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if inst.Status != want {
		t.Fatalf("expected instance status %s, got %s", want, inst.Status)
	}
	return inst
}

func TestStart_EntersFirstStepAndCreatesVotes(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	wf, err := eng.CreateWorkflow(ctx, "org-1", approvalDraft(api.QuorumAll, "alice", "bob"))
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	inst, err := eng.Start(ctx, wf.ID, "expense", "exp-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if inst.Status != api.InstanceRunning || inst.CurrentStepID != wf.Steps[0].ID {
		t.Fatalf("instance not positioned on first step: %+v", inst)
	}
	if inst.ResourceType != "expense" || inst.ResourceID != "exp-1" {
		t.Fatalf("resource binding wrong: %+v", inst)
	}

	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != api.ExecutionPending {
		t.Fatalf("expected one pending execution, got %+v", execs)
	}

	votes, err := eng.ListVotes(ctx, execs[0].ID)
	if err != nil {
		t.Fatalf("ListVotes failed: %v", err)
	}
	if len(votes) != 2 {
		t.Fatalf("expected 2 pending votes, got %d", len(votes))
	}
	for _, v := range votes {
		if v.Status != api.VotePending || v.DecidedAt != nil {
			t.Fatalf("vote not pending: %+v", v)
		}
	}
	if votes[0].VoterID != "alice" || votes[1].VoterID != "bob" {
		t.Fatalf("voter order wrong: %+v", votes)
	}
}

func TestStart_UnresolvableApproversFailsInstance(t *testing.T) {
	// The default StaticResolver has no backend for role specs.
	eng := NewInMemoryEngine()
	ctx := context.Background()

	draft := api.WorkflowDraft{
		Name:    "role approval",
		Trigger: api.TriggerManual,
		Steps: []api.StepDraft{
			{Order: 1, Type: api.StepApproval, Config: api.ApprovalConfig{
				Quorum:    api.QuorumAny,
				Approvers: []api.ApproverSpec{{Kind: api.ApproverRole, Target: "legal"}},
			}},
		},
	}
	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	inst, err := eng.Start(ctx, wf.ID, "contract", "ctr-1")
	if !errors.Is(err, api.ErrUnresolvableApprovers) {
		t.Fatalf("expected ErrUnresolvableApprovers, got %v", err)
	}
	if inst == nil {
		t.Fatalf("expected the failed instance to be returned")
	}

	requireInstanceStatus(t, eng, inst.ID, api.InstanceFailed)
	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != api.ExecutionFailed || execs[0].Error == "" {
		t.Fatalf("expected failed execution with error, got %+v", execs)
	}
}

func TestApprovalThenNotificationHappyPath(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	draft := api.WorkflowDraft{
		Name:    "review then notify",
		Trigger: api.TriggerResourceSubmitted,
		Steps: []api.StepDraft{
			{Order: 1, Type: api.StepApproval, Config: api.ApprovalConfig{
				Quorum:    api.QuorumAny,
				Approvers: []api.ApproverSpec{{Kind: api.ApproverUser, Target: "alice"}},
			}},
			{Order: 2, Type: api.StepNotification, Config: api.NotificationConfig{
				Payload: map[string]string{"channel": "email"},
			}},
		},
	}
	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "expense", "exp-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	exec := currentExec(t, eng, inst.ID)
	if err := eng.CastVote(ctx, exec.ID, "alice", api.DecisionApproved, "ok"); err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}

	// The approval resolved and the notification step was entered.
	inst = requireInstanceStatus(t, eng, inst.ID, api.InstanceRunning)
	if inst.CurrentStepID != wf.Steps[1].ID {
		t.Fatalf("instance did not advance: %+v", inst)
	}
	notify := currentExec(t, eng, inst.ID)

	if err := eng.CompleteStep(ctx, notify.ID, map[string]string{"message_id": "m-1"}); err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}

	inst = requireInstanceStatus(t, eng, inst.ID, api.InstanceCompleted)
	if inst.CurrentStepID != "" || inst.CompletedAt == nil {
		t.Fatalf("completed instance not finalized: %+v", inst)
	}

	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	for _, e := range execs {
		if e.Status != api.ExecutionCompleted || e.CompletedAt == nil {
			t.Fatalf("execution not completed: %+v", e)
		}
	}
	result, ok := execs[1].Result.(map[string]string)
	if !ok || result["message_id"] != "m-1" {
		t.Fatalf("completion result not recorded: %#v", execs[1].Result)
	}

	votes, err := eng.ListVotes(ctx, execs[0].ID)
	if err != nil {
		t.Fatalf("ListVotes failed: %v", err)
	}
	if votes[0].Status != api.VoteApproved || votes[0].Comments != "ok" || votes[0].DecidedAt == nil {
		t.Fatalf("vote not recorded: %+v", votes[0])
	}
}

func TestCastVote_UnknownVoterAndWrongStepType(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	draft := api.WorkflowDraft{
		Name:    "notify only after approval",
		Trigger: api.TriggerManual,
		Steps: []api.StepDraft{
			{Order: 1, Type: api.StepApproval, Config: api.ApprovalConfig{
				Quorum:    api.QuorumAny,
				Approvers: []api.ApproverSpec{{Kind: api.ApproverUser, Target: "alice"}},
			}},
			{Order: 2, Type: api.StepAction, Config: api.ActionConfig{}},
		},
	}
	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "finding", "f-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	approval := currentExec(t, eng, inst.ID)
	if err := eng.CastVote(ctx, approval.ID, "mallory", api.DecisionApproved, ""); !errors.Is(err, api.ErrUnknownVoter) {
		t.Fatalf("expected ErrUnknownVoter, got %v", err)
	}
	// CompleteStep is not a substitute for voting.
	if err := eng.CompleteStep(ctx, approval.ID, nil); err == nil {
		t.Fatalf("expected CompleteStep on approval step to fail")
	}

	if err := eng.CastVote(ctx, approval.ID, "alice", api.DecisionApproved, ""); err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	action := currentExec(t, eng, inst.ID)
	if err := eng.CastVote(ctx, action.ID, "alice", api.DecisionApproved, ""); !errors.Is(err, api.ErrNotApprovalStep) {
		t.Fatalf("expected ErrNotApprovalStep, got %v", err)
	}
}

func TestCancel_SkipsOpenWorkAndIsIdempotent(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	draft := api.WorkflowDraft{
		Name:    "approval with sla",
		Trigger: api.TriggerManual,
		Steps: []api.StepDraft{
			{Order: 1, Type: api.StepSLATimer, Config: api.SLATimerConfig{DurationHours: 4}},
			{Order: 2, Type: api.StepApproval, Config: api.ApprovalConfig{
				Quorum:    api.QuorumAny,
				Approvers: []api.ApproverSpec{{Kind: api.ApproverUser, Target: "alice"}},
			}},
		},
	}
	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "incident", "inc-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	timerExec := currentExec(t, eng, inst.ID)

	if err := eng.Cancel(ctx, inst.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	inst = requireInstanceStatus(t, eng, inst.ID, api.InstanceCancelled)
	if inst.CompletedAt == nil || inst.CurrentStepID != "" {
		t.Fatalf("cancelled instance not finalized: %+v", inst)
	}

	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != api.ExecutionSkipped {
		t.Fatalf("open execution not skipped: %+v", execs)
	}

	// The pending deadline was retired with its step.
	due, err := eng.ListDueTimers(ctx, inst.StartedAt.Add(100*time.Hour))
	if err != nil {
		t.Fatalf("ListDueTimers failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("cancelled instance left active timers: %+v", due)
	}

	// Second cancel and late completion signals are no-ops.
	if err := eng.Cancel(ctx, inst.ID); err != nil {
		t.Fatalf("repeat Cancel failed: %v", err)
	}
	if err := eng.CompleteStep(ctx, timerExec.ID, nil); err != nil {
		t.Fatalf("late CompleteStep failed: %v", err)
	}
	requireInstanceStatus(t, eng, inst.ID, api.InstanceCancelled)
}

func TestCastVote_AfterTerminalInstanceIsNoOp(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	wf, err := eng.CreateWorkflow(ctx, "org-1", approvalDraft(api.QuorumAll, "alice", "bob"))
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "expense", "exp-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	exec := currentExec(t, eng, inst.ID)

	if err := eng.Cancel(ctx, inst.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if err := eng.CastVote(ctx, exec.ID, "alice", api.DecisionApproved, "late"); err != nil {
		t.Fatalf("late CastVote should be a no-op, got %v", err)
	}
	votes, err := eng.ListVotes(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ListVotes failed: %v", err)
	}
	for _, v := range votes {
		if v.Status != api.VotePending {
			t.Fatalf("late vote mutated state: %+v", v)
		}
	}
	requireInstanceStatus(t, eng, inst.ID, api.InstanceCancelled)
}

func TestListInstancesFilter(t *testing.T) {
	eng := NewInMemoryEngine()
	ctx := context.Background()

	wf, err := eng.CreateWorkflow(ctx, "org-1", approvalDraft(api.QuorumAny, "alice"))
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	other, err := eng.CreateWorkflow(ctx, "org-1", approvalDraft(api.QuorumAny, "bob"))
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	a, err := eng.Start(ctx, wf.ID, "expense", "exp-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := eng.Start(ctx, wf.ID, "expense", "exp-2"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := eng.Start(ctx, other.ID, "expense", "exp-3"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eng.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, err := eng.ListInstances(ctx, api.InstanceListOptions{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("workflow filter wrong: %d", len(got))
	}

	got, err = eng.ListInstances(ctx, api.InstanceListOptions{Status: api.InstanceRunning})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("status filter wrong: %d", len(got))
	}

	got, err = eng.ListInstances(ctx, api.InstanceListOptions{WorkflowID: wf.ID, Status: api.InstanceCancelled})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("combined filter wrong: %+v", got)
	}
}
