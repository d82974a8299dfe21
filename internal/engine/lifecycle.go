package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phautamaki/quoro/internal/persistence"
	"github.com/phautamaki/quoro/pkg/api"
)

func (e *engineImpl) Start(ctx context.Context, workflowID, resourceType, resourceID string) (*api.WorkflowInstance, error) {
	wf, err := e.getWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, fmt.Errorf("%w: workflow %s", api.ErrWorkflowDisabled, workflowID)
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("%w: workflow %s", api.ErrNoSteps, workflowID)
	}

	first := wf.Steps[0]
	inst := &api.WorkflowInstance{
		ID:            newID(),
		WorkflowID:    wf.ID,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Status:        api.InstanceRunning,
		CurrentStepID: first.ID,
		StartedAt:     e.now(),
	}
	if err := e.instances.SaveInstance(inst); err != nil {
		return nil, err
	}
	e.observer.OnInstanceStarted(ctx, inst)

	lock := e.instanceLock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.createExecution(ctx, wf, inst, &first); err != nil {
		return inst, err
	}
	return inst, nil
}

// createExecution enters a step: it creates the pending StepExecution and
// the auxiliary records its type needs (votes for approval steps, a timer
// for sla_timer steps). Caller holds the instance lock.
func (e *engineImpl) createExecution(ctx context.Context, wf *api.Workflow, inst *api.WorkflowInstance, step *api.Step) error {
	now := e.now()
	exec := &api.StepExecution{
		ID:         newID(),
		InstanceID: inst.ID,
		StepID:     step.ID,
		Status:     api.ExecutionPending,
		StartedAt:  now,
	}
	if err := e.executions.SaveExecution(exec); err != nil {
		return err
	}
	e.observer.OnStepEntered(ctx, inst, exec)

	switch cfg := step.Config.(type) {
	case api.ApprovalConfig:
		voters, err := e.resolveVoters(ctx, wf, inst, cfg)
		if err == nil && len(voters) == 0 {
			err = fmt.Errorf("%w: step %s", api.ErrUnresolvableApprovers, step.ID)
		}
		if err != nil {
			return e.failStep(ctx, inst, exec, err)
		}
		for _, voterID := range voters {
			vote := &api.Vote{
				ID:              newID(),
				StepExecutionID: exec.ID,
				VoterID:         voterID,
				Status:          api.VotePending,
			}
			if err := e.votes.SaveVote(vote); err != nil {
				return err
			}
		}

	case api.SLATimerConfig:
		hours := cfg.DurationHours
		if hours == 0 {
			hours = api.DefaultSLAHours
		}
		timer := &api.SLATimer{
			ID:              newID(),
			StepExecutionID: exec.ID,
			DurationHours:   hours,
			StartTime:       now,
			EndTime:         now.Add(time.Duration(hours) * time.Hour),
			Status:          api.TimerActive,
		}
		if err := e.timers.SaveTimer(timer); err != nil {
			return err
		}
	}

	return nil
}

// resolveVoters materializes the step's approver specs into an ordered,
// de-duplicated voter list.
func (e *engineImpl) resolveVoters(ctx context.Context, wf *api.Workflow, inst *api.WorkflowInstance, cfg api.ApprovalConfig) ([]string, error) {
	rc := api.ResourceContext{
		OrgID:        wf.OrgID,
		ResourceType: inst.ResourceType,
		ResourceID:   inst.ResourceID,
	}
	var voters []string
	seen := make(map[string]bool)
	for _, spec := range cfg.Approvers {
		ids, err := e.resolver.Resolve(ctx, spec, rc)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				voters = append(voters, id)
			}
		}
	}
	return voters, nil
}

// failStep marks the execution failed and the instance failed with it.
// Caller holds the instance lock.
func (e *engineImpl) failStep(ctx context.Context, inst *api.WorkflowInstance, exec *api.StepExecution, cause error) error {
	now := e.now()
	won, err := e.executions.TransitionExecution(exec.ID, api.ExecutionFailed,
		api.ExecutionPending, api.ExecutionInProgress)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	exec.Status = api.ExecutionFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnStepResolved(ctx, inst, exec, cause)

	inst.Status = api.InstanceFailed
	inst.CurrentStepID = ""
	inst.CompletedAt = &now
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.observer.OnInstanceFailed(ctx, inst, cause)
	return cause
}

func (e *engineImpl) CastVote(ctx context.Context, stepExecutionID, voterID string, decision api.Decision, comments string) error {
	if decision != api.DecisionApproved && decision != api.DecisionRejected {
		return fmt.Errorf("unknown decision %q", decision)
	}

	// First load locates the instance; the authoritative read happens
	// under the instance lock.
	exec, err := e.getExecution(stepExecutionID)
	if err != nil {
		return err
	}

	lock := e.instanceLock(exec.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	exec, err = e.getExecution(stepExecutionID)
	if err != nil {
		return err
	}
	inst, err := e.getInstance(exec.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		// Idempotent under at-least-once delivery: late votes against a
		// settled instance are dropped, not rejected.
		return nil
	}

	wf, err := e.getWorkflow(inst.WorkflowID)
	if err != nil {
		return err
	}
	step := stepByID(wf, exec.StepID)
	if step == nil {
		return fmt.Errorf("%w: step %s", api.ErrNotFound, exec.StepID)
	}
	cfg, ok := step.Config.(api.ApprovalConfig)
	if !ok {
		return fmt.Errorf("%w: step execution %s", api.ErrNotApprovalStep, stepExecutionID)
	}

	vote, err := e.votes.GetVoteByVoter(stepExecutionID, voterID)
	if err != nil {
		if errors.Is(err, persistence.ErrVoteNotFound) {
			return fmt.Errorf("%w: voter %s", api.ErrUnknownVoter, voterID)
		}
		return err
	}

	active := !exec.Status.Terminal()

	votes, err := e.votes.ListVotes(stepExecutionID)
	if err != nil {
		return err
	}

	if active && cfg.Quorum == api.QuorumSequential {
		if exec.VoterIndex >= len(votes) || votes[exec.VoterIndex].VoterID != voterID {
			return fmt.Errorf("%w: voter %s", api.ErrOutOfTurn, voterID)
		}
	}

	now := e.now()
	vote.Status = api.VoteApproved
	if decision == api.DecisionRejected {
		vote.Status = api.VoteRejected
	}
	vote.Comments = comments
	vote.DecidedAt = &now
	if err := e.votes.UpdateVote(vote); err != nil {
		return err
	}
	e.observer.OnVoteRecorded(ctx, exec, vote)

	if !active {
		// The step already resolved (e.g. an any-quorum race the voter
		// lost). The changed mind is recorded but has no further effect.
		return nil
	}

	if exec.Status == api.ExecutionPending {
		if _, err := e.executions.TransitionExecution(exec.ID, api.ExecutionInProgress, api.ExecutionPending); err != nil {
			return err
		}
		exec.Status = api.ExecutionInProgress
	}

	if vote.Status == api.VoteRejected {
		return e.vetoStep(ctx, inst, exec, voterID)
	}

	resolved := false
	switch cfg.Quorum {
	case api.QuorumAny:
		resolved = true

	case api.QuorumAll:
		// Re-read to see this vote; with veto handled above, every vote
		// being non-pending means every vote approved.
		votes, err = e.votes.ListVotes(stepExecutionID)
		if err != nil {
			return err
		}
		approved := 0
		pending := 0
		for _, v := range votes {
			switch v.Status {
			case api.VoteApproved:
				approved++
			case api.VotePending:
				pending++
			}
		}
		resolved = pending == 0 && approved > 0

	case api.QuorumSequential:
		exec.VoterIndex++
		if err := e.executions.UpdateExecution(exec); err != nil {
			return err
		}
		resolved = exec.VoterIndex == len(votes)
	}

	if !resolved {
		return nil
	}
	return e.completeAndAdvance(ctx, wf, inst, exec, nil)
}

// vetoStep applies the fail-fast rejection policy: the execution fails and
// the instance is cancelled, regardless of the quorum rule or other pending
// votes. Caller holds the instance lock.
func (e *engineImpl) vetoStep(ctx context.Context, inst *api.WorkflowInstance, exec *api.StepExecution, voterID string) error {
	won, err := e.executions.TransitionExecution(exec.ID, api.ExecutionFailed,
		api.ExecutionPending, api.ExecutionInProgress)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	now := e.now()
	cause := fmt.Errorf("rejected by %s", voterID)
	exec.Status = api.ExecutionFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnStepResolved(ctx, inst, exec, cause)

	inst.Status = api.InstanceCancelled
	inst.CurrentStepID = ""
	inst.CompletedAt = &now
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.observer.OnInstanceCancelled(ctx, inst)
	return nil
}

// completeAndAdvance marks the execution completed and moves the instance
// to its next step, or completes the instance when no step remains.
// Caller holds the instance lock.
func (e *engineImpl) completeAndAdvance(ctx context.Context, wf *api.Workflow, inst *api.WorkflowInstance, exec *api.StepExecution, result any) error {
	won, err := e.executions.TransitionExecution(exec.ID, api.ExecutionCompleted,
		api.ExecutionPending, api.ExecutionInProgress)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	now := e.now()
	exec.Status = api.ExecutionCompleted
	exec.CompletedAt = &now
	if result != nil {
		exec.Result = result
	}
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnStepResolved(ctx, inst, exec, nil)

	return e.advance(ctx, wf, inst)
}

// advance moves the instance pointer to the step after the current one and
// enters it, or completes the instance if the current step was the last.
// Caller holds the instance lock.
func (e *engineImpl) advance(ctx context.Context, wf *api.Workflow, inst *api.WorkflowInstance) error {
	next := stepAfter(wf, inst.CurrentStepID)
	if next == nil {
		now := e.now()
		inst.Status = api.InstanceCompleted
		inst.CurrentStepID = ""
		inst.CompletedAt = &now
		if err := e.instances.UpdateInstance(inst); err != nil {
			return err
		}
		e.observer.OnInstanceCompleted(ctx, inst)
		return nil
	}

	inst.CurrentStepID = next.ID
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}
	return e.createExecution(ctx, wf, inst, next)
}

func (e *engineImpl) ExpireTimer(ctx context.Context, timerID string) error {
	timer, err := e.getTimer(timerID)
	if err != nil {
		return err
	}
	exec, err := e.getExecution(timer.StepExecutionID)
	if err != nil {
		return err
	}

	lock := e.instanceLock(exec.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.getInstance(exec.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return nil
	}

	// The winner of this transition owns the expiry; repeated or racing
	// calls become no-ops here.
	won, err := e.timers.TransitionTimer(timerID, api.TimerExpired, api.TimerActive)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	timer.Status = api.TimerExpired
	e.observer.OnTimerExpired(ctx, timer)

	exec, err = e.getExecution(timer.StepExecutionID)
	if err != nil {
		return err
	}
	won, err = e.executions.TransitionExecution(exec.ID, api.ExecutionFailed,
		api.ExecutionPending, api.ExecutionInProgress)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	now := e.now()
	cause := fmt.Errorf("sla expired after %dh", timer.DurationHours)
	exec.Status = api.ExecutionFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnStepResolved(ctx, inst, exec, cause)

	wf, err := e.getWorkflow(inst.WorkflowID)
	if err != nil {
		return err
	}

	// A workflow that models SLA breach as an explicit escalation step gets
	// routed there; otherwise the breach is terminal.
	if next := stepAfter(wf, exec.StepID); next != nil && next.Type == api.StepEscalation {
		inst.CurrentStepID = exec.StepID
		return e.advance(ctx, wf, inst)
	}

	inst.Status = api.InstanceFailed
	inst.CurrentStepID = ""
	inst.CompletedAt = &now
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.observer.OnInstanceFailed(ctx, inst, cause)
	return nil
}

func (e *engineImpl) CompleteStep(ctx context.Context, stepExecutionID string, result any) error {
	exec, err := e.getExecution(stepExecutionID)
	if err != nil {
		return err
	}

	lock := e.instanceLock(exec.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	exec, err = e.getExecution(stepExecutionID)
	if err != nil {
		return err
	}
	inst, err := e.getInstance(exec.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() || exec.Status.Terminal() {
		return nil
	}

	wf, err := e.getWorkflow(inst.WorkflowID)
	if err != nil {
		return err
	}
	step := stepByID(wf, exec.StepID)
	if step == nil {
		return fmt.Errorf("%w: step %s", api.ErrNotFound, exec.StepID)
	}
	if step.Type == api.StepApproval {
		return fmt.Errorf("approval step execution %s resolves via CastVote", stepExecutionID)
	}

	// Resolving an sla_timer step before its deadline retires the timer so
	// a late sweep cannot expire it.
	if step.Type == api.StepSLATimer {
		timer, err := e.timers.GetTimerByExecution(exec.ID)
		if err != nil && !errors.Is(err, persistence.ErrTimerNotFound) {
			return err
		}
		if timer != nil {
			if _, err := e.timers.TransitionTimer(timer.ID, api.TimerCompleted, api.TimerActive); err != nil {
				return err
			}
		}
	}

	return e.completeAndAdvance(ctx, wf, inst, exec, result)
}

func (e *engineImpl) Cancel(ctx context.Context, instanceID string) error {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return nil
	}

	now := e.now()
	execs, err := e.executions.ListExecutions(instanceID)
	if err != nil {
		return err
	}
	for _, exec := range execs {
		if exec.Status.Terminal() {
			continue
		}
		won, err := e.executions.TransitionExecution(exec.ID, api.ExecutionSkipped,
			api.ExecutionPending, api.ExecutionInProgress)
		if err != nil {
			return err
		}
		if !won {
			continue
		}
		exec.Status = api.ExecutionSkipped
		exec.CompletedAt = &now
		if err := e.executions.UpdateExecution(exec); err != nil {
			return err
		}
		if timer, err := e.timers.GetTimerByExecution(exec.ID); err == nil {
			if _, err := e.timers.TransitionTimer(timer.ID, api.TimerCompleted, api.TimerActive); err != nil {
				return err
			}
		} else if !errors.Is(err, persistence.ErrTimerNotFound) {
			return err
		}
	}

	inst.Status = api.InstanceCancelled
	inst.CurrentStepID = ""
	inst.CompletedAt = &now
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.observer.OnInstanceCancelled(ctx, inst)
	return nil
}

func stepByID(wf *api.Workflow, stepID string) *api.Step {
	for i := range wf.Steps {
		if wf.Steps[i].ID == stepID {
			return &wf.Steps[i]
		}
	}
	return nil
}

// stepAfter returns the step following stepID in ascending order, or nil.
func stepAfter(wf *api.Workflow, stepID string) *api.Step {
	for i := range wf.Steps {
		if wf.Steps[i].ID == stepID {
			if i+1 < len(wf.Steps) {
				return &wf.Steps[i+1]
			}
			return nil
		}
	}
	return nil
}
