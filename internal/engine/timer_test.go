package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// testClock is a movable clock for deterministic SLA deadlines.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func timerDraft(hours int, after ...api.StepDraft) api.WorkflowDraft {
	steps := append([]api.StepDraft{
		{Order: 1, Type: api.StepSLATimer, Config: api.SLATimerConfig{DurationHours: hours}},
	}, after...)
	for i := range steps {
		steps[i].Order = i + 1
	}
	return api.WorkflowDraft{
		Name:    "sla workflow",
		Trigger: api.TriggerThresholdBreach,
		Steps:   steps,
	}
}

func startTimerInstance(t *testing.T, eng api.Engine, draft api.WorkflowDraft) (*api.WorkflowInstance, *api.SLATimer) {
	t.Helper()
	ctx := context.Background()

	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "incident", "inc-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	due, err := eng.ListDueTimers(ctx, inst.StartedAt.Add(10000*time.Hour))
	if err != nil {
		t.Fatalf("ListDueTimers failed: %v", err)
	}
	for _, timer := range due {
		if timer.StepExecutionID == execs[0].ID {
			return inst, timer
		}
	}
	t.Fatalf("no timer created for first step")
	return nil, nil
}

func TestStart_TimerStepCreatesDeadline(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})

	inst, timer := startTimerInstance(t, eng, timerDraft(48))
	if timer.Status != api.TimerActive || timer.DurationHours != 48 {
		t.Fatalf("timer wrong: %+v", timer)
	}
	if !timer.StartTime.Equal(clock.Now()) {
		t.Fatalf("timer start not on engine clock: %v", timer.StartTime)
	}
	if !timer.EndTime.Equal(clock.Now().Add(48 * time.Hour)) {
		t.Fatalf("timer end wrong: %v", timer.EndTime)
	}
	if inst.Status != api.InstanceRunning {
		t.Fatalf("instance not running: %+v", inst)
	}

	// Not due before the deadline.
	due, err := eng.ListDueTimers(context.Background(), clock.Now().Add(47*time.Hour))
	if err != nil {
		t.Fatalf("ListDueTimers failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("timer due early: %+v", due)
	}
}

func TestStart_TimerStepDefaultDuration(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})

	_, timer := startTimerInstance(t, eng, timerDraft(0))
	if timer.DurationHours != api.DefaultSLAHours {
		t.Fatalf("expected default duration %d, got %d", api.DefaultSLAHours, timer.DurationHours)
	}
	if !timer.EndTime.Equal(timer.StartTime.Add(api.DefaultSLAHours * time.Hour)) {
		t.Fatalf("default deadline wrong: %+v", timer)
	}
}

func TestExpireTimer_RoutesToEscalationStep(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})
	ctx := context.Background()

	inst, timer := startTimerInstance(t, eng, timerDraft(24,
		api.StepDraft{Type: api.StepEscalation, Config: api.EscalationConfig{Payload: map[string]string{"notify": "ciso"}}},
	))

	clock.Advance(25 * time.Hour)
	if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
		t.Fatalf("ExpireTimer failed: %v", err)
	}

	got, err := eng.GetTimer(ctx, timer.ID)
	if err != nil {
		t.Fatalf("GetTimer failed: %v", err)
	}
	if got.Status != api.TimerExpired {
		t.Fatalf("timer not expired: %+v", got)
	}

	// The timer step failed and the escalation step was entered.
	inst = requireInstanceStatus(t, eng, inst.ID, api.InstanceRunning)
	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	if execs[0].Status != api.ExecutionFailed || execs[0].Error == "" {
		t.Fatalf("timer execution not failed: %+v", execs[0])
	}
	if execs[1].Status != api.ExecutionPending || execs[1].StepID != inst.CurrentStepID {
		t.Fatalf("escalation not entered: %+v", execs[1])
	}

	// Acknowledging the escalation completes the instance.
	if err := eng.CompleteStep(ctx, execs[1].ID, "paged ciso"); err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}
	requireInstanceStatus(t, eng, inst.ID, api.InstanceCompleted)
}

func TestExpireTimer_WithoutEscalationFailsInstance(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})
	ctx := context.Background()

	// The next step is a notification, not an escalation, so the breach
	// is terminal.
	inst, timer := startTimerInstance(t, eng, timerDraft(24,
		api.StepDraft{Type: api.StepNotification, Config: api.NotificationConfig{}},
	))

	clock.Advance(24 * time.Hour)
	if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
		t.Fatalf("ExpireTimer failed: %v", err)
	}

	inst = requireInstanceStatus(t, eng, inst.ID, api.InstanceFailed)
	if inst.CompletedAt == nil {
		t.Fatalf("failed instance missing CompletedAt")
	}
	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != api.ExecutionFailed {
		t.Fatalf("expected only the failed timer execution, got %+v", execs)
	}
}

func TestExpireTimer_Idempotent(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})
	ctx := context.Background()

	inst, timer := startTimerInstance(t, eng, timerDraft(24,
		api.StepDraft{Type: api.StepEscalation, Config: api.EscalationConfig{}},
	))

	clock.Advance(30 * time.Hour)
	if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
		t.Fatalf("ExpireTimer failed: %v", err)
	}
	// A second delivery of the same expiry changes nothing.
	if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
		t.Fatalf("repeat ExpireTimer failed: %v", err)
	}

	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("repeat expiry duplicated executions: %d", len(execs))
	}
}

func TestCompleteStep_BeforeDeadlineRetiresTimer(t *testing.T) {
	clock := newTestClock()
	eng := NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})
	ctx := context.Background()

	inst, timer := startTimerInstance(t, eng, timerDraft(24))

	execs, err := eng.ListStepExecutions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if err := eng.CompleteStep(ctx, execs[0].ID, nil); err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}

	requireInstanceStatus(t, eng, inst.ID, api.InstanceCompleted)
	got, err := eng.GetTimer(ctx, timer.ID)
	if err != nil {
		t.Fatalf("GetTimer failed: %v", err)
	}
	if got.Status != api.TimerCompleted {
		t.Fatalf("timer not retired: %+v", got)
	}

	// A sweep that fires after the fact does nothing.
	clock.Advance(48 * time.Hour)
	if err := eng.ExpireTimer(ctx, timer.ID); err != nil {
		t.Fatalf("late ExpireTimer failed: %v", err)
	}
	requireInstanceStatus(t, eng, inst.ID, api.InstanceCompleted)
}
