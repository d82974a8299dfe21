package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phautamaki/quoro/internal/engine"
	"github.com/phautamaki/quoro/pkg/api"
)

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

func startSLAInstance(t *testing.T, eng api.Engine, hours int) *api.WorkflowInstance {
	t.Helper()
	ctx := context.Background()

	draft := api.WorkflowDraft{
		Name:    "incident sla",
		Trigger: api.TriggerThresholdBreach,
		Steps: []api.StepDraft{
			{Order: 1, Type: api.StepSLATimer, Config: api.SLATimerConfig{DurationHours: hours}},
			{Order: 2, Type: api.StepEscalation, Config: api.EscalationConfig{}},
		},
	}
	wf, err := eng.CreateWorkflow(ctx, "org-1", draft)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	inst, err := eng.Start(ctx, wf.ID, "incident", wf.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return inst
}

func TestProcessOnce_ExpiresDueTimersOnly(t *testing.T) {
	clock := newTestClock()
	eng := engine.NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})
	ctx := context.Background()

	soon := startSLAInstance(t, eng, 4)
	later := startSLAInstance(t, eng, 72)

	sw := NewWithConfig(eng, Config{Clock: clock.Now})

	n, err := sw.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no due timers yet, expired %d", n)
	}

	clock.Advance(5 * time.Hour)
	n, err = sw.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 due timer, got %d", n)
	}

	// The breached instance escalated; the other is untouched.
	got, err := eng.GetInstance(ctx, soon.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.Status != api.InstanceRunning || got.CurrentStepID == soon.CurrentStepID {
		t.Fatalf("breached instance not escalated: %+v", got)
	}
	got, err = eng.GetInstance(ctx, later.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.CurrentStepID != later.CurrentStepID {
		t.Fatalf("unbreached instance moved: %+v", got)
	}

	// Nothing newly due on a repeat sweep.
	n, err = sw.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat sweep expired %d timers", n)
	}
}

func TestProcessOnce_ContinuesPastFailures(t *testing.T) {
	clock := newTestClock()
	eng := &flakyEngine{
		Engine: engine.NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now}),
		fail:   map[int]bool{0: true},
	}

	startSLAInstance(t, eng.Engine, 1)
	startSLAInstance(t, eng.Engine, 2)
	clock.Advance(3 * time.Hour)

	sw := NewWithConfig(eng, Config{Clock: clock.Now})
	n, err := sw.ProcessOnce(context.Background())
	if n != 2 {
		t.Fatalf("expected both timers attempted, got %d", n)
	}
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure to surface, got %v", err)
	}

	// The second timer was still expired despite the first failing.
	due, derr := eng.ListDueTimers(context.Background(), clock.Now())
	if derr != nil {
		t.Fatalf("ListDueTimers failed: %v", derr)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 remaining due timer, got %d", len(due))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	clock := newTestClock()
	eng := engine.NewInMemoryEngineWithOptions(api.EngineOptions{Clock: clock.Now})

	sw := NewWithConfig(eng, Config{Interval: time.Millisecond, Clock: clock.Now})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sw.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestNewWithConfig_Defaults(t *testing.T) {
	eng := engine.NewInMemoryEngine()
	sw := New(eng)
	if sw.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %v", sw.interval)
	}
	if sw.now == nil {
		t.Fatalf("expected default clock")
	}
}

var errInjected = errors.New("injected expiry failure")

// flakyEngine fails ExpireTimer for selected call indexes.
type flakyEngine struct {
	api.Engine

	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (f *flakyEngine) ExpireTimer(ctx context.Context, timerID string) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	if f.fail[idx] {
		return errInjected
	}
	return f.Engine.ExpireTimer(ctx, timerID)
}
