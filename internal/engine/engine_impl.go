package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phautamaki/quoro/internal/persistence"
	"github.com/phautamaki/quoro/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. All state
// lives in the injected stores; the engine itself only holds per-instance
// locks to serialize concurrent resolution attempts.
type engineImpl struct {
	workflows  persistence.WorkflowStore
	instances  persistence.InstanceStore
	executions persistence.ExecutionStore
	votes      persistence.VoteStore
	timers     persistence.TimerStore

	resolver api.ApproverResolver
	observer api.Observer
	now      func() time.Time

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Options     api.EngineOptions
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() api.Engine {
	return NewInMemoryEngineWithOptions(api.EngineOptions{})
}

// NewInMemoryEngineWithOptions returns an in-memory Engine with the given
// options.
func NewInMemoryEngineWithOptions(opts api.EngineOptions) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  mem,
			Instances:  mem,
			Executions: mem,
			Votes:      mem,
			Timers:     mem,
		},
		Options: opts,
	})
}

// NewSQLiteEngine returns an Engine that persists all records in a SQLite
// database.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithOptions(db, api.EngineOptions{})
}

// NewSQLiteEngineWithOptions returns a SQLite-backed Engine with the given
// options.
func NewSQLiteEngineWithOptions(db *sql.DB, opts api.EngineOptions) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  store,
			Instances:  store,
			Executions: store,
			Votes:      store,
			Timers:     store,
		},
		Options: opts,
	}), nil
}

// NewPostgresEngine returns an Engine that persists all records in
// PostgreSQL. The caller imports the driver.
func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	return NewPostgresEngineWithOptions(db, api.EngineOptions{})
}

// NewPostgresEngineWithOptions returns a Postgres-backed Engine with the
// given options.
func NewPostgresEngineWithOptions(db *sql.DB, opts api.EngineOptions) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  store,
			Instances:  store,
			Executions: store,
			Votes:      store,
			Timers:     store,
		},
		Options: opts,
	}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Options.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	res := cfg.Options.Resolver
	if res == nil {
		res = api.StaticResolver{}
	}
	now := cfg.Options.Clock
	if now == nil {
		now = time.Now
	}
	return &engineImpl{
		workflows:  cfg.Persistence.Workflows,
		instances:  cfg.Persistence.Instances,
		executions: cfg.Persistence.Executions,
		votes:      cfg.Persistence.Votes,
		timers:     cfg.Persistence.Timers,
		resolver:   res,
		observer:   obs,
		now:        now,
		locks:      make(map[string]*sync.Mutex),
	}
}

func newID() string { return uuid.NewString() }

func displayID(id string) string {
	return "WF-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}

// instanceLock returns the mutex serializing lifecycle mutations of one
// instance. Locks are never removed; instances are never deleted either.
func (e *engineImpl) instanceLock(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

func (e *engineImpl) CreateWorkflow(ctx context.Context, orgID string, draft api.WorkflowDraft) (*api.Workflow, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	id := newID()
	wf := &api.Workflow{
		ID:                id,
		OrgID:             orgID,
		DisplayID:         displayID(id),
		Name:              draft.Name,
		Trigger:           draft.Trigger,
		TriggerConditions: draft.TriggerConditions,
		Enabled:           true,
	}

	for _, sd := range draft.Steps {
		step := api.Step{
			ID:         newID(),
			WorkflowID: wf.ID,
			Order:      sd.Order,
			Type:       sd.Type,
			Config:     sd.Config,
		}
		// Approver specs get their identities and the step's quorum rule
		// stamped onto every row before persisting.
		if ac, ok := sd.Config.(api.ApprovalConfig); ok {
			specs := make([]api.ApproverSpec, len(ac.Approvers))
			for i, spec := range ac.Approvers {
				spec.ID = newID()
				spec.StepID = step.ID
				spec.Quorum = ac.Quorum
				specs[i] = spec
			}
			step.Config = api.ApprovalConfig{Quorum: ac.Quorum, Approvers: specs}
		}
		wf.Steps = append(wf.Steps, step)
	}

	if err := e.workflows.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (e *engineImpl) UpdateWorkflow(ctx context.Context, id string, update api.WorkflowUpdate) (*api.Workflow, error) {
	wf, err := e.getWorkflow(id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		if *update.Name == "" {
			return nil, fmt.Errorf("%w: workflow name is required", api.ErrInvalidDefinition)
		}
		wf.Name = *update.Name
	}
	if update.TriggerConditions != nil {
		wf.TriggerConditions = update.TriggerConditions
	}
	if err := e.workflows.UpdateWorkflowMeta(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (e *engineImpl) SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error {
	if err := e.workflows.SetEnabled(id, enabled); err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return fmt.Errorf("%w: workflow %s", api.ErrNotFound, id)
		}
		return err
	}
	return nil
}

func (e *engineImpl) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	return e.getWorkflow(id)
}

func (e *engineImpl) getWorkflow(id string) (*api.Workflow, error) {
	wf, err := e.workflows.GetWorkflow(id)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("%w: workflow %s", api.ErrNotFound, id)
		}
		return nil, err
	}
	return wf, nil
}

func (e *engineImpl) ListWorkflows(ctx context.Context, filter api.WorkflowFilter) ([]*api.Workflow, error) {
	return e.workflows.ListWorkflows(persistence.WorkflowFilter{
		Enabled: filter.Enabled,
		Trigger: filter.Trigger,
	})
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return e.getInstance(id)
}

func (e *engineImpl) getInstance(id string) (*api.WorkflowInstance, error) {
	inst, err := e.instances.GetInstance(id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: instance %s", api.ErrNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	return e.instances.ListInstances(persistence.InstanceFilter{
		WorkflowID: opts.WorkflowID,
		Status:     opts.Status,
	})
}

func (e *engineImpl) ListStepExecutions(ctx context.Context, instanceID string) ([]*api.StepExecution, error) {
	if _, err := e.getInstance(instanceID); err != nil {
		return nil, err
	}
	return e.executions.ListExecutions(instanceID)
}

func (e *engineImpl) ListVotes(ctx context.Context, stepExecutionID string) ([]*api.Vote, error) {
	if _, err := e.getExecution(stepExecutionID); err != nil {
		return nil, err
	}
	return e.votes.ListVotes(stepExecutionID)
}

func (e *engineImpl) getExecution(id string) (*api.StepExecution, error) {
	exec, err := e.executions.GetExecution(id)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, fmt.Errorf("%w: step execution %s", api.ErrNotFound, id)
		}
		return nil, err
	}
	return exec, nil
}

func (e *engineImpl) GetTimer(ctx context.Context, timerID string) (*api.SLATimer, error) {
	return e.getTimer(timerID)
}

func (e *engineImpl) getTimer(id string) (*api.SLATimer, error) {
	t, err := e.timers.GetTimer(id)
	if err != nil {
		if errors.Is(err, persistence.ErrTimerNotFound) {
			return nil, fmt.Errorf("%w: sla timer %s", api.ErrNotFound, id)
		}
		return nil, err
	}
	return t, nil
}

func (e *engineImpl) ListDueTimers(ctx context.Context, before time.Time) ([]*api.SLATimer, error) {
	return e.timers.ListDueTimers(before)
}
