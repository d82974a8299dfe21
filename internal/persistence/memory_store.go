package persistence

import (
	"sync"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of all store interfaces
// backed by maps. It is non-durable and intended for tests and embedding.
type InMemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*api.Workflow
	instances  map[string]*api.WorkflowInstance
	executions map[string]*api.StepExecution

	// votes and execOrder keep insertion order: vote order is the resolved
	// voter order of the step, execution order is entry order.
	votes     map[string][]*api.Vote // keyed by step execution id
	execOrder map[string][]string    // instance id -> execution ids

	timers       map[string]*api.SLATimer
	timersByExec map[string]string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows:    make(map[string]*api.Workflow),
		instances:    make(map[string]*api.WorkflowInstance),
		executions:   make(map[string]*api.StepExecution),
		votes:        make(map[string][]*api.Vote),
		execOrder:    make(map[string][]string),
		timers:       make(map[string]*api.SLATimer),
		timersByExec: make(map[string]string),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ WorkflowStore  = (*InMemoryStore)(nil)
	_ InstanceStore  = (*InMemoryStore)(nil)
	_ ExecutionStore = (*InMemoryStore)(nil)
	_ VoteStore      = (*InMemoryStore)(nil)
	_ TimerStore     = (*InMemoryStore)(nil)
)

func copyWorkflow(wf *api.Workflow) *api.Workflow {
	c := *wf
	c.Steps = append([]api.Step(nil), wf.Steps...)
	return &c
}

func copyInstance(inst *api.WorkflowInstance) *api.WorkflowInstance {
	c := *inst
	return &c
}

func copyExecution(exec *api.StepExecution) *api.StepExecution {
	c := *exec
	return &c
}

func copyVote(v *api.Vote) *api.Vote {
	c := *v
	return &c
}

func copyTimer(t *api.SLATimer) *api.SLATimer {
	c := *t
	return &c
}

func (s *InMemoryStore) SaveWorkflow(wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *InMemoryStore) UpdateWorkflowMeta(wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[wf.ID]
	if !ok {
		return ErrWorkflowNotFound
	}
	existing.Name = wf.Name
	existing.TriggerConditions = wf.TriggerConditions
	return nil
}

func (s *InMemoryStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	wf.Enabled = enabled
	return nil
}

func (s *InMemoryStore) GetWorkflow(id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return copyWorkflow(wf), nil
}

func (s *InMemoryStore) ListWorkflows(filter WorkflowFilter) ([]*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.Workflow
	for _, wf := range s.workflows {
		if filter.Enabled != nil && wf.Enabled != *filter.Enabled {
			continue
		}
		if filter.Trigger != "" && wf.Trigger != filter.Trigger {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	return out, nil
}

func (s *InMemoryStore) SaveInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return copyInstance(inst), nil
}

func (s *InMemoryStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.WorkflowInstance
	for _, inst := range s.instances {
		if filter.WorkflowID != "" && inst.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, copyInstance(inst))
	}
	return out, nil
}

func (s *InMemoryStore) SaveExecution(exec *api.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = copyExecution(exec)
	s.execOrder[exec.InstanceID] = append(s.execOrder[exec.InstanceID], exec.ID)
	return nil
}

func (s *InMemoryStore) UpdateExecution(exec *api.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *InMemoryStore) TransitionExecution(id string, to api.ExecutionStatus, from ...api.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return false, ErrExecutionNotFound
	}
	for _, f := range from {
		if exec.Status == f {
			exec.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) GetExecution(id string) (*api.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return copyExecution(exec), nil
}

func (s *InMemoryStore) ListExecutions(instanceID string) ([]*api.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.execOrder[instanceID]
	out := make([]*api.StepExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyExecution(s.executions[id]))
	}
	return out, nil
}

func (s *InMemoryStore) SaveVote(vote *api.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[vote.StepExecutionID] = append(s.votes[vote.StepExecutionID], copyVote(vote))
	return nil
}

func (s *InMemoryStore) UpdateVote(vote *api.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.votes[vote.StepExecutionID] {
		if v.ID == vote.ID {
			s.votes[vote.StepExecutionID][i] = copyVote(vote)
			return nil
		}
	}
	return ErrVoteNotFound
}

func (s *InMemoryStore) GetVoteByVoter(stepExecutionID, voterID string) (*api.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votes[stepExecutionID] {
		if v.VoterID == voterID {
			return copyVote(v), nil
		}
	}
	return nil, ErrVoteNotFound
}

func (s *InMemoryStore) ListVotes(stepExecutionID string) ([]*api.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	votes := s.votes[stepExecutionID]
	out := make([]*api.Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, copyVote(v))
	}
	return out, nil
}

func (s *InMemoryStore) SaveTimer(timer *api.SLATimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[timer.ID] = copyTimer(timer)
	s.timersByExec[timer.StepExecutionID] = timer.ID
	return nil
}

func (s *InMemoryStore) TransitionTimer(id string, to api.TimerStatus, from ...api.TimerStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false, ErrTimerNotFound
	}
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) GetTimer(id string) (*api.SLATimer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[id]
	if !ok {
		return nil, ErrTimerNotFound
	}
	return copyTimer(t), nil
}

func (s *InMemoryStore) GetTimerByExecution(stepExecutionID string) (*api.SLATimer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.timersByExec[stepExecutionID]
	if !ok {
		return nil, ErrTimerNotFound
	}
	return copyTimer(s.timers[id]), nil
}

func (s *InMemoryStore) ListDueTimers(before time.Time) ([]*api.SLATimer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.SLATimer
	for _, t := range s.timers {
		if t.Status == api.TimerActive && !t.EndTime.After(before) {
			out = append(out, copyTimer(t))
		}
	}
	return out, nil
}
