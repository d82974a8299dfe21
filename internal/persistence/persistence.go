package persistence

// Persistence bundles the store interfaces so the engine
// can depend on a single abstraction.
type Persistence struct {
	Workflows  WorkflowStore
	Instances  InstanceStore
	Executions ExecutionStore
	Votes      VoteStore
	Timers     TimerStore
}
