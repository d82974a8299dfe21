package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// PostgresStore implements all store interfaces on top of PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
//
// The schema mirrors the SQLite store: timestamps as unix-nanosecond
// BIGINT columns, enabled as INTEGER, payloads as BYTEA.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ WorkflowStore  = (*PostgresStore)(nil)
	_ InstanceStore  = (*PostgresStore)(nil)
	_ ExecutionStore = (*PostgresStore)(nil)
	_ VoteStore      = (*PostgresStore)(nil)
	_ TimerStore     = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			display_id TEXT NOT NULL,
			name TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_conditions BYTEA,
			enabled INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			type TEXT NOT NULL,
			config BYTEA
		);
		CREATE TABLE IF NOT EXISTS approver_specs (
			id TEXT PRIMARY KEY,
			step_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			quorum_rule TEXT NOT NULL,
			pos INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step_id TEXT,
			started_at BIGINT NOT NULL,
			completed_at BIGINT
		);
		CREATE TABLE IF NOT EXISTS step_executions (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			voter_index INTEGER NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT,
			result BYTEA,
			error TEXT,
			pos INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			step_execution_id TEXT NOT NULL,
			voter_id TEXT NOT NULL,
			status TEXT NOT NULL,
			comments TEXT,
			decided_at BIGINT,
			pos INTEGER NOT NULL,
			UNIQUE (step_execution_id, voter_id)
		);
		CREATE TABLE IF NOT EXISTS sla_timers (
			id TEXT PRIMARY KEY,
			step_execution_id TEXT NOT NULL,
			duration_hours INTEGER NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
			status TEXT NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) SaveWorkflow(wf *api.Workflow) error {
	conds, err := EncodeValue(wf.TriggerConditions)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Re-saving an existing id replaces the definition wholesale.
	if _, err := tx.Exec(`
		DELETE FROM approver_specs WHERE step_id IN (SELECT id FROM steps WHERE workflow_id = $1)`, wf.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM steps WHERE workflow_id = $1`, wf.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM workflows WHERE id = $1`, wf.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO workflows (id, org_id, display_id, name, trigger_type, trigger_conditions, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.OrgID, wf.DisplayID, wf.Name, string(wf.Trigger), conds, boolInt(wf.Enabled),
	); err != nil {
		return err
	}

	for _, step := range wf.Steps {
		cfg, err := EncodeValue(step.Config)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO steps (id, workflow_id, step_order, type, config)
			VALUES ($1, $2, $3, $4, $5)`,
			step.ID, step.WorkflowID, step.Order, string(step.Type), cfg,
		); err != nil {
			return err
		}
		if ac, ok := step.Config.(api.ApprovalConfig); ok {
			for i, spec := range ac.Approvers {
				if _, err := tx.Exec(`
					INSERT INTO approver_specs (id, step_id, kind, target, quorum_rule, pos)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					spec.ID, spec.StepID, string(spec.Kind), spec.Target, string(spec.Quorum), i,
				); err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) UpdateWorkflowMeta(wf *api.Workflow) error {
	conds, err := EncodeValue(wf.TriggerConditions)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE workflows SET name = $1, trigger_conditions = $2 WHERE id = $3`,
		wf.Name, conds, wf.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrWorkflowNotFound)
}

func (s *PostgresStore) SetEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE workflows SET enabled = $1 WHERE id = $2`, boolInt(enabled), id)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrWorkflowNotFound)
}

func (s *PostgresStore) GetWorkflow(id string) (*api.Workflow, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, display_id, name, trigger_type, trigger_conditions, enabled
		FROM workflows WHERE id = $1`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *PostgresStore) loadSteps(wf *api.Workflow) error {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, step_order, type, config
		FROM steps WHERE workflow_id = $1 ORDER BY step_order ASC`, wf.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var step api.Step
		var typ string
		var cfg []byte
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Order, &typ, &cfg); err != nil {
			return err
		}
		step.Type = api.StepType(typ)
		cfgVal, err := DecodeValue[api.StepConfig](cfg)
		if err != nil {
			return err
		}
		step.Config = cfgVal
		wf.Steps = append(wf.Steps, step)
	}
	return rows.Err()
}

func (s *PostgresStore) ListWorkflows(filter WorkflowFilter) ([]*api.Workflow, error) {
	query := `
		SELECT id, org_id, display_id, name, trigger_type, trigger_conditions, enabled
		FROM workflows`
	var args []any
	var clauses []string

	if filter.Enabled != nil {
		args = append(args, boolInt(*filter.Enabled))
		clauses = append(clauses, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Trigger != "" {
		args = append(args, string(filter.Trigger))
		clauses = append(clauses, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*api.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		if err := s.loadSteps(wf); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

func (s *PostgresStore) SaveInstance(inst *api.WorkflowInstance) error {
	_, err := s.db.Exec(`
		INSERT INTO instances (id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.WorkflowID, inst.ResourceType, inst.ResourceID,
		string(inst.Status), nullString(inst.CurrentStepID),
		nsOf(inst.StartedAt), nsPtr(inst.CompletedAt),
	)
	return err
}

func (s *PostgresStore) UpdateInstance(inst *api.WorkflowInstance) error {
	res, err := s.db.Exec(`
		UPDATE instances
		SET status = $1, current_step_id = $2, completed_at = $3
		WHERE id = $4`,
		string(inst.Status), nullString(inst.CurrentStepID), nsPtr(inst.CompletedAt), inst.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrInstanceNotFound)
}

func (s *PostgresStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at
		FROM instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

func (s *PostgresStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *PostgresStore) SaveExecution(exec *api.StepExecution) error {
	result, err := EncodeValue(exec.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO step_executions (id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error, pos)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			(SELECT COUNT(*) FROM step_executions WHERE instance_id = $2))`,
		exec.ID, exec.InstanceID, exec.StepID, string(exec.Status), exec.VoterIndex,
		nsOf(exec.StartedAt), nsPtr(exec.CompletedAt), result, exec.Error,
	)
	return err
}

func (s *PostgresStore) UpdateExecution(exec *api.StepExecution) error {
	result, err := EncodeValue(exec.Result)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE step_executions
		SET status = $1, voter_index = $2, completed_at = $3, result = $4, error = $5
		WHERE id = $6`,
		string(exec.Status), exec.VoterIndex, nsPtr(exec.CompletedAt), result, exec.Error, exec.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrExecutionNotFound)
}

func (s *PostgresStore) TransitionExecution(id string, to api.ExecutionStatus, from ...api.ExecutionStatus) (bool, error) {
	args := []any{string(to), id}
	var in []string
	for _, f := range from {
		args = append(args, string(f))
		in = append(in, fmt.Sprintf("$%d", len(args)))
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		UPDATE step_executions SET status = $1
		WHERE id = $2 AND status IN (%s)`, strings.Join(in, ",")), args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRow(`SELECT 1 FROM step_executions WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrExecutionNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) GetExecution(id string) (*api.StepExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error
		FROM step_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return exec, err
}

func (s *PostgresStore) ListExecutions(instanceID string) ([]*api.StepExecution, error) {
	rows, err := s.db.Query(`
		SELECT id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error
		FROM step_executions WHERE instance_id = $1 ORDER BY pos ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*api.StepExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *PostgresStore) SaveVote(vote *api.Vote) error {
	_, err := s.db.Exec(`
		INSERT INTO votes (id, step_execution_id, voter_id, status, comments, decided_at, pos)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COUNT(*) FROM votes WHERE step_execution_id = $2))`,
		vote.ID, vote.StepExecutionID, vote.VoterID, string(vote.Status),
		vote.Comments, nsPtr(vote.DecidedAt),
	)
	return err
}

func (s *PostgresStore) UpdateVote(vote *api.Vote) error {
	res, err := s.db.Exec(`
		UPDATE votes SET status = $1, comments = $2, decided_at = $3 WHERE id = $4`,
		string(vote.Status), vote.Comments, nsPtr(vote.DecidedAt), vote.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrVoteNotFound)
}

func (s *PostgresStore) GetVoteByVoter(stepExecutionID, voterID string) (*api.Vote, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, voter_id, status, comments, decided_at
		FROM votes WHERE step_execution_id = $1 AND voter_id = $2`, stepExecutionID, voterID)
	vote, err := scanVote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoteNotFound
	}
	return vote, err
}

func (s *PostgresStore) ListVotes(stepExecutionID string) ([]*api.Vote, error) {
	rows, err := s.db.Query(`
		SELECT id, step_execution_id, voter_id, status, comments, decided_at
		FROM votes WHERE step_execution_id = $1 ORDER BY pos ASC`, stepExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []*api.Vote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}
	return votes, rows.Err()
}

func (s *PostgresStore) SaveTimer(timer *api.SLATimer) error {
	_, err := s.db.Exec(`
		INSERT INTO sla_timers (id, step_execution_id, duration_hours, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		timer.ID, timer.StepExecutionID, timer.DurationHours,
		nsOf(timer.StartTime), nsOf(timer.EndTime), string(timer.Status),
	)
	return err
}

func (s *PostgresStore) TransitionTimer(id string, to api.TimerStatus, from ...api.TimerStatus) (bool, error) {
	args := []any{string(to), id}
	var in []string
	for _, f := range from {
		args = append(args, string(f))
		in = append(in, fmt.Sprintf("$%d", len(args)))
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		UPDATE sla_timers SET status = $1
		WHERE id = $2 AND status IN (%s)`, strings.Join(in, ",")), args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRow(`SELECT 1 FROM sla_timers WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrTimerNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) GetTimer(id string) (*api.SLATimer, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE id = $1`, id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	return t, err
}

func (s *PostgresStore) GetTimerByExecution(stepExecutionID string) (*api.SLATimer, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE step_execution_id = $1`, stepExecutionID)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	return t, err
}

func (s *PostgresStore) ListDueTimers(before time.Time) ([]*api.SLATimer, error) {
	rows, err := s.db.Query(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE status = $1 AND end_time <= $2`,
		string(api.TimerActive), nsOf(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []*api.SLATimer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
