package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// SQLiteStore implements all store interfaces on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Timestamps are stored as unix nanoseconds so comparisons in SQL
// (ListDueTimers) are exact.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var (
	_ WorkflowStore  = (*SQLiteStore)(nil)
	_ InstanceStore  = (*SQLiteStore)(nil)
	_ ExecutionStore = (*SQLiteStore)(nil)
	_ VoteStore      = (*SQLiteStore)(nil)
	_ TimerStore     = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			display_id TEXT NOT NULL,
			name TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_conditions BLOB,
			enabled INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			type TEXT NOT NULL,
			config BLOB
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
			started_at INTEGER NOT NULL,
			completed_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS step_executions (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			voter_index INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			result BLOB,
			error TEXT,
			pos INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			step_execution_id TEXT NOT NULL,
			voter_id TEXT NOT NULL,
			status TEXT NOT NULL,
			comments TEXT,
			decided_at INTEGER,
			pos INTEGER NOT NULL,
			UNIQUE (step_execution_id, voter_id)
		);
		CREATE TABLE IF NOT EXISTS sla_timers (
			id TEXT PRIMARY KEY,
			step_execution_id TEXT NOT NULL,
			duration_hours INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			status TEXT NOT NULL
		);`,
	)
	return err
}

func nsOf(t time.Time) int64 { return t.UnixNano() }

func nsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeOf(ns int64) time.Time { return time.Unix(0, ns) }

func timePtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(0, ns.Int64)
	return &t
}

func (s *SQLiteStore) SaveWorkflow(wf *api.Workflow) error {
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
		DELETE FROM approver_specs WHERE step_id IN (SELECT id FROM steps WHERE workflow_id = ?)`, wf.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM steps WHERE workflow_id = ?`, wf.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM workflows WHERE id = ?`, wf.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO workflows (id, org_id, display_id, name, trigger_type, trigger_conditions, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
			VALUES (?, ?, ?, ?, ?)`,
			step.ID, step.WorkflowID, step.Order, string(step.Type), cfg,
		); err != nil {
			return err
		}
		if ac, ok := step.Config.(api.ApprovalConfig); ok {
			for i, spec := range ac.Approvers {
				if _, err := tx.Exec(`
					INSERT INTO approver_specs (id, step_id, kind, target, quorum_rule, pos)
					VALUES (?, ?, ?, ?, ?, ?)`,
					spec.ID, spec.StepID, string(spec.Kind), spec.Target, string(spec.Quorum), i,
				); err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateWorkflowMeta(wf *api.Workflow) error {
	conds, err := EncodeValue(wf.TriggerConditions)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE workflows SET name = ?, trigger_conditions = ? WHERE id = ?`,
		wf.Name, conds, wf.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrWorkflowNotFound)
}

func (s *SQLiteStore) SetEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE workflows SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrWorkflowNotFound)
}

func (s *SQLiteStore) GetWorkflow(id string) (*api.Workflow, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, display_id, name, trigger_type, trigger_conditions, enabled
		FROM workflows WHERE id = ?`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*api.Workflow, error) {
	var wf api.Workflow
	var trigger string
	var conds []byte
	var enabled int

	if err := row.Scan(&wf.ID, &wf.OrgID, &wf.DisplayID, &wf.Name, &trigger, &conds, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	wf.Trigger = api.TriggerType(trigger)
	wf.Enabled = enabled != 0

	condsVal, err := DecodeValue[map[string]string](conds)
	if err != nil {
		return nil, err
	}
	wf.TriggerConditions = condsVal
	return &wf, nil
}

func (s *SQLiteStore) loadSteps(wf *api.Workflow) error {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, step_order, type, config
		FROM steps WHERE workflow_id = ? ORDER BY step_order ASC`, wf.ID)
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

func (s *SQLiteStore) ListWorkflows(filter WorkflowFilter) ([]*api.Workflow, error) {
	query := `
		SELECT id, org_id, display_id, name, trigger_type, trigger_conditions, enabled
		FROM workflows`
	var args []any
	var clauses []string

	if filter.Enabled != nil {
		clauses = append(clauses, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.Trigger != "" {
		clauses = append(clauses, "trigger_type = ?")
		args = append(args, string(filter.Trigger))
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

func (s *SQLiteStore) SaveInstance(inst *api.WorkflowInstance) error {
	_, err := s.db.Exec(`
		INSERT INTO instances (id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.WorkflowID, inst.ResourceType, inst.ResourceID,
		string(inst.Status), nullString(inst.CurrentStepID),
		nsOf(inst.StartedAt), nsPtr(inst.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateInstance(inst *api.WorkflowInstance) error {
	res, err := s.db.Exec(`
		UPDATE instances
		SET status = ?, current_step_id = ?, completed_at = ?
		WHERE id = ?`,
		string(inst.Status), nullString(inst.CurrentStepID), nsPtr(inst.CompletedAt), inst.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrInstanceNotFound)
}

func (s *SQLiteStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at
		FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

func scanInstance(row rowScanner) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	var status string
	var current sql.NullString
	var startedNs int64
	var completedNs sql.NullInt64

	if err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.ResourceType, &inst.ResourceID,
		&status, &current, &startedNs, &completedNs); err != nil {
		return nil, err
	}
	inst.Status = api.InstanceStatus(status)
	inst.CurrentStepID = current.String
	inst.StartedAt = timeOf(startedNs)
	inst.CompletedAt = timePtr(completedNs)
	return &inst, nil
}

func (s *SQLiteStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_id, resource_type, resource_id, status, current_step_id, started_at, completed_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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

func (s *SQLiteStore) SaveExecution(exec *api.StepExecution) error {
	result, err := EncodeValue(exec.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO step_executions (id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error, pos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COUNT(*) FROM step_executions WHERE instance_id = ?))`,
		exec.ID, exec.InstanceID, exec.StepID, string(exec.Status), exec.VoterIndex,
		nsOf(exec.StartedAt), nsPtr(exec.CompletedAt), result, exec.Error, exec.InstanceID,
	)
	return err
}

func (s *SQLiteStore) UpdateExecution(exec *api.StepExecution) error {
	result, err := EncodeValue(exec.Result)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE step_executions
		SET status = ?, voter_index = ?, completed_at = ?, result = ?, error = ?
		WHERE id = ?`,
		string(exec.Status), exec.VoterIndex, nsPtr(exec.CompletedAt), result, exec.Error, exec.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrExecutionNotFound)
}

func (s *SQLiteStore) TransitionExecution(id string, to api.ExecutionStatus, from ...api.ExecutionStatus) (bool, error) {
	placeholders, args := statusArgs(id, string(to), from)
	res, err := s.db.Exec(fmt.Sprintf(`
		UPDATE step_executions SET status = ?
		WHERE id = ? AND status IN (%s)`, placeholders), args...)
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
	// Lost the race, or the id is unknown.
	var exists int
	if err := s.db.QueryRow(`SELECT 1 FROM step_executions WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrExecutionNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) GetExecution(id string) (*api.StepExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error
		FROM step_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return exec, err
}

func scanExecution(row rowScanner) (*api.StepExecution, error) {
	var exec api.StepExecution
	var status string
	var startedNs int64
	var completedNs sql.NullInt64
	var result []byte
	var errStr sql.NullString

	if err := row.Scan(&exec.ID, &exec.InstanceID, &exec.StepID, &status, &exec.VoterIndex,
		&startedNs, &completedNs, &result, &errStr); err != nil {
		return nil, err
	}
	exec.Status = api.ExecutionStatus(status)
	exec.StartedAt = timeOf(startedNs)
	exec.CompletedAt = timePtr(completedNs)
	exec.Error = errStr.String

	resVal, err := DecodeValue[any](result)
	if err != nil {
		return nil, err
	}
	exec.Result = resVal
	return &exec, nil
}

func (s *SQLiteStore) ListExecutions(instanceID string) ([]*api.StepExecution, error) {
	rows, err := s.db.Query(`
		SELECT id, instance_id, step_id, status, voter_index, started_at, completed_at, result, error
		FROM step_executions WHERE instance_id = ? ORDER BY pos ASC`, instanceID)
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

func (s *SQLiteStore) SaveVote(vote *api.Vote) error {
	_, err := s.db.Exec(`
		INSERT INTO votes (id, step_execution_id, voter_id, status, comments, decided_at, pos)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COUNT(*) FROM votes WHERE step_execution_id = ?))`,
		vote.ID, vote.StepExecutionID, vote.VoterID, string(vote.Status),
		vote.Comments, nsPtr(vote.DecidedAt), vote.StepExecutionID,
	)
	return err
}

func (s *SQLiteStore) UpdateVote(vote *api.Vote) error {
	res, err := s.db.Exec(`
		UPDATE votes SET status = ?, comments = ?, decided_at = ? WHERE id = ?`,
		string(vote.Status), vote.Comments, nsPtr(vote.DecidedAt), vote.ID,
	)
	if err != nil {
		return err
	}
	return oneAffected(res, ErrVoteNotFound)
}

func (s *SQLiteStore) GetVoteByVoter(stepExecutionID, voterID string) (*api.Vote, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, voter_id, status, comments, decided_at
		FROM votes WHERE step_execution_id = ? AND voter_id = ?`, stepExecutionID, voterID)
	vote, err := scanVote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoteNotFound
	}
	return vote, err
}

func scanVote(row rowScanner) (*api.Vote, error) {
	var vote api.Vote
	var status string
	var comments sql.NullString
	var decidedNs sql.NullInt64

	if err := row.Scan(&vote.ID, &vote.StepExecutionID, &vote.VoterID, &status, &comments, &decidedNs); err != nil {
		return nil, err
	}
	vote.Status = api.VoteStatus(status)
	vote.Comments = comments.String
	vote.DecidedAt = timePtr(decidedNs)
	return &vote, nil
}

func (s *SQLiteStore) ListVotes(stepExecutionID string) ([]*api.Vote, error) {
	rows, err := s.db.Query(`
		SELECT id, step_execution_id, voter_id, status, comments, decided_at
		FROM votes WHERE step_execution_id = ? ORDER BY pos ASC`, stepExecutionID)
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

func (s *SQLiteStore) SaveTimer(timer *api.SLATimer) error {
	_, err := s.db.Exec(`
		INSERT INTO sla_timers (id, step_execution_id, duration_hours, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		timer.ID, timer.StepExecutionID, timer.DurationHours,
		nsOf(timer.StartTime), nsOf(timer.EndTime), string(timer.Status),
	)
	return err
}

func (s *SQLiteStore) TransitionTimer(id string, to api.TimerStatus, from ...api.TimerStatus) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		UPDATE sla_timers SET status = ?
		WHERE id = ? AND status IN (%s)`, placeholders), args...)
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
	if err := s.db.QueryRow(`SELECT 1 FROM sla_timers WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrTimerNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) GetTimer(id string) (*api.SLATimer, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE id = ?`, id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	return t, err
}

func (s *SQLiteStore) GetTimerByExecution(stepExecutionID string) (*api.SLATimer, error) {
	row := s.db.QueryRow(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE step_execution_id = ?`, stepExecutionID)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	return t, err
}

func scanTimer(row rowScanner) (*api.SLATimer, error) {
	var t api.SLATimer
	var status string
	var startNs, endNs int64

	if err := row.Scan(&t.ID, &t.StepExecutionID, &t.DurationHours, &startNs, &endNs, &status); err != nil {
		return nil, err
	}
	t.Status = api.TimerStatus(status)
	t.StartTime = timeOf(startNs)
	t.EndTime = timeOf(endNs)
	return &t, nil
}

func (s *SQLiteStore) ListDueTimers(before time.Time) ([]*api.SLATimer, error) {
	rows, err := s.db.Query(`
		SELECT id, step_execution_id, duration_hours, start_time, end_time, status
		FROM sla_timers WHERE status = ? AND end_time <= ?`,
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func oneAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func statusArgs(id, to string, from []api.ExecutionStatus) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{to, id}
	for _, f := range from {
		args = append(args, string(f))
	}
	return placeholders, args
}
