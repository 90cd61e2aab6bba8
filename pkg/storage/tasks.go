package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

// TaskStore handles persistence for task records, including the atomic claim
// used by the orchestrator.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a task store over db.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, outcome_id, title, description, phase, status, priority,
	required_capabilities, retry_count, last_error, created_at, updated_at`

// Create persists a new task.
func (s *TaskStore) Create(t *Task) error {
	if !t.Phase.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "invalid task phase: %s", t.Phase)
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	caps, err := encodeStrings(t.RequiredCapabilities)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "encode capabilities")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, outcome_id, title, description, phase, status,
			priority, required_capabilities, retry_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		t.ID, t.OutcomeID, t.Title, t.Description, string(t.Phase), string(t.Status),
		t.Priority, caps, t.RetryCount, nullString(t.LastError), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "insert task")
	}
	return nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query task")
	}
	return t, nil
}

// ListByOutcome returns the outcome's tasks, optionally filtered by phase
// and status.
func (s *TaskStore) ListByOutcome(outcomeID string, phase TaskPhase, status TaskStatus) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE outcome_id = ?`
	args := []any{outcomeID}
	if phase != "" {
		query += " AND phase = ?"
		args = append(args, string(phase))
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimNext atomically claims the highest-priority pending task in the given
// phase. Returns (nil, nil) when no task is claimable. Safe under concurrent
// callers: the claim is a compare-and-set on status, so two claimers can
// never both win the same task.
func (s *TaskStore) ClaimNext(outcomeID string, phase TaskPhase) (*Task, error) {
	if !phase.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "invalid task phase: %s", phase)
	}

	// Candidates are re-fetched after every lost race: a competitor claiming
	// the head of the list must not starve this caller of the next one down.
	for {
		row := s.db.QueryRow(`
			SELECT `+taskColumns+`
			FROM tasks
			WHERE outcome_id = ? AND phase = ? AND status = ?
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		`, outcomeID, string(phase), string(TaskPending))

		t, err := scanTask(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "select claimable task")
		}

		res, err := s.db.Exec(`
			UPDATE tasks SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(TaskClaimed), time.Now().UTC(), t.ID, string(TaskPending))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "claim task")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "claim task")
		}
		if affected == 1 {
			t.Status = TaskClaimed
			return t, nil
		}
		// Lost the race on this task; try the next candidate.
	}
}

// Transition moves a task between states with a compare-and-set on the
// current status. A lost race returns a conflict.
func (s *TaskStore) Transition(id string, from, to TaskStatus) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "transition task")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "transition task")
	}
	if affected == 0 {
		if _, getErr := s.Get(id); getErr != nil {
			return getErr
		}
		return errors.Conflict("task not in expected state " + string(from))
	}
	return nil
}

// RecordFailure notes a failed attempt. When retries remain the task returns
// to pending with an incremented retry count; once the budget is exhausted it
// moves to failed permanently. Returns the resulting status.
func (s *TaskStore) RecordFailure(id string, errMsg string, maxRetries int) (TaskStatus, error) {
	t, err := s.Get(id)
	if err != nil {
		return "", err
	}

	next := TaskPending
	if t.RetryCount+1 > maxRetries {
		next = TaskFailed
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, retry_count = retry_count + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(next), errMsg, time.Now().UTC(), id, string(TaskClaimed), string(TaskRunning))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePersistence, "record task failure")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePersistence, "record task failure")
	}
	if affected == 0 {
		return "", errors.Conflict("task not in a failable state")
	}
	return next, nil
}

// CountByStatus tallies the outcome's tasks in a phase by status.
func (s *TaskStore) CountByStatus(outcomeID string, phase TaskPhase) (map[TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks WHERE outcome_id = ?`
	args := []any{outcomeID}
	if phase != "" {
		query += " AND phase = ?"
		args = append(args, string(phase))
	}
	query += " GROUP BY status"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "count tasks")
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan task count")
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	t := &Task{}
	var phase, status, caps string
	var lastError sql.NullString
	err := row.Scan(
		&t.ID, &t.OutcomeID, &t.Title, &t.Description, &phase, &status,
		&t.Priority, &caps, &t.RetryCount, &lastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Phase = TaskPhase(phase)
	t.Status = TaskStatus(status)
	if lastError.Valid {
		t.LastError = lastError.String
	}
	decoded, err := decodeStrings(caps)
	if err != nil {
		return nil, err
	}
	t.RequiredCapabilities = decoded
	return t, nil
}
