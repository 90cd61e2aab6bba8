package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

// WorkerStore handles persistence for worker instance records.
type WorkerStore struct {
	db *sql.DB
}

// NewWorkerStore creates a worker store over db.
func NewWorkerStore(db *sql.DB) *WorkerStore {
	return &WorkerStore{db: db}
}

const workerColumns = `id, outcome_id, task_id, phase, status, cost, started_at, ended_at`

// Create persists a new worker record.
func (s *WorkerStore) Create(w *Worker) error {
	if w.Status == "" {
		w.Status = WorkerRunning
	}
	if w.StartedAt.IsZero() {
		w.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO workers (id, outcome_id, task_id, phase, status, cost, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.OutcomeID, nullString(w.TaskID), string(w.Phase), string(w.Status), w.Cost, w.StartedAt, w.EndedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "insert worker")
	}
	return nil
}

// Get retrieves a worker by ID.
func (s *WorkerStore) Get(id string) (*Worker, error) {
	row := s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("worker", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query worker")
	}
	return w, nil
}

// ListActive returns running workers for an outcome, optionally filtered by
// phase.
func (s *WorkerStore) ListActive(outcomeID string, phase TaskPhase) ([]*Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE outcome_id = ? AND status = ?`
	args := []any{outcomeID, string(WorkerRunning)}
	if phase != "" {
		query += " AND phase = ?"
		args = append(args, string(phase))
	}
	query += " ORDER BY started_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list workers")
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan worker")
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ActiveForTask returns the running worker on a task, or nil.
func (s *WorkerStore) ActiveForTask(taskID string) (*Worker, error) {
	row := s.db.QueryRow(
		`SELECT `+workerColumns+` FROM workers WHERE task_id = ? AND status = ?`,
		taskID, string(WorkerRunning),
	)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query worker for task")
	}
	return w, nil
}

// Finish marks the worker terminal and stamps its end time in one write.
func (s *WorkerStore) Finish(id string, status WorkerStatus) error {
	switch status {
	case WorkerCompleted, WorkerFailed, WorkerStopped:
	default:
		return errors.Newf(errors.ErrCodeValidation, "finish requires a terminal worker status, got %s", status)
	}
	res, err := s.db.Exec(
		`UPDATE workers SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), id, string(WorkerRunning),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "finish worker")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "finish worker")
	}
	if affected == 0 {
		if _, getErr := s.Get(id); getErr != nil {
			return getErr
		}
		return errors.Conflict("worker already finished")
	}
	return nil
}

// AddCost accumulates reported cost onto the worker record.
func (s *WorkerStore) AddCost(id string, amount float64) error {
	if amount < 0 {
		return errors.Newf(errors.ErrCodeValidation, "cost cannot be negative, got %v", amount)
	}
	res, err := s.db.Exec(`UPDATE workers SET cost = cost + ? WHERE id = ?`, amount, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "add worker cost")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.NotFound("worker", id)
	}
	return nil
}

// TotalCost sums all worker cost for an outcome.
func (s *WorkerStore) TotalCost(outcomeID string) (float64, error) {
	var total float64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(cost), 0) FROM workers WHERE outcome_id = ?`, outcomeID,
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodePersistence, "sum worker cost")
	}
	return total, nil
}

func scanWorker(row scanner) (*Worker, error) {
	w := &Worker{}
	var taskID sql.NullString
	var phase, status string
	var endedAt sql.NullTime
	err := row.Scan(&w.ID, &w.OutcomeID, &taskID, &phase, &status, &w.Cost, &w.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		w.TaskID = taskID.String
	}
	w.Phase = TaskPhase(phase)
	w.Status = WorkerStatus(status)
	if endedAt.Valid {
		w.EndedAt = &endedAt.Time
	}
	return w, nil
}
