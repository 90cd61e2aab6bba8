package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

// ReviewCycleStore handles persistence for convergence review cycles.
type ReviewCycleStore struct {
	db *sql.DB
}

// NewReviewCycleStore creates a review cycle store over db.
func NewReviewCycleStore(db *sql.DB) *ReviewCycleStore {
	return &ReviewCycleStore{db: db}
}

// Create persists a review cycle, assigning the next sequence number for the
// outcome when Sequence is zero.
func (s *ReviewCycleStore) Create(rc *ReviewCycle) error {
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	if rc.Sequence == 0 {
		next, err := s.nextSequence(rc.OutcomeID)
		if err != nil {
			return err
		}
		rc.Sequence = next
	}

	res, err := s.db.Exec(`
		INSERT INTO review_cycles (outcome_id, sequence, issues_found, tasks_created, converged, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rc.OutcomeID, rc.Sequence, rc.IssuesFound, rc.TasksCreated, boolToInt(rc.Converged), rc.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "insert review cycle")
	}
	if id, err := res.LastInsertId(); err == nil {
		rc.ID = id
	}
	return nil
}

// Latest returns the most recent cycle for an outcome, or nil when the
// outcome has never been reviewed.
func (s *ReviewCycleStore) Latest(outcomeID string) (*ReviewCycle, error) {
	row := s.db.QueryRow(`
		SELECT id, outcome_id, sequence, issues_found, tasks_created, converged, created_at
		FROM review_cycles
		WHERE outcome_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`, outcomeID)

	rc, err := scanReviewCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query latest review cycle")
	}
	return rc, nil
}

// History returns all cycles for an outcome in sequence order.
func (s *ReviewCycleStore) History(outcomeID string) ([]*ReviewCycle, error) {
	rows, err := s.db.Query(`
		SELECT id, outcome_id, sequence, issues_found, tasks_created, converged, created_at
		FROM review_cycles
		WHERE outcome_id = ?
		ORDER BY sequence ASC
	`, outcomeID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list review cycles")
	}
	defer rows.Close()

	var cycles []*ReviewCycle
	for rows.Next() {
		rc, err := scanReviewCycle(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan review cycle")
		}
		cycles = append(cycles, rc)
	}
	return cycles, rows.Err()
}

func (s *ReviewCycleStore) nextSequence(outcomeID string) (int, error) {
	var max int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) FROM review_cycles WHERE outcome_id = ?`, outcomeID,
	).Scan(&max)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodePersistence, "next review sequence")
	}
	return max + 1, nil
}

func scanReviewCycle(row scanner) (*ReviewCycle, error) {
	rc := &ReviewCycle{}
	var converged int
	err := row.Scan(&rc.ID, &rc.OutcomeID, &rc.Sequence, &rc.IssuesFound, &rc.TasksCreated, &converged, &rc.CreatedAt)
	if err != nil {
		return nil, err
	}
	rc.Converged = converged != 0
	return rc, nil
}
