package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

// OutcomeStore handles persistence for outcome records.
type OutcomeStore struct {
	db *sql.DB
}

// NewOutcomeStore creates an outcome store over db.
func NewOutcomeStore(db *sql.DB) *OutcomeStore {
	return &OutcomeStore{db: db}
}

// Create persists a new outcome.
func (s *OutcomeStore) Create(o *Outcome) error {
	if o.Status == "" {
		o.Status = OutcomeDraft
	}
	if !o.Status.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "invalid outcome status: %s", o.Status)
	}
	if o.AutoResolveThreshold < 0 || o.AutoResolveThreshold > 1 {
		return errors.Newf(errors.ErrCodeValidation, "auto_resolve_threshold must be in [0,1], got %v", o.AutoResolveThreshold)
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	query := `
		INSERT INTO outcomes (id, name, status, parent_id, infrastructure_ready,
			auto_resolve_mode, auto_resolve_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		o.ID,
		o.Name,
		string(o.Status),
		nullString(o.ParentID),
		boolToInt(o.InfrastructureReady),
		o.AutoResolveMode,
		o.AutoResolveThreshold,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "insert outcome")
	}
	return nil
}

// Get retrieves an outcome by ID.
func (s *OutcomeStore) Get(id string) (*Outcome, error) {
	query := `
		SELECT id, name, status, parent_id, infrastructure_ready,
			auto_resolve_mode, auto_resolve_threshold, created_at, updated_at
		FROM outcomes
		WHERE id = ?
	`
	o := &Outcome{}
	var parentID sql.NullString
	var ready int
	var status string
	err := s.db.QueryRow(query, id).Scan(
		&o.ID,
		&o.Name,
		&status,
		&parentID,
		&ready,
		&o.AutoResolveMode,
		&o.AutoResolveThreshold,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("outcome", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query outcome")
	}
	o.Status = OutcomeStatus(status)
	o.InfrastructureReady = ready != 0
	if parentID.Valid {
		o.ParentID = parentID.String
	}
	return o, nil
}

// List returns outcomes, optionally filtered by status.
func (s *OutcomeStore) List(status OutcomeStatus) ([]*Outcome, error) {
	query := `
		SELECT id, name, status, parent_id, infrastructure_ready,
			auto_resolve_mode, auto_resolve_threshold, created_at, updated_at
		FROM outcomes
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list outcomes")
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o := &Outcome{}
		var parentID sql.NullString
		var ready int
		var st string
		if err := rows.Scan(&o.ID, &o.Name, &st, &parentID, &ready,
			&o.AutoResolveMode, &o.AutoResolveThreshold, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan outcome")
		}
		o.Status = OutcomeStatus(st)
		o.InfrastructureReady = ready != 0
		if parentID.Valid {
			o.ParentID = parentID.String
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Children returns the direct children of an outcome.
func (s *OutcomeStore) Children(parentID string) ([]*Outcome, error) {
	rows, err := s.db.Query(`
		SELECT id, name, status, parent_id, infrastructure_ready,
			auto_resolve_mode, auto_resolve_threshold, created_at, updated_at
		FROM outcomes WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list children")
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o := &Outcome{}
		var pid sql.NullString
		var ready int
		var st string
		if err := rows.Scan(&o.ID, &o.Name, &st, &pid, &ready,
			&o.AutoResolveMode, &o.AutoResolveThreshold, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan outcome")
		}
		o.Status = OutcomeStatus(st)
		o.InfrastructureReady = ready != 0
		if pid.Valid {
			o.ParentID = pid.String
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Transition moves the outcome to the next lifecycle state, enforcing
// legality. Illegal transitions return a validation error without mutation.
func (s *OutcomeStore) Transition(id string, next OutcomeStatus) error {
	if !next.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "invalid outcome status: %s", next)
	}
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return errors.Newf(errors.ErrCodeValidation, "outcome %s cannot move from %s to %s", id, current.Status, next)
	}

	// Status is re-checked in the WHERE clause so a concurrent transition
	// loses cleanly instead of overwriting.
	res, err := s.db.Exec(
		`UPDATE outcomes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC(), id, string(current.Status),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "transition outcome")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "transition outcome")
	}
	if affected == 0 {
		return errors.Conflict("outcome status changed concurrently")
	}
	return nil
}

// SetInfrastructureReady unlocks execution-phase claims for the outcome.
func (s *OutcomeStore) SetInfrastructureReady(id string, ready bool) error {
	res, err := s.db.Exec(
		`UPDATE outcomes SET infrastructure_ready = ?, updated_at = ? WHERE id = ?`,
		boolToInt(ready), time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "set infrastructure_ready")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.NotFound("outcome", id)
	}
	return nil
}

// SetAutoResolvePolicy updates the outcome's resolution policy.
func (s *OutcomeStore) SetAutoResolvePolicy(id, mode string, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return errors.Newf(errors.ErrCodeValidation, "auto_resolve_threshold must be in [0,1], got %v", threshold)
	}
	res, err := s.db.Exec(
		`UPDATE outcomes SET auto_resolve_mode = ?, auto_resolve_threshold = ?, updated_at = ? WHERE id = ?`,
		mode, threshold, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "set auto-resolve policy")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.NotFound("outcome", id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
