package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

// EscalationStore handles persistence for escalation records. The answer and
// dismiss writes are single-statement compare-and-sets on pending status, so
// a terminal record can never be overwritten and a partial failure can never
// leave the answer fields half-written.
type EscalationStore struct {
	db *sql.DB
}

// NewEscalationStore creates an escalation store over db.
func NewEscalationStore(db *sql.DB) *EscalationStore {
	return &EscalationStore{db: db}
}

const escalationColumns = `id, outcome_id, status, trigger_type, trigger_task_id,
	trigger_evidence, question_text, question_context, question_options,
	answer, dismiss_reason, created_at, resolved_at`

// Create persists a new pending escalation.
func (e *EscalationStore) Create(esc *Escalation) error {
	if esc.Status == "" {
		esc.Status = EscalationPending
	}
	if esc.Status != EscalationPending {
		return errors.Newf(errors.ErrCodeValidation, "new escalations must be pending, got %s", esc.Status)
	}
	evidence, err := encodeStrings(esc.Trigger.Evidence)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "encode evidence")
	}
	options, err := encodeOptions(esc.Question.Options)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "encode options")
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}

	_, err = e.db.Exec(`
		INSERT INTO escalations (id, outcome_id, status, trigger_type, trigger_task_id,
			trigger_evidence, question_text, question_context, question_options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		esc.ID, esc.OutcomeID, string(esc.Status), string(esc.Trigger.Type),
		nullString(esc.Trigger.TaskID), evidence,
		esc.Question.Text, esc.Question.Context, options, esc.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "insert escalation")
	}
	return nil
}

// Get retrieves an escalation by ID.
func (e *EscalationStore) Get(id string) (*Escalation, error) {
	row := e.db.QueryRow(`SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	esc, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("escalation", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "query escalation")
	}
	return esc, nil
}

// ListPending returns pending escalations in creation order (oldest first,
// preserving causal ordering of decisions). Empty outcomeID lists across all
// outcomes.
func (e *EscalationStore) ListPending(outcomeID string) ([]*Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE status = ?`
	args := []any{string(EscalationPending)}
	if outcomeID != "" {
		query += " AND outcome_id = ?"
		args = append(args, outcomeID)
	}
	query += " ORDER BY created_at ASC"
	return e.queryEscalations(query, args...)
}

// ListSince returns escalations created at or after cutoff, optionally
// filtered to one outcome, in creation order.
func (e *EscalationStore) ListSince(cutoff time.Time, outcomeID string) ([]*Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE created_at >= ?`
	args := []any{cutoff}
	if outcomeID != "" {
		query += " AND outcome_id = ?"
		args = append(args, outcomeID)
	}
	query += " ORDER BY created_at ASC"
	return e.queryEscalations(query, args...)
}

// Answer marks the escalation answered with the given answer. The status,
// answer payload, and resolution time are written atomically; acting on a
// non-pending record fails with AlreadyResolved and changes nothing.
func (e *EscalationStore) Answer(id string, answer *Answer) error {
	if answer == nil {
		return errors.Validation("answer cannot be nil")
	}
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = time.Now().UTC()
	}
	encoded, err := encodeAnswer(answer)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "encode answer")
	}

	res, err := e.db.Exec(`
		UPDATE escalations SET status = ?, answer = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(EscalationAnswered), encoded, answer.AnsweredAt, id, string(EscalationPending))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "answer escalation")
	}
	return e.checkResolved(res, id)
}

// Dismiss marks the escalation dismissed. Same terminal-state semantics as
// Answer.
func (e *EscalationStore) Dismiss(id, reason string) error {
	res, err := e.db.Exec(`
		UPDATE escalations SET status = ?, dismiss_reason = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(EscalationDismissed), reason, time.Now().UTC(), id, string(EscalationPending))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "dismiss escalation")
	}
	return e.checkResolved(res, id)
}

// checkResolved distinguishes a missing record from a terminal one after a
// zero-row compare-and-set.
func (e *EscalationStore) checkResolved(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "resolve escalation")
	}
	if affected == 1 {
		return nil
	}
	existing, err := e.Get(id)
	if err != nil {
		return err
	}
	return errors.Newf(errors.ErrCodeAlreadyResolved, "escalation %s is already %s", id, existing.Status)
}

func (e *EscalationStore) queryEscalations(query string, args ...any) ([]*Escalation, error) {
	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "list escalations")
	}
	defer rows.Close()

	var escalations []*Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePersistence, "scan escalation")
		}
		escalations = append(escalations, esc)
	}
	return escalations, rows.Err()
}

func scanEscalation(row scanner) (*Escalation, error) {
	esc := &Escalation{}
	var status, triggerType, evidence, options string
	var taskID, answer, dismissReason sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&esc.ID, &esc.OutcomeID, &status, &triggerType, &taskID,
		&evidence, &esc.Question.Text, &esc.Question.Context, &options,
		&answer, &dismissReason, &esc.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	esc.Status = EscalationStatus(status)
	esc.Trigger.Type = TriggerType(triggerType)
	if taskID.Valid {
		esc.Trigger.TaskID = taskID.String
	}
	if esc.Trigger.Evidence, err = decodeStrings(evidence); err != nil {
		return nil, err
	}
	if esc.Question.Options, err = decodeOptions(options); err != nil {
		return nil, err
	}
	if answer.Valid {
		if esc.Answer, err = decodeAnswer(answer.String); err != nil {
			return nil, err
		}
	}
	if dismissReason.Valid {
		esc.DismissReason = dismissReason.String
	}
	if resolvedAt.Valid {
		esc.ResolvedAt = &resolvedAt.Time
	}
	return esc, nil
}
