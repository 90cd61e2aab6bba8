package storage

import (
	"reflect"
	"testing"
	"time"

	"github.com/odvcencio/steward/pkg/errors"
)

func seedEscalation(t *testing.T, store *Store, id, outcomeID string) *Escalation {
	t.Helper()
	esc := &Escalation{
		ID:        id,
		OutcomeID: outcomeID,
		Trigger: Trigger{
			Type:     TriggerMissingCapability,
			TaskID:   "t1",
			Evidence: []string{"worker could not find the deploy tool", "attempt 2 failed identically"},
		},
		Question: Question{
			Text:    "Which deploy mechanism should workers use?",
			Context: "No deploy tooling is registered for this outcome.",
			Options: []Option{
				{ID: "A", Label: "Install the CLI", Description: "Adds a setup task", Implications: "slower first run"},
				{ID: "B", Label: "Use the HTTP API", Implications: "requires credentials"},
			},
		},
	}
	if err := store.Escalations().Create(esc); err != nil {
		t.Fatalf("failed to seed escalation: %v", err)
	}
	return esc
}

// Creating then fetching must return an identical trigger/question payload,
// including the nested option and evidence lists.
func TestEscalations_RoundTrip(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	created := seedEscalation(t, store, "esc1", "o1")

	got, err := store.Escalations().Get("esc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != EscalationPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if !reflect.DeepEqual(got.Trigger, created.Trigger) {
		t.Errorf("Trigger mismatch:\n got %+v\nwant %+v", got.Trigger, created.Trigger)
	}
	if !reflect.DeepEqual(got.Question, created.Question) {
		t.Errorf("Question mismatch:\n got %+v\nwant %+v", got.Question, created.Question)
	}
	if got.Answer != nil {
		t.Errorf("Answer should be nil before resolution, got %+v", got.Answer)
	}
}

func TestEscalations_AnswerAtomic(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedEscalation(t, store, "esc1", "o1")
	escalations := store.Escalations()

	answer := &Answer{Option: "A", Context: "install it once", Machine: true, Confidence: 0.92}
	if err := escalations.Answer("esc1", answer); err != nil {
		t.Fatalf("answer: %v", err)
	}

	got, _ := escalations.Get("esc1")
	if got.Status != EscalationAnswered {
		t.Errorf("Status = %s, want answered", got.Status)
	}
	if got.Answer == nil || got.Answer.Option != "A" || !got.Answer.Machine {
		t.Errorf("Answer = %+v, want machine answer A", got.Answer)
	}
	if got.Answer.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", got.Answer.Confidence)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt should be stamped with the answer")
	}
}

func TestEscalations_AnswerTerminalRejected(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedEscalation(t, store, "esc1", "o1")
	escalations := store.Escalations()

	if err := escalations.Answer("esc1", &Answer{Option: "A"}); err != nil {
		t.Fatalf("first answer: %v", err)
	}

	err := escalations.Answer("esc1", &Answer{Option: "B"})
	if !errors.IsAlreadyResolved(err) {
		t.Errorf("expected AlreadyResolved, got %v", err)
	}

	// The record must be unchanged by the rejected write.
	got, _ := escalations.Get("esc1")
	if got.Answer.Option != "A" {
		t.Errorf("Answer.Option = %s, want A (unchanged)", got.Answer.Option)
	}

	err = escalations.Dismiss("esc1", "obsolete")
	if !errors.IsAlreadyResolved(err) {
		t.Errorf("dismiss on answered: expected AlreadyResolved, got %v", err)
	}
	got, _ = escalations.Get("esc1")
	if got.Status != EscalationAnswered {
		t.Errorf("Status = %s, want answered (unchanged)", got.Status)
	}
}

func TestEscalations_Dismiss(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedEscalation(t, store, "esc1", "o1")
	escalations := store.Escalations()

	if err := escalations.Dismiss("esc1", "superseded by plan change"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	got, _ := escalations.Get("esc1")
	if got.Status != EscalationDismissed {
		t.Errorf("Status = %s, want dismissed", got.Status)
	}
	if got.DismissReason != "superseded by plan change" {
		t.Errorf("DismissReason = %q", got.DismissReason)
	}

	err := escalations.Answer("esc1", &Answer{Option: "A"})
	if !errors.IsAlreadyResolved(err) {
		t.Errorf("answer on dismissed: expected AlreadyResolved, got %v", err)
	}
}

func TestEscalations_NotFound(t *testing.T) {
	store := setupStore(t)

	if _, err := store.Escalations().Get("missing"); !errors.IsNotFound(err) {
		t.Errorf("Get: expected NotFound, got %v", err)
	}
	if err := store.Escalations().Answer("missing", &Answer{Option: "A"}); !errors.IsNotFound(err) {
		t.Errorf("Answer: expected NotFound, got %v", err)
	}
	if err := store.Escalations().Dismiss("missing", "r"); !errors.IsNotFound(err) {
		t.Errorf("Dismiss: expected NotFound, got %v", err)
	}
}

func TestEscalations_ListPendingOrder(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedOutcome(t, store, "o2")
	escalations := store.Escalations()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"e1", "e2", "e3"} {
		esc := &Escalation{
			ID:        id,
			OutcomeID: "o1",
			Trigger:   Trigger{Type: TriggerBudget},
			Question:  Question{Text: "q"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := escalations.Create(esc); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	other := &Escalation{ID: "other", OutcomeID: "o2", Trigger: Trigger{Type: TriggerPolicy}, Question: Question{Text: "q"}}
	if err := escalations.Create(other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	if err := escalations.Dismiss("e2", "noise"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	pending, err := escalations.ListPending("o1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}
	// Oldest first: causal ordering of decisions.
	if pending[0].ID != "e1" || pending[1].ID != "e3" {
		t.Errorf("pending order = [%s %s], want [e1 e3]", pending[0].ID, pending[1].ID)
	}

	all, err := escalations.ListPending("")
	if err != nil {
		t.Fatalf("list all pending: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all pending count = %d, want 3", len(all))
	}
}

func TestEscalations_ListSince(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	escalations := store.Escalations()

	old := &Escalation{
		ID: "old", OutcomeID: "o1",
		Trigger:   Trigger{Type: TriggerBudget},
		Question:  Question{Text: "q"},
		CreatedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
	}
	recent := &Escalation{
		ID: "recent", OutcomeID: "o1",
		Trigger:  Trigger{Type: TriggerBudget},
		Question: Question{Text: "q"},
	}
	for _, esc := range []*Escalation{old, recent} {
		if err := escalations.Create(esc); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := escalations.ListSince(time.Now().UTC().Add(-30*24*time.Hour), "o1")
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(got) != 1 || got[0].ID != "recent" {
		t.Errorf("ListSince = %v, want [recent]", escIDs(got))
	}
}

func escIDs(escs []*Escalation) []string {
	ids := make([]string, len(escs))
	for i, e := range escs {
		ids[i] = e.ID
	}
	return ids
}
