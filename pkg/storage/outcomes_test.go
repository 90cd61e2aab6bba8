package storage

import (
	"testing"

	"github.com/odvcencio/steward/pkg/errors"
)

func TestOutcomes_CreateDefaults(t *testing.T) {
	store := setupStore(t)
	outcomes := store.Outcomes()

	o := &Outcome{ID: "o1", Name: "ship the feature", AutoResolveMode: "manual", AutoResolveThreshold: 0.8}
	if err := outcomes.Create(o); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := outcomes.Get("o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != OutcomeDraft {
		t.Errorf("Status = %s, want draft", got.Status)
	}
	if got.InfrastructureReady {
		t.Error("InfrastructureReady should default to false")
	}
}

func TestOutcomes_ThresholdValidation(t *testing.T) {
	store := setupStore(t)

	o := &Outcome{ID: "o1", Name: "n", AutoResolveThreshold: 1.5}
	err := store.Outcomes().Create(o)
	if !errors.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}

	if err := store.Outcomes().SetAutoResolvePolicy("o1", "full-auto", -0.2); !errors.IsValidation(err) {
		t.Errorf("expected ValidationError for negative threshold, got %v", err)
	}
}

func TestOutcomes_LifecycleTransitions(t *testing.T) {
	store := setupStore(t)
	outcomes := store.Outcomes()
	if err := outcomes.Create(&Outcome{ID: "o1", Name: "n"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		next   OutcomeStatus
		wantOK bool
	}{
		{OutcomeAchieved, false}, // draft cannot jump to achieved
		{OutcomeActive, true},
		{OutcomeDormant, true},
		{OutcomeAchieved, false}, // dormant cannot be achieved
		{OutcomeActive, true},
		{OutcomeAchieved, true},
		{OutcomeActive, false}, // achieved is terminal except archive
		{OutcomeArchived, true},
		{OutcomeArchived, false},
	}

	for i, step := range steps {
		err := outcomes.Transition("o1", step.next)
		if step.wantOK && err != nil {
			t.Fatalf("step %d to %s: unexpected error %v", i, step.next, err)
		}
		if !step.wantOK {
			if !errors.IsValidation(err) {
				t.Fatalf("step %d to %s: expected ValidationError, got %v", i, step.next, err)
			}
		}
	}
}

func TestOutcomes_SetInfrastructureReady(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")

	if err := store.Outcomes().SetInfrastructureReady("o1", true); err != nil {
		t.Fatalf("set ready: %v", err)
	}
	got, _ := store.Outcomes().Get("o1")
	if !got.InfrastructureReady {
		t.Error("InfrastructureReady should be true")
	}

	if err := store.Outcomes().SetInfrastructureReady("missing", true); !errors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestOutcomes_ParentChildLinks(t *testing.T) {
	store := setupStore(t)
	outcomes := store.Outcomes()

	if err := outcomes.Create(&Outcome{ID: "root", Name: "root"}); err != nil {
		t.Fatalf("create root: %v", err)
	}
	for _, id := range []string{"c1", "c2"} {
		if err := outcomes.Create(&Outcome{ID: id, Name: id, ParentID: "root"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	children, err := outcomes.Children("root")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("children count = %d, want 2", len(children))
	}

	got, _ := outcomes.Get("c1")
	if got.ParentID != "root" {
		t.Errorf("ParentID = %s, want root", got.ParentID)
	}
}

func TestParseTriggerType(t *testing.T) {
	cases := []struct {
		tag   string
		want  TriggerType
		known bool
	}{
		{"missing-capability", TriggerMissingCapability, true},
		{"  Policy ", TriggerPolicy, true},
		{"unknown", TriggerUnknown, true},
		{"made-up-tag", TriggerUnknown, false},
		{"", TriggerUnknown, false},
	}

	for _, tc := range cases {
		got, known := ParseTriggerType(tc.tag)
		if got != tc.want || known != tc.known {
			t.Errorf("ParseTriggerType(%q) = (%s, %v), want (%s, %v)", tc.tag, got, known, tc.want, tc.known)
		}
	}
}
