package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan *Message, 1)
	_, err := b.Subscribe(context.Background(), "steward.worker.w1.observation", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), ObservationSubject("w1"), []byte(`{"kind":"progress"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Subject != "steward.worker.w1.observation" {
			t.Errorf("Subject = %s", msg.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBus_WildcardSubscription(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var subjects []string
	done := make(chan struct{}, 4)
	_, err := b.Subscribe(context.Background(), SubjectObservationWildcard, func(msg *Message) {
		mu.Lock()
		subjects = append(subjects, msg.Subject)
		mu.Unlock()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, worker := range []string{"w1", "w2"} {
		if err := b.Publish(context.Background(), ObservationSubject(worker), []byte("x")); err != nil {
			t.Fatalf("publish %s: %v", worker, err)
		}
	}
	// A non-observation subject must not match.
	if err := b.Publish(context.Background(), "steward.control.stop", []byte("x")); err != nil {
		t.Fatalf("publish control: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for wildcard delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(subjects) != 2 {
		t.Errorf("received %d messages, want 2: %v", len(subjects), subjects)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan *Message, 4)
	sub, err := b.Subscribe(context.Background(), "steward.worker.w1.observation", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Unsubscribe is idempotent.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	if err := b.Publish(context.Background(), "steward.worker.w1.observation", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
		t.Error("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBus_ClosedRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := b.Publish(context.Background(), "s", nil); err != ErrClosed {
		t.Errorf("publish on closed = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), "s", func(*Message) {}); err != ErrClosed {
		t.Errorf("subscribe on closed = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != ErrClosed {
		t.Errorf("double close = %v, want ErrClosed", err)
	}
}

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
		{"a.>", "a.b.c.d", true},
		{"a.>", "a", false},
		{"steward.worker.*.observation", "steward.worker.w9.observation", true},
		{"steward.worker.*.observation", "steward.worker.w9.status", false},
		{"a.*", "a.b.c", false},
	}

	for _, tc := range cases {
		if got := matchSubject(tc.pattern, tc.subject); got != tc.want {
			t.Errorf("matchSubject(%q, %q) = %v, want %v", tc.pattern, tc.subject, got, tc.want)
		}
	}
}

func TestObservationSubject(t *testing.T) {
	got := ObservationSubject("w42")
	if got != "steward.worker.w42.observation" {
		t.Errorf("ObservationSubject = %s", got)
	}
	if !matchSubject(SubjectObservationWildcard, got) {
		t.Error("wildcard should match built subject")
	}
}
