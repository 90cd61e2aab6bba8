package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

const memorySubBuffer = 64

// MemoryBus is an in-process implementation of MessageBus. It is the default
// transport when orchestrator and workers share a process.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]*memorySubscription
	closed        atomic.Bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string]map[string]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subscriptions {
		if !matchSubject(pattern, subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			// Non-blocking send: a stalled subscriber drops messages rather
			// than wedging the publisher.
			select {
			case sub.messages <- msg:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:       ulid.Make().String(),
		subject:  subject,
		bus:      b,
		messages: make(chan *Message, memorySubBuffer),
	}

	b.mu.Lock()
	if b.subscriptions[subject] == nil {
		b.subscriptions[subject] = make(map[string]*memorySubscription)
	}
	b.subscriptions[subject][sub.id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case msg, ok := <-sub.messages:
				if !ok {
					return
				}
				handler(msg)
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
	}()

	return sub, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subscriptions = make(map[string]map[string]*memorySubscription)
	return nil
}

type memorySubscription struct {
	id       string
	subject  string
	bus      *MemoryBus
	messages chan *Message
	closed   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.bus.mu.Lock()
	if subs := s.bus.subscriptions[s.subject]; subs != nil {
		delete(subs, s.id)
	}
	s.bus.mu.Unlock()
	close(s.messages)
	return nil
}

func (s *memorySubscription) Subject() string { return s.subject }

// close marks the subscription dead without touching the bus map; used
// during bus shutdown while the map lock is held.
func (s *memorySubscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.messages)
	}
}

// matchSubject implements NATS-style subject matching: "*" matches exactly
// one token, ">" matches one or more trailing tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
