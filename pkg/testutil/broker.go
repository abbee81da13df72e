package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/pearlsync/pkg/broker"
)

// Message is a payload published through a MemoryBroker.
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
}

// MemoryBroker is an in-process broker.Dialer. Sessions dialed from it
// exchange messages by topic and never receive their own publishes.
type MemoryBroker struct {
	mu        sync.Mutex
	sessions  map[*memorySession]struct{}
	published []Message
	dialErrs  []error
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{sessions: make(map[*memorySession]struct{})}
}

// FailNextDial makes the next dial return err.
func (b *MemoryBroker) FailNextDial(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs = append(b.dialErrs, err)
}

// Dial implements broker.Dialer.
func (b *MemoryBroker) Dial(ctx context.Context, opts broker.DialOptions, handlers broker.SessionHandlers) (broker.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		return nil, fmt.Errorf("%w: %w", broker.ErrTransport, err)
	}

	s := &memorySession{
		broker:   b,
		clientID: opts.ClientID,
		handlers: handlers,
		topics:   make(map[string]bool),
	}
	b.sessions[s] = struct{}{}
	return s, nil
}

// Inject delivers payload on topic as if published by another client.
func (b *MemoryBroker) Inject(topic string, payload []byte) {
	b.deliver(nil, topic, payload)
}

// Published returns every message published by a session.
func (b *MemoryBroker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribers returns the number of sessions subscribed to topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.sessions {
		if s.subscribed(topic) {
			n++
		}
	}
	return n
}

// Drop ends every session of clientID as a network failure would.
func (b *MemoryBroker) Drop(clientID string) {
	b.mu.Lock()
	var dropped []*memorySession
	for s := range b.sessions {
		if s.clientID == clientID {
			dropped = append(dropped, s)
			delete(b.sessions, s)
		}
	}
	b.mu.Unlock()

	for _, s := range dropped {
		if s.markClosed() && s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(fmt.Errorf("%w: connection dropped", broker.ErrTransport))
		}
	}
}

func (b *MemoryBroker) deliver(from *memorySession, topic string, payload []byte) {
	b.mu.Lock()
	var targets []*memorySession
	for s := range b.sessions {
		if s != from && s.subscribed(topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(append([]byte(nil), payload...))
		}
	}
}

type memorySession struct {
	broker   *MemoryBroker
	clientID string
	handlers broker.SessionHandlers

	mu     sync.Mutex
	topics map[string]bool
	closed bool
}

var errSessionClosed = errors.New("session closed")

func (s *memorySession) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.topics[topic]
}

func (s *memorySession) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *memorySession) Subscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	s.topics[topic] = true
	return nil
}

func (s *memorySession) Unsubscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	return nil
}

func (s *memorySession) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}

	s.broker.mu.Lock()
	s.broker.published = append(s.broker.published, Message{
		ClientID: s.clientID,
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
	})
	s.broker.mu.Unlock()

	s.broker.deliver(s, topic, payload)
	return nil
}

func (s *memorySession) Close() error {
	s.markClosed()
	s.broker.mu.Lock()
	delete(s.broker.sessions, s)
	s.broker.mu.Unlock()
	return nil
}
