package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sessions hands out one private-channel subscription per signed-in session.
// Open it on login and Close it on logout; screens read from the session
// instead of subscribing themselves.
type Sessions struct {
	subscriber Subscriber
	buffer     int
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]int
}

func NewSessions(subscriber Subscriber, buffer int, logger *slog.Logger) *Sessions {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		subscriber: subscriber,
		buffer:     buffer,
		logger:     logger,
		active:     make(map[string]int),
	}
}

// Open subscribes to identity's private channel.
func (m *Sessions) Open(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("realtime: session needs an identity")
	}
	s := &Session{
		identity: identity,
		channel:  PrivateChannel(identity),
		messages: make(chan Message, m.buffer),
		manager:  m,
	}
	sub, err := m.subscriber.Subscribe(ctx, s.channel, "", s.deliver)
	if err != nil {
		return nil, err
	}
	s.sub = sub

	m.mu.Lock()
	m.active[identity]++
	m.mu.Unlock()
	return s, nil
}

// Active reports how many open sessions identity has.
func (m *Sessions) Active(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[identity]
}

func (m *Sessions) release(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[identity]--
	if m.active[identity] <= 0 {
		delete(m.active, identity)
	}
}

type Session struct {
	identity string
	channel  string
	messages chan Message
	sub      Subscription
	manager  *Sessions

	mu      sync.Mutex
	closed  bool
	dropped int
}

func (s *Session) Identity() string { return s.identity }

func (s *Session) Channel() string { return s.channel }

// Messages is closed after Close.
func (s *Session) Messages() <-chan Message { return s.messages }

// Dropped counts messages discarded because the buffer was full.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- msg:
	default:
		// A full buffer still holds an unread refetch signal.
		s.dropped++
		s.manager.logger.Debug("session buffer full, dropping message",
			slog.String("identity", s.identity),
			slog.String("event", msg.Event),
		)
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.sub.Unsubscribe()
	close(s.messages)
	s.manager.release(s.identity)
	return err
}
