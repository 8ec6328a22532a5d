package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Hub is an in-process broker. Publish delivers synchronously to every
// matching handler in subscription order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]hubSub
	nextID uint64
	closed bool
	now    func() time.Time
}

type hubSub struct {
	id      uint64
	event   string
	handler Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]hubSub), now: time.Now}
}

func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newMessage(channel, event, payload, h.now())
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]hubSub, 0, len(h.subs[channel]))
	for _, s := range h.subs[channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, s := range targets {
		if matches(s.event, msg) {
			s.handler(msg)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel, event string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]hubSub)
	}
	h.subs[channel][id] = hubSub{id: id, event: event, handler: handler}
	return &hubSubscription{hub: h, channel: channel, id: id}, nil
}

// Subscribers reports how many subscriptions are attached to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[string]map[uint64]hubSub)
	return nil
}

func (h *Hub) remove(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[channel], id)
	if len(h.subs[channel]) == 0 {
		delete(h.subs, channel)
	}
}

type hubSubscription struct {
	hub     *Hub
	channel string
	id      uint64
	once    sync.Once
}

func (s *hubSubscription) Unsubscribe() error {
	s.once.Do(func() { s.hub.remove(s.channel, s.id) })
	return nil
}
