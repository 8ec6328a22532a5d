package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	event   string
	payload any
}

type fakePublisher struct {
	mu       sync.Mutex
	calls    []published
	failures map[string]int
	attempts map[string]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failures: map[string]int{}, attempts: map[string]int{}}
}

func (p *fakePublisher) Publish(_ context.Context, channel, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[event]++
	if p.failures[event] > 0 {
		p.failures[event]--
		return errors.New("broker unavailable")
	}
	p.calls = append(p.calls, published{channel: channel, event: event, payload: payload})
	return nil
}

func (p *fakePublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.calls))
	copy(out, p.calls)
	return out
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) RecordNotification(_ context.Context, _ string, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func (r *countingRecorder) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func fastConfig() Config {
	return Config{Workers: 4, QueueSize: 64, MaxRetries: 3, RetryInterval: time.Millisecond, MaxRetryInterval: 2 * time.Millisecond}
}

func TestDispatcher_PreservesOrderPerKey(t *testing.T) {
	pub := newFakePublisher()
	d := NewDispatcher(pub, fastConfig(), nil)
	d.Start(context.Background())

	const perKey = 20
	for i := 0; i < perKey; i++ {
		for _, key := range []string{"a", "b", "c"} {
			require.True(t, d.Enqueue(Event{Key: key, Channel: "ch-" + key, Name: fmt.Sprintf("%s-%02d", key, i)}))
		}
	}
	d.Close()

	seen := map[string][]string{}
	for _, call := range pub.published() {
		key := call.channel[len("ch-"):]
		seen[key] = append(seen[key], call.event)
	}
	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, seen[key], perKey)
		for i, name := range seen[key] {
			assert.Equal(t, fmt.Sprintf("%s-%02d", key, i), name)
		}
	}
}

func TestDispatcher_RetriesThenPublishes(t *testing.T) {
	pub := newFakePublisher()
	pub.failures["ticket_resolved"] = 2
	rec := &countingRecorder{}
	d := NewDispatcher(pub, fastConfig(), nil).WithRecorder(rec)
	d.Start(context.Background())

	require.True(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "ticket_resolved"}))
	d.Close()

	assert.Len(t, pub.published(), 1)
	assert.Equal(t, 3, pub.attempts["ticket_resolved"])
	assert.Equal(t, 1, rec.count(ResultPublished))
	assert.Equal(t, 0, rec.count(ResultFailed))
}

func TestDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	pub := newFakePublisher()
	pub.failures["task_approved"] = 100
	rec := &countingRecorder{}
	d := NewDispatcher(pub, fastConfig(), nil).WithRecorder(rec)
	d.Start(context.Background())

	require.True(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "task_approved"}))
	require.True(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "task_started"}))
	d.Close()

	assert.Equal(t, 4, pub.attempts["task_approved"], "one attempt plus three retries")
	assert.Equal(t, 1, rec.count(ResultFailed))
	require.Len(t, pub.published(), 1, "later events on the same key still go out")
	assert.Equal(t, "task_started", pub.published()[0].event)
}

func TestDispatcher_DropsWhenFullOrClosed(t *testing.T) {
	pub := newFakePublisher()
	rec := &countingRecorder{}
	d := NewDispatcher(pub, Config{Workers: 1, QueueSize: 1}, nil).WithRecorder(rec)

	// Not started yet, so the single slot fills up.
	assert.True(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "first"}))
	assert.False(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "second"}))
	assert.Equal(t, 1, rec.count(ResultDropped))

	d.Close()
	assert.Len(t, pub.published(), 1, "close drains queued events even if never started")
	assert.False(t, d.Enqueue(Event{Key: "w1", Channel: "c", Name: "late"}))
	assert.Equal(t, 2, rec.count(ResultDropped))
}

func TestDispatcher_RunStopsWithContext(t *testing.T) {
	pub := newFakePublisher()
	d := NewDispatcher(pub, fastConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Enqueue(Event{Key: "w1", Channel: "c", Name: "e"}) }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NotEmpty(t, pub.published())
}
