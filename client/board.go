package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"opsdesk/auth"
	"opsdesk/realtime"
	"opsdesk/workitem"
)

// Board keeps a filtered list of work items current. Notifications carry
// no state of their own; every one marks the list stale and the board
// refetches it from the server. Bursts of notifications collapse into a
// single refetch.
type Board struct {
	client   *Client
	filter   workitem.Filter
	logger   *slog.Logger
	onChange func([]workitem.WorkItem)

	mu        sync.RWMutex
	items     []workitem.WorkItem
	refreshes int

	stale chan struct{}
}

func NewBoard(c *Client, filter workitem.Filter, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		client: c,
		filter: filter,
		logger: logger,
		stale:  make(chan struct{}, 1),
	}
}

// OnChange registers fn to receive the list after every refetch.
func (b *Board) OnChange(fn func([]workitem.WorkItem)) *Board {
	b.onChange = fn
	return b
}

func (b *Board) Items() []workitem.WorkItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]workitem.WorkItem, len(b.items))
	for i, item := range b.items {
		out[i] = item.Clone()
	}
	return out
}

// Refreshes counts successful refetches.
func (b *Board) Refreshes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refreshes
}

func (b *Board) Refresh(ctx context.Context) error {
	items, err := b.client.List(ctx, b.filter)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.items = items
	b.refreshes++
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange(b.Items())
	}
	return nil
}

func (b *Board) markStale(realtime.Message) {
	select {
	case b.stale <- struct{}{}:
	default:
	}
}

// Run watches for notifications until ctx is done, reconnecting with
// backoff. The list is refetched after every (re)connect because events
// sent while disconnected are lost.
func (b *Board) Run(ctx context.Context) error {
	for {
		w, err := b.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.markStale(realtime.Message{})

	loop:
		for {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case <-w.Done():
				b.logger.Warn("live updates disconnected", slog.Any("error", w.Err()))
				break loop
			case <-b.stale:
				if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
					b.logger.Warn("refresh board", slog.Any("error", err))
				}
			}
		}
	}
}

func (b *Board) connect(ctx context.Context) (*Watcher, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0

	var w *Watcher
	op := func() error {
		var err error
		w, err = b.client.Watch(ctx, b.markStale)
		if errors.Is(err, auth.ErrInvalidToken) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		b.logger.Debug("reconnecting live updates", slog.Duration("wait", wait), slog.Any("error", err))
	})
	return w, err
}
