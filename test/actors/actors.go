// Package actors drives work items from several goroutines at once, the way
// owners and reviewers on different app servers would.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"opsdesk/workitem"
)

// Items is the shared set of work item ids the actors pick from.
type Items struct {
	mu  sync.RWMutex
	ids []string
}

func (it *Items) Add(id string) {
	it.mu.Lock()
	it.ids = append(it.ids, id)
	it.mu.Unlock()
}

func (it *Items) Pick() (string, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if len(it.ids) == 0 {
		return "", false
	}
	return it.ids[rand.Intn(len(it.ids))], true
}

func (it *Items) Len() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.ids)
}

// Stats counts transition outcomes across all actors.
type Stats struct {
	Applied   atomic.Int64
	Conflicts atomic.Int64
	Failures  atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("applied=%d conflicts=%d failures=%d", s.Applied.Load(), s.Conflicts.Load(), s.Failures.Load())
}

// Creator assigns a new item from reviewerID to ownerID every interval.
func Creator(ctx context.Context, svc *workitem.Service, ownerID, reviewerID string, items *Items, interval time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
		}
		item, err := svc.Create(ctx, workitem.CreateParams{
			OwnerID:    ownerID,
			ReviewerID: reviewerID,
			Kind:       workitem.KindMarketingTask,
			Payload:    map[string]any{"title": fmt.Sprintf("stress %d", rand.Int63())},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// backend killed mid-insert; try again next tick
			continue
		}
		items.Add(item.ID)
	}
}

// Party repeatedly picks an item and applies one of the actions actorID may
// take on it, using the version it read as the expected version. Losing a
// race is expected; being told the actor is not allowed is a bug.
func Party(ctx context.Context, svc *workitem.Service, actorID string, items *Items, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, ok := items.Pick()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		item, err := svc.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failures.Add(1)
			continue
		}

		allowed := workitem.Allowed(item, actorID)
		if len(allowed) == 0 {
			time.Sleep(time.Duration(1+rand.Intn(5)) * time.Millisecond)
			continue
		}
		action := allowed[rand.Intn(len(allowed))]
		version := item.Version

		_, err = svc.Transition(ctx, workitem.TransitionParams{
			ID:              id,
			Action:          action,
			ActorID:         actorID,
			Comment:         fmt.Sprintf("%s by %s", action, actorID),
			ExpectedVersion: &version,
		})
		switch {
		case err == nil:
			stats.Applied.Add(1)
		case errors.Is(err, workitem.ErrInvalidTransition):
			stats.Conflicts.Add(1)
		case errors.Is(err, workitem.ErrTransitionFailed):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failures.Add(1)
		default:
			return fmt.Errorf("%s %s on %s: %w", actorID, action, id, err)
		}
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	}
}
