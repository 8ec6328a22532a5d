package workitem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Notifier is told about every committed change. previous is empty when the
// item was just created. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, item WorkItem, previous Status)
}

// Recorder receives one observation per transition attempt.
type Recorder interface {
	RecordTransition(ctx context.Context, action string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, WorkItem, Status) {}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(context.Context, string, error) {}

type Service struct {
	store       Store
	notifier    Notifier
	recorder    Recorder
	logger      *slog.Logger
	locks       *stripedLocks
	idGenerator func() string
	now         func() time.Time
}

func NewService(store Store, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		store:       store,
		notifier:    notifier,
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		locks:       newStripedLocks(64),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithRecorder(r Recorder) *Service {
	if r != nil {
		s.recorder = r
	}
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Create assigns a new item to an owner. It starts pending with no history.
func (s *Service) Create(ctx context.Context, params CreateParams) (WorkItem, error) {
	owner := strings.TrimSpace(params.OwnerID)
	reviewer := strings.TrimSpace(params.ReviewerID)
	if owner == "" {
		return WorkItem{}, fmt.Errorf("%w: owner id required", ErrInvalidInput)
	}
	if reviewer == "" {
		return WorkItem{}, fmt.Errorf("%w: reviewer id required", ErrInvalidInput)
	}
	kind := params.Kind
	if kind == "" {
		kind = KindMarketingTask
	}
	if !kind.Valid() {
		return WorkItem{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	createdBy := strings.TrimSpace(params.CreatedBy)
	if createdBy == "" {
		createdBy = reviewer
	}

	now := s.now().UTC()
	item := WorkItem{
		ID:         s.idGenerator(),
		Kind:       kind,
		Status:     StatusPending,
		OwnerID:    owner,
		ReviewerID: reviewer,
		CreatedBy:  createdBy,
		Payload:    params.Payload,
		History:    []HistoryEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if item.Payload == nil {
		item.Payload = map[string]any{}
	}

	unlock := s.locks.lock(item.ID)
	defer unlock()

	created, err := s.store.Create(ctx, item)
	if err != nil {
		return WorkItem{}, err
	}
	s.notifier.Notify(ctx, created, "")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (WorkItem, error) {
	if strings.TrimSpace(id) == "" {
		return WorkItem{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// List returns matching items in the order they were created.
func (s *Service) List(ctx context.Context, filter Filter) ([]WorkItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	return s.store.List(ctx, filter)
}

// Transition applies params.Action to the item. Failures to reach the store
// are reported as ErrTransitionFailed and leave the item unchanged.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (WorkItem, error) {
	item, err := s.transition(ctx, params)
	s.recorder.RecordTransition(ctx, string(params.Action), err)
	return item, err
}

func (s *Service) transition(ctx context.Context, params TransitionParams) (WorkItem, error) {
	if strings.TrimSpace(params.ID) == "" {
		return WorkItem{}, ErrNotFound
	}

	unlock := s.locks.lock(params.ID)
	defer unlock()

	var previous Status
	updated, err := s.store.Update(ctx, params.ID, func(current WorkItem) (WorkItem, error) {
		if params.ExpectedVersion != nil && *params.ExpectedVersion != current.Version {
			return current, fmt.Errorf("%w: expected version %d, item is at %d", ErrInvalidTransition, *params.ExpectedVersion, current.Version)
		}
		previous = current.Status
		return Transition(current, params.Action, params.ActorID, params.Comment, s.now().UTC())
	})
	if err != nil {
		if isDomainError(err) {
			return WorkItem{}, err
		}
		return WorkItem{}, fmt.Errorf("%w: %w", ErrTransitionFailed, err)
	}

	s.logger.Debug("work item transitioned",
		slog.String("work_item_id", updated.ID),
		slog.String("action", string(params.Action)),
		slog.String("from", string(previous)),
		slog.String("to", string(updated.Status)),
		slog.Int("version", updated.Version),
	)
	s.notifier.Notify(ctx, updated, previous)
	return updated, nil
}

func isDomainError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrForbidden, ErrInvalidTransition, ErrMissingComment, ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
