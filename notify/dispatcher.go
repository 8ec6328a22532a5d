package notify

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"opsdesk/realtime"
)

// Notification outcomes reported to a Recorder.
const (
	ResultPublished = "published"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

type Recorder interface {
	RecordNotification(ctx context.Context, event, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(context.Context, string, string) {}

type Config struct {
	Workers          int
	QueueSize        int
	MaxRetries       int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	PublishTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = 2 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher publishes events on a fixed set of worker lanes. Every event
// with the same key lands on the same lane, so per-item order is kept while
// different items are published in parallel.
type Dispatcher struct {
	publisher realtime.Publisher
	cfg       Config
	logger    *slog.Logger
	recorder  Recorder
	lanes     []chan Event

	mu      sync.RWMutex
	base    context.Context
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(publisher realtime.Publisher, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	lanes := make([]chan Event, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan Event, cfg.QueueSize)
	}
	return &Dispatcher{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		recorder:  nopRecorder{},
		lanes:     lanes,
		base:      context.Background(),
	}
}

func (d *Dispatcher) WithRecorder(r Recorder) *Dispatcher {
	if r != nil {
		d.recorder = r
	}
	return d
}

// Start launches the workers. Publishes run under ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.base = ctx
	for i, lane := range d.lanes {
		d.wg.Add(1)
		go d.worker(i, lane)
	}
	d.logger.Info("notification dispatcher started", slog.Int("workers", len(d.lanes)))
}

// Run starts the dispatcher and drains it once ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start(context.WithoutCancel(ctx))
	<-ctx.Done()
	d.Close()
	return nil
}

// Enqueue never blocks. It reports false when the event was dropped.
func (d *Dispatcher) Enqueue(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "dispatcher closed")
		return false
	}
	select {
	case d.lanes[d.laneFor(ev.Key)] <- ev:
		return true
	default:
		d.drop(ev, "lane full")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	if !started {
		for i, lane := range d.lanes {
			d.wg.Add(1)
			go d.worker(i, lane)
		}
	}
	d.wg.Wait()
}

func (d *Dispatcher) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

func (d *Dispatcher) worker(id int, lane <-chan Event) {
	defer d.wg.Done()
	for ev := range lane {
		d.publish(id, ev)
	}
}

func (d *Dispatcher) publish(worker int, ev Event) {
	d.mu.RLock()
	base := d.base
	d.mu.RUnlock()

	op := func() error {
		ctx, cancel := context.WithTimeout(base, d.cfg.PublishTimeout)
		defer cancel()
		return d.publisher.Publish(ctx, ev.Channel, ev.Name, ev.Payload)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryInterval
	policy.MaxInterval = d.cfg.MaxRetryInterval
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(op, backoff.WithMaxRetries(policy, uint64(d.cfg.MaxRetries)), func(err error, wait time.Duration) {
		d.logger.Debug("retrying notification",
			slog.Int("worker", worker),
			slog.String("event", ev.Name),
			slog.String("work_item_id", ev.Key),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		d.logger.Warn("notification not delivered",
			slog.String("event", ev.Name),
			slog.String("channel", ev.Channel),
			slog.String("work_item_id", ev.Key),
			slog.Any("error", err),
		)
		d.recorder.RecordNotification(base, ev.Name, ResultFailed)
		return
	}
	d.recorder.RecordNotification(base, ev.Name, ResultPublished)
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.logger.Warn("notification dropped",
		slog.String("reason", reason),
		slog.String("event", ev.Name),
		slog.String("work_item_id", ev.Key),
	)
	d.recorder.RecordNotification(d.base, ev.Name, ResultDropped)
}
