package notify

import (
	"context"
	"log/slog"

	"opsdesk/workitem"
)

// Queue accepts events for asynchronous delivery.
type Queue interface {
	Enqueue(ev Event) bool
}

// Notifier turns committed work item changes into events for the party
// who did not act. Delivery is best effort and never fails the caller.
type Notifier struct {
	queue  Queue
	logger *slog.Logger
}

func NewNotifier(queue Queue, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{queue: queue, logger: logger}
}

func (n *Notifier) Notify(_ context.Context, item workitem.WorkItem, previous workitem.Status) {
	ev, ok := Build(item, previous)
	if !ok {
		return
	}
	if n.queue.Enqueue(ev) {
		n.logger.Debug("notification queued",
			slog.String("event", ev.Name),
			slog.String("recipient", ev.Recipient),
			slog.String("work_item_id", item.ID),
		)
	}
}
