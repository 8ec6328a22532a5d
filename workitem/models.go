package workitem

import (
	"time"
)

// Status is the closed set of lifecycle states a work item can be in.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusPendingReview   Status = "pending_review"
	StatusHelpRequested   Status = "help_requested"
	StatusReworkRequested Status = "rework_requested"
	StatusApproved        Status = "approved"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
)

var statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusPendingReview,
	StatusHelpRequested,
	StatusReworkRequested,
	StatusApproved,
	StatusCompleted,
	StatusRejected,
}

// Statuses returns every valid status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

func (s Status) Valid() bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Terminal reports whether no further action can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Action names a request to move a work item along its lifecycle.
type Action string

const (
	ActionStart         Action = "start"
	ActionSubmit        Action = "submit"
	ActionRequestHelp   Action = "requestHelp"
	ActionResolveHelp   Action = "resolveHelp"
	ActionApprove       Action = "approve"
	ActionRequestRework Action = "requestRework"
)

// Party identifies which side of the assignment may perform an action.
type Party string

const (
	PartyOwner    Party = "owner"
	PartyReviewer Party = "reviewer"
)

// Kind tags the business concept a work item stands for. The state machine
// ignores it.
type Kind string

const (
	KindLead          Kind = "lead"
	KindMarketingTask Kind = "marketing_task"
	KindHelpTicket    Kind = "help_ticket"
)

func (k Kind) Valid() bool {
	switch k {
	case KindLead, KindMarketingTask, KindHelpTicket:
		return true
	}
	return false
}

// HistoryEntry is one committed status change. Entries are never edited.
type HistoryEntry struct {
	Seq     int
	At      time.Time
	ActorID string
	Action  Action
	From    Status
	To      Status
	Comment string
}

// WorkItem is a lead, marketing task or help ticket moving through review.
type WorkItem struct {
	ID         string
	Kind       Kind
	Status     Status
	OwnerID    string
	ReviewerID string
	CreatedBy  string
	Payload    map[string]any
	History    []HistoryEntry
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LastEntry returns the most recent history entry, if any.
func (w WorkItem) LastEntry() (HistoryEntry, bool) {
	if len(w.History) == 0 {
		return HistoryEntry{}, false
	}
	return w.History[len(w.History)-1], true
}

// Clone returns a copy that shares no slices or maps with w.
func (w WorkItem) Clone() WorkItem {
	out := w
	if w.History != nil {
		out.History = make([]HistoryEntry, len(w.History))
		copy(out.History, w.History)
	}
	if w.Payload != nil {
		out.Payload = copyMap(w.Payload)
	}
	return out
}

// copyMap copies nested maps and slices of decoded JSON. Other values are
// assigned as they are.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return copyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	OwnerID    string
	ReviewerID string
	Status     Status
	Kind       Kind
}

func (f Filter) Match(item WorkItem) bool {
	if f.OwnerID != "" && item.OwnerID != f.OwnerID {
		return false
	}
	if f.ReviewerID != "" && item.ReviewerID != f.ReviewerID {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Kind != "" && item.Kind != f.Kind {
		return false
	}
	return true
}

type CreateParams struct {
	OwnerID    string
	ReviewerID string
	CreatedBy  string
	Kind       Kind
	Payload    map[string]any
}

type TransitionParams struct {
	ID      string
	Action  Action
	ActorID string
	Comment string
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int
}
