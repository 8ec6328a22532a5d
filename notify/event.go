package notify

import (
	"opsdesk/realtime"
	"opsdesk/workitem"
)

// Event names published on private channels.
const (
	EventTaskAssigned    = "task_assigned"
	EventTaskStarted     = "task_started"
	EventTaskSubmitted   = "task_submitted"
	EventReworkSubmitted = "rework_submitted"
	EventNewHelpTicket   = "new_help_ticket"
	EventTicketResolved  = "ticket_resolved"
	EventTaskApproved    = "task_approved"
	EventReworkRequested = "rework_requested"
)

// Event is one pending notification. Key orders delivery: events sharing a
// key are published in the order they were enqueued.
type Event struct {
	Key       string
	Recipient string
	Channel   string
	Name      string
	Payload   Payload
}

// Payload is deliberately thin. Receivers refetch the item.
type Payload struct {
	WorkItemID     string `json:"workItemId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Version        int    `json:"version"`
	Actor          string `json:"actor,omitempty"`
}

// EventName names the change from previous to item's current state.
func EventName(item workitem.WorkItem, previous workitem.Status) (string, bool) {
	if previous == "" {
		return EventTaskAssigned, true
	}
	last, ok := item.LastEntry()
	if !ok {
		return "", false
	}
	switch last.Action {
	case workitem.ActionStart:
		return EventTaskStarted, true
	case workitem.ActionSubmit:
		if last.From == workitem.StatusReworkRequested {
			return EventReworkSubmitted, true
		}
		return EventTaskSubmitted, true
	case workitem.ActionRequestHelp:
		return EventNewHelpTicket, true
	case workitem.ActionResolveHelp:
		return EventTicketResolved, true
	case workitem.ActionApprove:
		return EventTaskApproved, true
	case workitem.ActionRequestRework:
		return EventReworkRequested, true
	}
	return "", false
}

// Actor returns who caused the latest change to item.
func Actor(item workitem.WorkItem, previous workitem.Status) string {
	if previous == "" {
		return item.CreatedBy
	}
	if last, ok := item.LastEntry(); ok {
		return last.ActorID
	}
	return ""
}

// Recipient is the party on the other side of the actor, or "" when the
// actor is both or neither.
func Recipient(item workitem.WorkItem, actor string) string {
	if item.OwnerID == item.ReviewerID {
		return ""
	}
	switch actor {
	case item.OwnerID:
		return item.ReviewerID
	case item.ReviewerID:
		return item.OwnerID
	}
	return ""
}

// Build returns the event for a committed change, if anyone needs one.
func Build(item workitem.WorkItem, previous workitem.Status) (Event, bool) {
	name, ok := EventName(item, previous)
	if !ok {
		return Event{}, false
	}
	actor := Actor(item, previous)
	recipient := Recipient(item, actor)
	if previous == "" && actor != item.OwnerID {
		// A new assignment always concerns the owner.
		recipient = item.OwnerID
	}
	if recipient == "" || recipient == actor {
		return Event{}, false
	}
	return Event{
		Key:       item.ID,
		Recipient: recipient,
		Channel:   realtime.PrivateChannel(recipient),
		Name:      name,
		Payload: Payload{
			WorkItemID:     item.ID,
			Status:         string(item.Status),
			PreviousStatus: string(previous),
			Version:        item.Version,
			Actor:          actor,
		},
	}, true
}
