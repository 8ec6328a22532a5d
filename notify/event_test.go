package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/workitem"
)

func itemAfter(action workitem.Action, from, to workitem.Status, actor string) workitem.WorkItem {
	return workitem.WorkItem{
		ID:         "w1",
		Status:     to,
		OwnerID:    "designer",
		ReviewerID: "pm",
		CreatedBy:  "pm",
		Version:    1,
		History: []workitem.HistoryEntry{
			{Seq: 1, ActorID: actor, Action: action, From: from, To: to},
		},
	}
}

func TestBuild_NamesAndRecipients(t *testing.T) {
	cases := []struct {
		action    workitem.Action
		from, to  workitem.Status
		actor     string
		event     string
		recipient string
	}{
		{workitem.ActionStart, workitem.StatusPending, workitem.StatusInProgress, "designer", EventTaskStarted, "pm"},
		{workitem.ActionSubmit, workitem.StatusInProgress, workitem.StatusPendingReview, "designer", EventTaskSubmitted, "pm"},
		{workitem.ActionSubmit, workitem.StatusReworkRequested, workitem.StatusPendingReview, "designer", EventReworkSubmitted, "pm"},
		{workitem.ActionRequestHelp, workitem.StatusInProgress, workitem.StatusHelpRequested, "designer", EventNewHelpTicket, "pm"},
		{workitem.ActionResolveHelp, workitem.StatusHelpRequested, workitem.StatusInProgress, "pm", EventTicketResolved, "designer"},
		{workitem.ActionApprove, workitem.StatusPendingReview, workitem.StatusCompleted, "pm", EventTaskApproved, "designer"},
		{workitem.ActionRequestRework, workitem.StatusPendingReview, workitem.StatusReworkRequested, "pm", EventReworkRequested, "designer"},
	}
	for _, tc := range cases {
		ev, ok := Build(itemAfter(tc.action, tc.from, tc.to, tc.actor), tc.from)
		require.True(t, ok, tc.action)
		assert.Equal(t, tc.event, ev.Name, tc.action)
		assert.Equal(t, tc.recipient, ev.Recipient, tc.action)
		assert.Equal(t, "private-notifications-"+tc.recipient, ev.Channel, tc.action)
		assert.Equal(t, "w1", ev.Key)
		assert.Equal(t, Payload{WorkItemID: "w1", Status: string(tc.to), PreviousStatus: string(tc.from), Version: 1, Actor: tc.actor}, ev.Payload)
	}
}

func TestBuild_Assignment(t *testing.T) {
	item := workitem.WorkItem{ID: "w1", Status: workitem.StatusPending, OwnerID: "designer", ReviewerID: "pm", CreatedBy: "pm"}
	ev, ok := Build(item, "")
	require.True(t, ok)
	assert.Equal(t, EventTaskAssigned, ev.Name)
	assert.Equal(t, "designer", ev.Recipient)

	// A COO assigning on behalf of the reviewer still notifies the owner.
	item.CreatedBy = "coo"
	ev, ok = Build(item, "")
	require.True(t, ok)
	assert.Equal(t, "designer", ev.Recipient)
}

func TestBuild_NoOtherParty(t *testing.T) {
	item := itemAfter(workitem.ActionApprove, workitem.StatusPendingReview, workitem.StatusCompleted, "pm")
	item.OwnerID = "pm"
	_, ok := Build(item, workitem.StatusPendingReview)
	assert.False(t, ok, "acting on your own item notifies nobody")

	_, ok = Build(workitem.WorkItem{ID: "w1", Status: workitem.StatusInProgress}, workitem.StatusPending)
	assert.False(t, ok, "no history means nothing to describe")
}
