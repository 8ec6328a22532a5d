package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/realtime"
	"opsdesk/workitem"
)

type inbox struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (i *inbox) add(m realtime.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, m)
}

func (i *inbox) events() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.messages))
	for _, m := range i.messages {
		out = append(out, m.Event)
	}
	return out
}

func TestHelpLoop_NotifiesEachPartyOnce(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub()
	dispatcher := NewDispatcher(hub, fastConfig(), nil)
	dispatcher.Start(ctx)
	svc := workitem.NewService(workitem.NewMemoryStore(), NewNotifier(dispatcher, nil))

	var reviewer, owner inbox
	_, err := hub.Subscribe(ctx, realtime.PrivateChannel("pm"), "", reviewer.add)
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, realtime.PrivateChannel("designer"), "", owner.add)
	require.NoError(t, err)

	item, err := svc.Create(ctx, workitem.CreateParams{OwnerID: "designer", ReviewerID: "pm"})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, workitem.TransitionParams{ID: item.ID, Action: workitem.ActionStart, ActorID: "designer"})
	require.NoError(t, err)

	updated, err := svc.Transition(ctx, workitem.TransitionParams{ID: item.ID, Action: workitem.ActionRequestHelp, ActorID: "designer", Comment: "need brand fonts"})
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusHelpRequested, updated.Status)

	updated, err = svc.Transition(ctx, workitem.TransitionParams{ID: item.ID, Action: workitem.ActionResolveHelp, ActorID: "pm", Comment: "shared in drive"})
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusInProgress, updated.Status)

	dispatcher.Close()

	assert.Equal(t, []string{EventTaskStarted, EventNewHelpTicket}, reviewer.events())
	assert.Equal(t, []string{EventTaskAssigned, EventTicketResolved}, owner.events())
}

func TestNotifier_FailedPublishKeepsTransition(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	pub.failures[EventTaskApproved] = 100
	dispatcher := NewDispatcher(pub, fastConfig(), nil)
	dispatcher.Start(ctx)
	svc := workitem.NewService(workitem.NewMemoryStore(), NewNotifier(dispatcher, nil))

	item, err := svc.Create(ctx, workitem.CreateParams{OwnerID: "designer", ReviewerID: "pm"})
	require.NoError(t, err)
	for _, step := range []struct {
		action workitem.Action
		actor  string
	}{
		{workitem.ActionStart, "designer"},
		{workitem.ActionSubmit, "designer"},
		{workitem.ActionApprove, "pm"},
	} {
		_, err := svc.Transition(ctx, workitem.TransitionParams{ID: item.ID, Action: step.action, ActorID: step.actor})
		require.NoError(t, err)
	}
	dispatcher.Close()

	stored, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusCompleted, stored.Status)

	var names []string
	for _, call := range pub.published() {
		names = append(names, call.event)
	}
	assert.Equal(t, []string{EventTaskAssigned, EventTaskStarted, EventTaskSubmitted}, names)
}
