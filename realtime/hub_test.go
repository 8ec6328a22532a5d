package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateChannel(t *testing.T) {
	assert.Equal(t, "private-notifications-u-42", PrivateChannel("u-42"))
}

func TestHub_PublishDeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var all, helpOnly, other []Message
	_, err := hub.Subscribe(ctx, PrivateChannel("pm"), "", func(m Message) { all = append(all, m) })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, PrivateChannel("pm"), "new_help_ticket", func(m Message) { helpOnly = append(helpOnly, m) })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, PrivateChannel("designer"), "", func(m Message) { other = append(other, m) })
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, PrivateChannel("pm"), "new_help_ticket", map[string]any{"workItemId": "w1"}))
	require.NoError(t, hub.Publish(ctx, PrivateChannel("pm"), "task_submitted", nil))

	require.Len(t, all, 2)
	assert.Equal(t, "new_help_ticket", all[0].Event)
	assert.Equal(t, "task_submitted", all[1].Event)
	require.Len(t, helpOnly, 1)
	assert.Empty(t, other)

	var data map[string]string
	require.NoError(t, json.Unmarshal(helpOnly[0].Data, &data))
	assert.Equal(t, "w1", data["workItemId"])
	assert.Equal(t, PrivateChannel("pm"), helpOnly[0].Channel)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	count := 0
	sub, err := hub.Subscribe(ctx, "c", "", func(Message) { count++ })
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("c"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, hub.Subscribers("c"))

	require.NoError(t, hub.Publish(ctx, "c", "e", nil))
	assert.Equal(t, 0, count)
}

func TestHub_RejectsInvalidAndClosed(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	assert.Error(t, hub.Publish(ctx, "", "e", nil))
	assert.Error(t, hub.Publish(ctx, "c", "", nil))
	assert.Error(t, hub.Publish(ctx, "c", "e", func() {}))

	require.NoError(t, hub.Close())
	assert.ErrorIs(t, hub.Publish(ctx, "c", "e", nil), ErrClosed)
	_, err := hub.Subscribe(ctx, "c", "", func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}
