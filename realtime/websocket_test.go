package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAuth(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("missing token")
	}
	return token, nil
}

func TestWebSocketHandler_StreamsPrivateChannel(t *testing.T) {
	hub := NewHub()
	sessions := NewSessions(hub, 8, nil)
	srv := httptest.NewServer(NewWebSocketHandler(sessions, tokenAuth, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=pm"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, EventSubscribed, hello.Event)
	assert.Equal(t, PrivateChannel("pm"), hello.Channel)
	assert.Equal(t, 1, sessions.Active("pm"))

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, PrivateChannel("someone-else"), "task_started", nil))
	require.NoError(t, hub.Publish(ctx, PrivateChannel("pm"), "new_help_ticket", map[string]string{"workItemId": "w1"}))

	var got Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "new_help_ticket", got.Event)
	assert.JSONEq(t, `{"workItemId":"w1"}`, string(got.Data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return sessions.Active("pm") == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Subscribers(PrivateChannel("pm")))
}

func TestWebSocketHandler_RejectsAnonymous(t *testing.T) {
	srv := httptest.NewServer(NewWebSocketHandler(NewSessions(NewHub(), 1, nil), tokenAuth, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
