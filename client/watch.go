package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"opsdesk/realtime"
)

// Watcher streams the signed-in member's private channel.
type Watcher struct {
	conn    *websocket.Conn
	channel string
	done    chan struct{}
	err     error
	once    sync.Once
}

// Watch connects to the live update endpoint and calls h for every
// notification. It returns once the server has confirmed the subscription.
// h runs on the watcher's goroutine.
func (c *Client) Watch(ctx context.Context, h realtime.Handler) (*Watcher, error) {
	wsURL, err := c.socketURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}

	var first realtime.Message
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: read subscription: %w", err)
	}
	if first.Event != realtime.EventSubscribed {
		conn.Close()
		return nil, fmt.Errorf("client: expected %q, got %q", realtime.EventSubscribed, first.Event)
	}

	w := &Watcher{conn: conn, channel: first.Channel, done: make(chan struct{})}
	go w.read(h)
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-w.done:
		}
	}()
	return w, nil
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("client: base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (w *Watcher) read(h realtime.Handler) {
	defer close(w.done)
	for {
		var msg realtime.Message
		if err := w.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				w.err = err
			}
			return
		}
		h(msg)
	}
}

// Channel is the private channel the server subscribed this watcher to.
func (w *Watcher) Channel() string { return w.channel }

// Done is closed when the connection ends.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err reports why the connection ended, or nil after Close.
func (w *Watcher) Err() error {
	<-w.done
	return w.err
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.conn.Close()
	})
	return err
}
