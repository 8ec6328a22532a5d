// Package realtime carries "something changed" signals to connected
// dashboard sessions over private per-identity channels.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const channelPrefix = "private-notifications-"

// ErrClosed is returned by drivers that have been shut down.
var ErrClosed = errors.New("realtime: closed")

// PrivateChannel returns the channel only identity subscribes to.
func PrivateChannel(identity string) string {
	return channelPrefix + identity
}

// Message is one event delivered on a channel.
type Message struct {
	Channel     string          `json:"channel"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Handler receives messages for a subscription. Handlers run on the
// driver's delivery goroutine and should return quickly.
type Handler func(Message)

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Subscriber attaches handlers to channels. An empty event matches every
// event on the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel, event string, h Handler) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

// Broker is a driver that can both publish and subscribe.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

func newMessage(channel, event string, payload any, now time.Time) (Message, error) {
	if channel == "" {
		return Message{}, fmt.Errorf("realtime: empty channel")
	}
	if event == "" {
		return Message{}, fmt.Errorf("realtime: empty event name")
	}
	msg := Message{Channel: channel, Event: event, PublishedAt: now.UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("realtime: encode payload: %w", err)
		}
		msg.Data = data
	}
	return msg, nil
}

func matches(event string, msg Message) bool {
	return event == "" || event == msg.Event
}

// wire is the encoding used by network drivers.
func encodeWire(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeWire(channel string, data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("realtime: decode message: %w", err)
	}
	if msg.Channel == "" {
		msg.Channel = channel
	}
	return msg, nil
}
