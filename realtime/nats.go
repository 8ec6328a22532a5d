package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBroker publishes each channel as a core NATS subject.
type NATSBroker struct {
	conn   *nats.Conn
	logger *slog.Logger
	now    func() time.Time
}

type NATSOptions struct {
	URL   string
	Token string
	Name  string
}

func NewNATSBroker(opts NATSOptions, logger *slog.Logger) (*NATSBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "opsdesk"
	}
	connectOpts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
	}
	if opts.Token != "" {
		connectOpts = append(connectOpts, nats.Token(opts.Token))
	}
	conn, err := nats.Connect(opts.URL, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect nats %s: %w", opts.URL, err)
	}
	return &NATSBroker{conn: conn, logger: logger, now: time.Now}, nil
}

func (b *NATSBroker) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newMessage(channel, event, payload, b.now())
	if err != nil {
		return err
	}
	data, err := encodeWire(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("realtime: nats publish %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, channel, event string, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		msg, err := decodeWire(m.Subject, m.Data)
		if err != nil {
			b.logger.Warn("dropping malformed realtime message", slog.String("channel", m.Subject), slog.Any("error", err))
			return
		}
		if matches(event, msg) {
			h(msg)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: nats subscribe %s: %w", channel, err)
	}
	// Make sure the server has registered interest before returning.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("realtime: nats flush: %w", err)
	}
	return natsSubscription{sub: sub}, nil
}

func (b *NATSBroker) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("realtime: drain nats: %w", err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
