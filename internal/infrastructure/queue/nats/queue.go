package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

// CommandEvent is the payload published for every handled command.
type CommandEvent struct {
	Type   string               `json:"type"`
	Record domain.CommandRecord `json:"record"`
}

const commandHandledType = "command.handled"

type publisher interface {
	Publish(subject string, data []byte) error
}

type Bus struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	executor *resilience.Executor
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "command-router"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		pub:      conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishCommandHandled(ctx context.Context, record domain.CommandRecord) error {
	data, err := encodeEvent(record)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := b.pub.Publish(b.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	err = b.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	return resilience.AsTemporary("nats publish", err, classifyPublishError)
}

// classifyPublishError retries while the connection is away or reconnecting. A payload the server
// rejects is retried by nobody.
func classifyPublishError(err error) resilience.Verdict {
	if v, ok := resilience.ContextVerdict(err); ok {
		return v
	}
	switch {
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.Transient
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return resilience.Benign
	}
	return resilience.Permanent
}

// SubscribeCommandHandled delivers events until ctx is cancelled, then drains the subscription.
func (b *Bus) SubscribeCommandHandled(ctx context.Context, handler func(context.Context, CommandEvent) error) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		event, err := decodeEvent(msg.Data)
		if err != nil {
			slog.Warn("nats_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			slog.Warn("nats_event_handler_failed", "record_id", event.Record.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeEvent(record domain.CommandRecord) ([]byte, error) {
	data, err := json.Marshal(CommandEvent{Type: commandHandledType, Record: record})
	if err != nil {
		return nil, fmt.Errorf("marshal command event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (CommandEvent, error) {
	var event CommandEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return CommandEvent{}, fmt.Errorf("unmarshal command event: %w", err)
	}
	if event.Type != commandHandledType {
		return CommandEvent{}, fmt.Errorf("unexpected event type %q", event.Type)
	}
	return event, nil
}
