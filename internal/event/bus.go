package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
)

// Bus carries lifecycle events over an in-process pub/sub. Publishing is
// fire-and-forget: a publish failure is logged and never propagated into
// engine state transitions. Handlers must be registered before Start.
type Bus struct {
	pubSub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

func NewBus(buffer int) (*Bus, error) {
	if buffer <= 0 {
		buffer = 256
	}
	logger := watermill.NewStdLogger(false, false)

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: int64(buffer),
		},
		logger,
	)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}

	return &Bus{
		pubSub: pubSub,
		router: router,
		logger: logger,
	}, nil
}

// Start runs the subscription router until ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router has started all handlers.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

func (b *Bus) Stop() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close event router: %w", err)
	}
	return b.pubSub.Close()
}

// Publish emits one event on the topic named by typ. Safe on a nil bus so
// components can run without an event stream attached.
func (b *Bus) Publish(ctx context.Context, typ Type, source string, data any) {
	if b == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("event: failed to marshal payload", "type", typ, "error", err)
		return
	}
	env := &Envelope{
		ID:        ulid.Make().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Data:      raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("event: failed to marshal envelope", "type", typ, "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubSub.Publish(string(typ), msg); err != nil {
		slog.Error("event: failed to publish", "type", typ, "error", err)
	}
}

// SubscribeRaw registers a handler for one event type. Must be called
// before Start.
func (b *Bus) SubscribeRaw(typ Type, handlerName string, handler func(env *Envelope) error) {
	b.router.AddNoPublisherHandler(
		handlerName,
		string(typ),
		b.pubSub,
		func(msg *message.Message) error {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				return fmt.Errorf("failed to unmarshal event envelope: %w", err)
			}
			return handler(&env)
		},
	)
}

// Subscribe registers a typed handler for one event type. Must be called
// before Start.
func Subscribe[T any](b *Bus, typ Type, handlerName string, handler func(ctx context.Context, e *Event[T]) error) {
	b.router.AddNoPublisherHandler(
		handlerName,
		string(typ),
		b.pubSub,
		func(msg *message.Message) error {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				return fmt.Errorf("failed to unmarshal event envelope: %w", err)
			}
			e, err := FromEnvelope[T](&env)
			if err != nil {
				return fmt.Errorf("failed to decode %s event: %w", typ, err)
			}
			return handler(msg.Context(), e)
		},
	)
}
