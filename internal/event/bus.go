package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type PubSub interface {
	message.Publisher
	message.Subscriber
}

// EventBus carries task lifecycle and orchestration events between the core
// and observers (metrics, monitoring endpoint).
type EventBus struct {
	pubSub PubSub
	router *message.Router
	logger watermill.LoggerAdapter
}

// EventHandler is a function that handles events
type EventHandler[T any] func(ctx context.Context, event *Event[T]) error

// NewEventBus creates a new event bus
func NewEventBus() (*EventBus, error) {
	logger := watermill.NewStdLogger(false, false)

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
		},
		logger,
	)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &EventBus{
		pubSub: pubSub,
		router: router,
		logger: logger,
	}, nil
}

// Start runs the router until ctx is cancelled.
func (eb *EventBus) Start(ctx context.Context) error {
	return eb.router.Run(ctx)
}

// Stop stops the event bus
func (eb *EventBus) Stop() error {
	return eb.router.Close()
}

func (eb *EventBus) publish(ctx context.Context, eventMsg *EventMessage) error {
	payload, err := json.Marshal(eventMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := eb.pubSub.Publish(string(eventMsg.Type), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeAsync subscribes a raw message handler to one event type.
func (eb *EventBus) SubscribeAsync(eventType EventType, handlerName string, handler func(msg *message.Message) error) {
	eb.router.AddNoPublisherHandler(
		handlerName,
		string(eventType),
		eb.pubSub,
		handler,
	)
}

// Publish publishes a payload implementing EventType() under the given source.
func (eb *EventBus) Publish(ctx context.Context, source string, data typed) error {
	rawData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return eb.publish(ctx, &EventMessage{
		ID:        NewEventID(),
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Data:      rawData,
	})
}

// PublishTyped publishes a typed event (helper function)
func PublishTyped[T any](eb *EventBus, ctx context.Context, event *Event[T]) error {
	eventMsg, err := event.ToMessage()
	if err != nil {
		return fmt.Errorf("failed to convert event to message: %w", err)
	}
	return eb.publish(ctx, eventMsg)
}

// SubscribeTyped subscribes to typed events (helper function)
func SubscribeTyped[T any](eb *EventBus, eventType EventType, handlerName string, handler EventHandler[T]) {
	eb.SubscribeAsync(eventType, handlerName, func(msg *message.Message) error {
		var eventMsg EventMessage
		if err := json.Unmarshal(msg.Payload, &eventMsg); err != nil {
			return fmt.Errorf("failed to unmarshal event message: %w", err)
		}

		event, err := FromMessage[T](&eventMsg)
		if err != nil {
			return fmt.Errorf("failed to convert message to event: %w", err)
		}

		return handler(msg.Context(), event)
	})
}
