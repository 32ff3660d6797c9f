package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

// Consumer applies events published on a message stream. A failed event is nacked
// and redelivered, a malformed one is dropped.
type Consumer struct {
	router     *message.Router
	subscriber message.Subscriber
}

// NewRedisSubscriber subscribes to redis streams as a member of group.
func NewRedisSubscriber(client redis.UniversalClient, group string) (message.Subscriber, error) {
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: group,
		},
		watermill.NewSlogLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}
	return subscriber, nil
}

func NewConsumer(subscriber message.Subscriber, topic string, applier Applier, retries int) (*Consumer, error) {
	logger := watermill.NewSlogLogger(slog.Default())
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	if retries > 0 {
		retry := middleware.Retry{
			MaxRetries:      retries,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			Logger:          logger,
		}
		router.AddMiddleware(retry.Middleware)
	}
	router.AddNoPublisherHandler("search-index", topic, subscriber, func(msg *message.Message) error {
		var ev Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			slog.Warn("dropping malformed event", "id", msg.UUID, "error", err)
			return nil
		}
		if err := ev.Validate(); err != nil {
			slog.Warn("dropping invalid event", "id", msg.UUID, "error", err)
			return nil
		}
		return applier.Apply(msg.Context(), ev)
	})
	return &Consumer{router: router, subscriber: subscriber}, nil
}

// Run blocks until ctx is done or the router is closed.
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running is closed once the router consumes messages.
func (c *Consumer) Running() chan struct{} {
	return c.router.Running()
}

func (c *Consumer) Close() error {
	if err := c.router.Close(); err != nil {
		return err
	}
	return c.subscriber.Close()
}
