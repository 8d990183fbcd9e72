// Package alertstream pushes raised and resolved SLA alerts onto a Redis
// stream for downstream pager and dashboard integrations. Delivery beyond
// the stream is someone else's problem; the engine only appends.
package alertstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/labflow/labflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const defaultStream = "labflow:alerts"

// Publisher appends alert lifecycle entries to a Redis stream.
type Publisher struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger
}

// NewPublisher connects to Redis and returns a stream publisher. An empty
// stream name falls back to the default stream.
func NewPublisher(ctx context.Context, logger *slog.Logger, redisURL, stream string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if stream == "" {
		stream = defaultStream
	}

	logger.InfoContext(ctx, "Connected to Redis alert stream", "addr", opts.Addr, "stream", stream)

	return &Publisher{
		client: client,
		stream: stream,
		logger: logger.With("module", "alertstream", "stream", stream),
	}, nil
}

// AlertRaised appends a raised entry for alert.
func (p *Publisher) AlertRaised(ctx context.Context, alert *models.AlertRecord) error {
	return p.append(ctx, "raised", alert)
}

// AlertResolved appends a resolved entry for alert.
func (p *Publisher) AlertResolved(ctx context.Context, alert *models.AlertRecord) error {
	return p.append(ctx, "resolved", alert)
}

func (p *Publisher) append(ctx context.Context, event string, alert *models.AlertRecord) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event":     event,
			"alert_id":  alert.ID,
			"kind":      string(alert.Kind),
			"object_id": alert.ObjectID,
			"state":     alert.State,
			"payload":   payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to alert stream: %w", err)
	}

	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
