package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"media-download-service/internal/entity"
)

// ProgressEvent is published on every job state transition. Consumers must
// treat absent fields as optional; only id and status are always set.
type ProgressEvent struct {
	ID          string           `json:"id"`
	Status      entity.JobStatus `json:"status"`
	Progress    *int             `json:"progress,omitempty"`
	Retry       *int             `json:"retry,omitempty"`
	MaxRetries  *int             `json:"maxRetries,omitempty"`
	NextRetryMs *int64           `json:"nextRetryMs,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorType   string           `json:"errorType,omitempty"`
	Retryable   *bool            `json:"retryable,omitempty"`
	FileSize    int64            `json:"file_size,omitempty"`
}

// ProgressPublisher is the engine's view of the progress channel.
// (Implementation: Redis Pub/Sub; tests use an in-memory recorder.)
type ProgressPublisher interface {
	Publish(ctx context.Context, ev ProgressEvent) error
}

// redisProgressPublisher fans events out over a Redis Pub/Sub channel so
// every subscribed UI process sees every transition.
type redisProgressPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisProgressPublisher(rdb *redis.Client, channel string) ProgressPublisher {
	return &redisProgressPublisher{rdb: rdb, channel: channel}
}

func (p *redisProgressPublisher) Publish(ctx context.Context, ev ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}
