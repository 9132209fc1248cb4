package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
)

// NATSSubjectPrefix prefixes the subject of every published exam event.
const NATSSubjectPrefix = "ctech.exam."

// EventPublisher fans a proctoring event out to the persistence queue, the
// Redis monitor channel and, when configured, NATS.
type EventPublisher struct {
	rdb *redis.Client
	nc  *nats.Conn
	log zerolog.Logger
}

// NewEventPublisher creates an EventPublisher. nc may be nil.
func NewEventPublisher(rdb *redis.Client, nc *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		nc:  nc,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish queues the event for persistence and broadcasts it. Broadcast
// failures are logged; only a failure to queue is returned.
func (p *EventPublisher) Publish(ctx context.Context, e model.ProctorEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	pipe.Publish(ctx, config.CacheKey.MonitorChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue event: %w", err)
	}

	if p.nc != nil {
		if err := p.nc.Publish(NATSSubjectPrefix+string(e.Kind), data); err != nil {
			p.log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("NATS publish failed")
		}
	}
	return nil
}
