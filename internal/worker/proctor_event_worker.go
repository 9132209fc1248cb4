package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
)

// EventStore persists proctoring events.
type EventStore interface {
	CopyEvents(ctx context.Context, events []model.ProctorEvent) error
	InsertEvent(ctx context.Context, e model.ProctorEvent) error
}

// ProctorEventWorker drains the proctoring event queue into proctor_events
// with COPY, falling back to row-by-row inserts.
type ProctorEventWorker struct {
	store   EventStore
	rdb     *redis.Client
	log     zerolog.Logger
	requeue func(ctx context.Context, items []model.ProctorEvent)
}

func NewProctorEventWorker(store EventStore, rdb *redis.Client, log zerolog.Logger) *ProctorEventWorker {
	w := &ProctorEventWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "proctor_event_worker").Logger(),
	}
	w.requeue = func(ctx context.Context, items []model.ProctorEvent) {
		requeue(ctx, w.rdb, config.WorkerKey.PersistProctorEventsQueue, items, w.log)
	}
	return w
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ProctorEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorEventWorker started")

	loop := batchLoop[model.ProctorEvent]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistProctorEventsQueue,
		log:   w.log,
		flush: w.flushSafe,
	}
	loop.run(ctx)
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ProctorEventWorker) flushSafe(ctx context.Context, batch []model.ProctorEvent) {
	err := w.store.CopyEvents(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ProctorEvent
	for _, e := range batch {
		if err := w.store.InsertEvent(ctx, e); err != nil {
			w.log.Error().Err(err).Str("submission_id", e.SubmissionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}
