package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
)

// CheckpointStore persists countdown positions.
type CheckpointStore interface {
	BulkUpdateRemaining(ctx context.Context, batch []model.Checkpoint) error
	UpdateRemaining(ctx context.Context, c model.Checkpoint) error
}

// CheckpointWorker writes countdown checkpoints to test_submissions with a
// single UNNEST update per batch.
type CheckpointWorker struct {
	store   CheckpointStore
	rdb     *redis.Client
	log     zerolog.Logger
	requeue func(ctx context.Context, items []model.Checkpoint)
}

func NewCheckpointWorker(store CheckpointStore, rdb *redis.Client, log zerolog.Logger) *CheckpointWorker {
	w := &CheckpointWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "checkpoint_worker").Logger(),
	}
	w.requeue = func(ctx context.Context, items []model.Checkpoint) {
		requeue(ctx, w.rdb, config.WorkerKey.PersistCheckpointsQueue, items, w.log)
	}
	return w
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *CheckpointWorker) Start(ctx context.Context) {
	w.log.Info().Msg("CheckpointWorker started")

	loop := batchLoop[model.Checkpoint]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistCheckpointsQueue,
		log:   w.log,
		flush: w.flushSafe,
	}
	loop.run(ctx)
}

func (w *CheckpointWorker) flushSafe(ctx context.Context, batch []model.Checkpoint) {
	err := w.store.BulkUpdateRemaining(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Msg("Bulk checkpoint update failed, using fallback")

	var failed []model.Checkpoint
	for _, c := range batch {
		if err := w.store.UpdateRemaining(ctx, c); err != nil {
			w.log.Error().Err(err).Msg("UpdateRemaining failed, requeueing")
			failed = append(failed, c)
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}
