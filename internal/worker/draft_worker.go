package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
)

// DraftStore persists autosaved code.
type DraftStore interface {
	SaveDraft(ctx context.Context, d model.Draft) error
}

// DraftWorker consumes the drafts queue and writes the newest draft of each
// attempt to PostgreSQL.
type DraftWorker struct {
	store   DraftStore
	rdb     *redis.Client
	log     zerolog.Logger
	requeue func(ctx context.Context, items []model.Draft)
}

func NewDraftWorker(store DraftStore, rdb *redis.Client, log zerolog.Logger) *DraftWorker {
	w := &DraftWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "draft_worker").Logger(),
	}
	w.requeue = func(ctx context.Context, items []model.Draft) {
		requeue(ctx, w.rdb, config.WorkerKey.PersistDraftsQueue, items, w.log)
	}
	return w
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *DraftWorker) Start(ctx context.Context) {
	w.log.Info().Msg("DraftWorker started")

	loop := batchLoop[model.Draft]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistDraftsQueue,
		log:   w.log,
		flush: w.flush,
	}
	loop.run(ctx)
}

func (w *DraftWorker) flush(ctx context.Context, batch []model.Draft) {
	var failed []model.Draft
	for _, d := range latestDrafts(batch) {
		if err := w.store.SaveDraft(ctx, d); err != nil {
			w.log.Error().Err(err).Str("submission_id", d.SubmissionID.String()).Msg("Draft save failed, requeueing")
			failed = append(failed, d)
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// latestDrafts keeps only the newest draft per attempt, in first-seen order.
func latestDrafts(batch []model.Draft) []model.Draft {
	index := make(map[uuid.UUID]int, len(batch))
	out := make([]model.Draft, 0, len(batch))

	for _, d := range batch {
		i, seen := index[d.SubmissionID]
		if !seen {
			index[d.SubmissionID] = len(out)
			out = append(out, d)
			continue
		}
		if !d.SavedAt.Before(out[i].SavedAt) {
			out[i] = d
		}
	}
	return out
}
