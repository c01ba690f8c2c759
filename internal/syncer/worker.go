// Package syncer propagates cache-resident engagement and check-in state into
// the durable record store and seeds the cache back from it on cold start.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

// historyWindow bounds how many trailing check-in days a user flush writes
const historyWindow = 31

// ErrSyncFailed wraps a flush that exhausted its retries
var ErrSyncFailed = errors.New("sync failed")

// RecordStore is the durable record store
type RecordStore interface {
	UpsertContentEngagement(ctx context.Context, rec *models.ContentEngagement) error
	UpsertUserCheckInState(ctx context.Context, state *models.UserCheckInState, history []models.CheckInRecord) error
	LoadContentEngagement(ctx context.Context, contentID string) (*models.ContentEngagement, error)
	LoadUserCheckInState(ctx context.Context, userID string) (*models.UserCheckInState, error)
	ListContentEngagement(ctx context.Context, afterID string, limit int) ([]models.ContentEngagement, error)
	ListUserCheckInStates(ctx context.Context, afterID string, limit int) ([]models.UserCheckInState, error)
}

// ContentCache is the cache side of content engagement
type ContentCache interface {
	Snapshot(ctx context.Context, contentID string) (*heat.Snapshot, error)
	Seed(ctx context.Context, recs []models.ContentEngagement) (int, error)
	Seeded(ctx context.Context) (bool, error)
	Rescan(ctx context.Context) (int, error)
}

// UserCache is the cache side of check-in state
type UserCache interface {
	Snapshot(ctx context.Context, userID string) (*models.UserCheckInState, error)
	SeedUser(ctx context.Context, state *models.UserCheckInState) (bool, error)
}

type taskKind string

const (
	kindContent taskKind = "content"
	kindUser    taskKind = "user"
)

type task struct {
	id         uuid.UUID
	kind       taskKind
	key        string
	enqueuedAt time.Time
}

// Worker consumes flush tasks from a bounded queue
type Worker struct {
	cfg      config.SyncConfig
	store    RecordStore
	content  ContentCache
	users    UserCache
	queue    chan task
	executor failsafe.Executor[any]
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewWorker creates a sync worker; call Run to start consuming
func NewWorker(cfg config.SyncConfig, store RecordStore, content ContentCache, users UserCache) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.SeedBatch <= 0 {
		cfg.SeedBatch = 500
	}

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return retryable(err)
		}).
		Build()

	return &Worker{
		cfg:      cfg,
		store:    store,
		content:  content,
		users:    users,
		queue:    make(chan task, cfg.QueueSize),
		executor: failsafe.With[any](policy),
		logger:   logging.GetLogger().With(zap.String("component", "syncer")),
		pending:  make(map[string]struct{}),
	}
}

func retryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, models.ErrInvalidRecord),
		errors.Is(err, heat.ErrNotFound),
		errors.Is(err, checkin.ErrNotFound):
		return false
	}
	return true
}

// EnqueueContent schedules a content flush without blocking
func (w *Worker) EnqueueContent(contentID string) {
	w.enqueue(kindContent, contentID)
}

// EnqueueUser schedules a user flush without blocking
func (w *Worker) EnqueueUser(userID string) {
	w.enqueue(kindUser, userID)
}

// enqueue coalesces tasks per key; a task still waiting in the queue will read the latest state
func (w *Worker) enqueue(kind taskKind, key string) {
	pk := string(kind) + ":" + key

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, queued := w.pending[pk]; queued {
		return
	}

	t := task{id: uuid.New(), kind: kind, key: key, enqueuedAt: time.Now()}
	select {
	case w.queue <- t:
		w.pending[pk] = struct{}{}
	default:
		telemetry.Count(context.Background(), telemetry.Metrics().SyncTasks, "kind", string(kind), "outcome", "dropped")
		w.logger.Warn("Sync queue full, dropping task",
			zap.String("kind", string(kind)),
			zap.String("key", key))
	}
}

// Pending returns the number of queued tasks
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Run consumes tasks with the configured number of goroutines until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting sync worker",
		zap.Int("workers", w.cfg.Workers),
		zap.Int("queue_size", w.cfg.QueueSize))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t := <-w.queue:
					w.process(gctx, t)
				}
			}
		})
	}
	return g.Wait()
}

// Drain flushes whatever is still queued, one attempt each, until the queue is empty or ctx ends
func (w *Worker) Drain(ctx context.Context) int {
	drained := 0
	for {
		select {
		case <-ctx.Done():
			return drained
		case t := <-w.queue:
			w.release(t)
			if err := w.flush(ctx, t); err != nil {
				w.logger.Error("Sync task lost at shutdown",
					zap.String("task_id", t.id.String()),
					zap.String("kind", string(t.kind)),
					zap.String("key", t.key),
					zap.Error(err))
				continue
			}
			drained++
		default:
			return drained
		}
	}
}

func (w *Worker) release(t task) {
	w.mu.Lock()
	delete(w.pending, string(t.kind)+":"+t.key)
	w.mu.Unlock()
}

func (w *Worker) process(ctx context.Context, t task) {
	w.release(t)
	logger := w.logger.With(
		zap.String("task_id", t.id.String()),
		zap.String("kind", string(t.kind)),
		zap.String("key", t.key))

	attempts := 0
	_, err := w.executor.WithContext(ctx).Get(func() (any, error) {
		attempts++
		err := w.flush(ctx, t)
		if err != nil && retryable(err) && attempts <= w.cfg.MaxRetries {
			logger.Warn("Sync attempt failed, backing off",
				zap.Int("attempt", attempts),
				zap.Error(err))
		}
		return nil, err
	})

	switch {
	case err == nil:
		telemetry.Count(ctx, telemetry.Metrics().SyncTasks, "kind", string(t.kind), "outcome", "ok")
		logger.Debug("Synced", zap.Duration("latency", time.Since(t.enqueuedAt)))
	case errors.Is(err, heat.ErrNotFound), errors.Is(err, checkin.ErrNotFound):
		telemetry.Count(ctx, telemetry.Metrics().SyncTasks, "kind", string(t.kind), "outcome", "skipped")
		logger.Debug("Nothing cached to sync")
	default:
		telemetry.Count(ctx, telemetry.Metrics().SyncTasks, "kind", string(t.kind), "outcome", "failed")
		logger.Error("Sync task abandoned",
			zap.Int("attempts", attempts),
			zap.Error(fmt.Errorf("%w: %v", ErrSyncFailed, err)))
	}
}

func (w *Worker) flush(ctx context.Context, t task) error {
	if t.kind == kindUser {
		return w.FlushUser(ctx, t.key)
	}
	return w.FlushContent(ctx, t.key)
}

// FlushContent upserts the cached state of one content item
func (w *Worker) FlushContent(ctx context.Context, contentID string) error {
	snap, err := w.content.Snapshot(ctx, contentID)
	if err != nil {
		return err
	}
	rec := snap.Record()
	rec.UpdatedAt = time.Now().UTC()
	return w.store.UpsertContentEngagement(ctx, rec)
}

// FlushUser upserts the cached state of one user and the history of its
// recent check-in days; the store ignores days it already holds, so a flush
// also backfills days whose own task was dropped.
func (w *Worker) FlushUser(ctx context.Context, userID string) error {
	state, err := w.users.Snapshot(ctx, userID)
	if err != nil {
		return err
	}

	history := state.CheckInHistory
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return w.store.UpsertUserCheckInState(ctx, state, history)
}
