package heat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

const (
	lockStripes    = 256
	scanPageSize   = 500
	defaultWorkers = 8
)

// Notifier receives content IDs whose cached state changed
type Notifier interface {
	EnqueueContent(contentID string)
}

// Interaction is the outcome of RecordInteraction
type Interaction struct {
	ContentID string  `json:"content_id"`
	Kind      Kind    `json:"kind"`
	HeatScore float64 `json:"heat_score"`
	// Scored is false when the counter was applied but the recompute failed;
	// the next rescan repairs the index.
	Scored bool `json:"scored"`
}

// Snapshot is the cache-resident engagement state of one content item
type Snapshot struct {
	ContentID       string          `json:"content_id"`
	Counters        models.Counters `json:"counters"`
	HeatScore       float64         `json:"heat_score"`
	Indexed         bool            `json:"indexed"`
	LastInteraction time.Time       `json:"last_interaction"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Record converts the snapshot into a durable record
func (s *Snapshot) Record() *models.ContentEngagement {
	return &models.ContentEngagement{
		ContentID:       s.ContentID,
		Counters:        s.Counters,
		HeatScore:       s.HeatScore,
		LastInteraction: s.LastInteraction,
		CreatedAt:       s.CreatedAt,
	}
}

// Engine maintains counters and the heat index in the counter store
type Engine struct {
	cache    *cache.Cache
	keys     cache.Keys
	weights  Weights
	now      func() time.Time
	workers  int
	notifier Notifier
	locks    [lockStripes]sync.Mutex
	logger   *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWorkers bounds rescan parallelism
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithNotifier registers the sync handoff
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates a heat score engine
func NewEngine(c *cache.Cache, w Weights, opts ...Option) *Engine {
	e := &Engine{
		cache:   c,
		keys:    c.Keys(),
		weights: w,
		now:     time.Now,
		workers: defaultWorkers,
		logger:  logging.GetLogger().With(zap.String("component", "heat")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetNotifier registers the sync handoff after construction
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Weights returns the configured weights
func (e *Engine) Weights() Weights {
	return e.weights
}

func (e *Engine) lockFor(contentID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(contentID))
	return &e.locks[h.Sum32()%lockStripes]
}

// RecordInteraction increments one counter, stamps lastInteraction and
// createdAt (first time only) in one transaction, then recomputes the score.
func (e *Engine) RecordInteraction(ctx context.Context, contentID string, kind Kind) (*Interaction, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: empty content id", models.ErrInvalidRecord)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "heat.RecordInteraction")
	defer span.End()

	ms := e.now().UnixMilli()
	err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, e.keys.ContentCounter(kind.Metric()), contentID, 1)
			pipe.HSet(ctx, e.keys.ContentLastInteraction(), contentID, ms)
			pipe.HSetNX(ctx, e.keys.ContentCreatedAt(), contentID, ms)
			return nil
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	telemetry.Count(ctx, telemetry.Metrics().Interactions, "kind", string(kind))

	result := &Interaction{ContentID: contentID, Kind: kind}
	score, err := e.RecomputeScore(ctx, contentID)
	if err != nil {
		e.logger.Warn("Recompute after interaction failed",
			zap.String("content_id", contentID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	} else {
		result.HeatScore = score
		result.Scored = true
	}

	if e.notifier != nil {
		e.notifier.EnqueueContent(contentID)
	}
	return result, nil
}

// RecomputeScore writes the score derived from the current counters into the index
func (e *Engine) RecomputeScore(ctx context.Context, contentID string) (float64, error) {
	mu := e.lockFor(contentID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := e.Snapshot(ctx, contentID)
	if err != nil {
		return 0, err
	}

	score := e.weights.Score(snap.Counters, snap.CreatedAt, e.now())
	err = e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.ZAdd(ctx, e.keys.ContentHeat(), &redis.Z{Score: score, Member: contentID}).Err()
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// Snapshot reads counters, timestamps and the indexed score in one transaction
func (e *Engine) Snapshot(ctx context.Context, contentID string) (*Snapshot, error) {
	var (
		counterCmds [4]*redis.StringCmd
		lastCmd     *redis.StringCmd
		createdCmd  *redis.StringCmd
		scoreCmd    *redis.FloatCmd
	)
	err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, k := range Kinds {
				counterCmds[i] = pipe.HGet(ctx, e.keys.ContentCounter(k.Metric()), contentID)
			}
			lastCmd = pipe.HGet(ctx, e.keys.ContentLastInteraction(), contentID)
			createdCmd = pipe.HGet(ctx, e.keys.ContentCreatedAt(), contentID)
			scoreCmd = pipe.ZScore(ctx, e.keys.ContentHeat(), contentID)
			return nil
		})
		// Misses surface as redis.Nil on individual commands
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ContentID: contentID}
	known := false
	for i, k := range Kinds {
		n, ok, err := intValue(counterCmds[i])
		if err != nil {
			return nil, fmt.Errorf("content %s %s: %w", contentID, k.Metric(), err)
		}
		known = known || ok
		*counterFor(&snap.Counters, k) = n
	}
	if ms, ok, err := intValue(lastCmd); err != nil {
		return nil, fmt.Errorf("content %s last interaction: %w", contentID, err)
	} else if ok {
		known = true
		snap.LastInteraction = time.UnixMilli(ms)
	}
	if ms, ok, err := intValue(createdCmd); err != nil {
		return nil, fmt.Errorf("content %s created at: %w", contentID, err)
	} else if ok {
		known = true
		snap.CreatedAt = time.UnixMilli(ms)
	}
	if score, err := scoreCmd.Result(); err == nil {
		known = true
		snap.Indexed = true
		snap.HeatScore = score
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	if snap.CreatedAt.IsZero() {
		// Counters written before createdAt tracking decay from their last interaction
		snap.CreatedAt = snap.LastInteraction
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = e.now()
		}
	}
	return snap, nil
}

func intValue(cmd *redis.StringCmd) (int64, bool, error) {
	s, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Rescan recomputes every known item with bounded parallelism and returns the number rescored
func (e *Engine) Rescan(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "heat.Rescan")
	defer span.End()
	started := time.Now()

	ids, err := e.contentIDs(ctx)
	if err != nil {
		return 0, err
	}

	var (
		mu       sync.Mutex
		rescored int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := e.RecomputeScore(gctx, id)
			switch {
			case err == nil:
				mu.Lock()
				rescored++
				mu.Unlock()
				return nil
			case errors.Is(err, ErrNotFound):
				return nil
			case errors.Is(err, cache.ErrStoreUnavailable), errors.Is(err, context.Canceled):
				return err
			default:
				e.logger.Warn("Rescan skipped content", zap.String("content_id", id), zap.Error(err))
				return nil
			}
		})
	}
	err = g.Wait()

	m := telemetry.Metrics()
	m.Rescans.Add(ctx, 1)
	m.RescanDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.Bool("ok", err == nil)))

	if err != nil {
		span.RecordError(err)
		return rescored, fmt.Errorf("rescan aborted after %d items: %w", rescored, err)
	}
	e.logger.Info("Heat rescan complete",
		zap.Int("items", len(ids)),
		zap.Int("rescored", rescored),
		zap.Duration("took", time.Since(started)))
	return rescored, nil
}

// contentIDs pages through the createdAt hash, one bounded call per page
func (e *Engine) contentIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		var page []string
		err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
			var err error
			page, cursor, err = rdb.HScan(ctx, e.keys.ContentCreatedAt(), cursor, "", scanPageSize).Result()
			return err
		})
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(page); i += 2 {
			ids = append(ids, page[i])
		}
		if cursor == 0 {
			return ids, nil
		}
	}
}

// Seed writes durable records into the store, overwriting counters and
// recomputing each score rather than trusting the stored value. Invalid records
// are skipped; the number written is returned.
func (e *Engine) Seed(ctx context.Context, recs []models.ContentEngagement) (int, error) {
	seeded := 0
	now := e.now()
	for i := range recs {
		rec := &recs[i]
		if err := rec.Validate(); err != nil {
			e.logger.Warn("Skipping invalid content record", zap.Error(err))
			continue
		}
		score := e.weights.Score(rec.Counters, rec.CreatedAt, now)

		mu := e.lockFor(rec.ContentID)
		mu.Lock()
		err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
			_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range Kinds {
					pipe.HSet(ctx, e.keys.ContentCounter(k.Metric()), rec.ContentID, *counterFor(&rec.Counters, k))
				}
				pipe.HSet(ctx, e.keys.ContentCreatedAt(), rec.ContentID, rec.CreatedAt.UnixMilli())
				pipe.HSet(ctx, e.keys.ContentLastInteraction(), rec.ContentID, rec.LastTouched().UnixMilli())
				pipe.ZAdd(ctx, e.keys.ContentHeat(), &redis.Z{Score: score, Member: rec.ContentID})
				return nil
			})
			return err
		})
		mu.Unlock()
		if err != nil {
			return seeded, fmt.Errorf("seed content %s: %w", rec.ContentID, err)
		}
		seeded++
	}
	return seeded, nil
}

// Seeded reports whether the heat index exists
func (e *Engine) Seeded(ctx context.Context) (bool, error) {
	var n int64
	err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		var err error
		n, err = rdb.Exists(ctx, e.keys.ContentHeat()).Result()
		return err
	})
	return n > 0, err
}
