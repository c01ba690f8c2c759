package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/models"
)

// SeedItems are durable records to prime the cache with
type SeedItems struct {
	Content []models.ContentEngagement
	Users   []models.UserCheckInState
}

// SeedReport counts what a seed wrote and skipped
type SeedReport struct {
	Content int `json:"content"`
	Users   int `json:"users"`
	// Cached counts users whose cache state was newer and left untouched
	Cached  int `json:"cached"`
	Skipped int `json:"skipped"`
}

func (r *SeedReport) add(o SeedReport) {
	r.Content += o.Content
	r.Users += o.Users
	r.Cached += o.Cached
	r.Skipped += o.Skipped
}

// BulkSeed writes durable records into the cache. Content scores are
// recomputed from counters and createdAt; users already cached are kept as
// they are; invalid records are skipped and counted.
func (w *Worker) BulkSeed(ctx context.Context, items SeedItems) (SeedReport, error) {
	var report SeedReport

	n, err := w.content.Seed(ctx, items.Content)
	report.Content = n
	if err != nil {
		return report, fmt.Errorf("seed content: %w", err)
	}
	report.Skipped = len(items.Content) - n

	for i := range items.Users {
		state := &items.Users[i]
		seeded, err := w.users.SeedUser(ctx, state)
		switch {
		case err == nil && seeded:
			report.Users++
		case err == nil:
			report.Cached++
		case errors.Is(err, models.ErrInvalidRecord):
			report.Skipped++
			w.logger.Warn("Skipping invalid user record", zap.Error(err))
		default:
			return report, fmt.Errorf("seed user %s: %w", state.UserID, err)
		}
	}
	return report, nil
}

// SeedFromStore pages the durable store into the cache at cold start. Unless
// force is set it does nothing when the heat index already exists. Content is
// overwritten; users only fill what the cache does not hold.
func (w *Worker) SeedFromStore(ctx context.Context, force bool) (SeedReport, error) {
	seeded, err := w.shouldSeed(ctx, force)
	if err != nil || !seeded {
		return SeedReport{}, err
	}

	started := time.Now()
	report, err := w.seedContent(ctx)
	if err != nil {
		return report, err
	}
	users, err := w.seedUsers(ctx)
	report.add(users)
	if err != nil {
		return report, err
	}
	w.logSeed("Seeded cache from durable store", report, started)
	return report, nil
}

// SeedContentFromStore reseeds content engagement only, as a corrective resync
// of counters and scores; check-in state is never touched.
func (w *Worker) SeedContentFromStore(ctx context.Context, force bool) (SeedReport, error) {
	seeded, err := w.shouldSeed(ctx, force)
	if err != nil || !seeded {
		return SeedReport{}, err
	}

	started := time.Now()
	report, err := w.seedContent(ctx)
	if err != nil {
		return report, err
	}
	w.logSeed("Reseeded content from durable store", report, started)
	return report, nil
}

func (w *Worker) shouldSeed(ctx context.Context, force bool) (bool, error) {
	if force {
		return true, nil
	}
	seeded, err := w.content.Seeded(ctx)
	if err != nil {
		return false, fmt.Errorf("check cache state: %w", err)
	}
	if seeded {
		w.logger.Info("Cache already seeded, skipping")
	}
	return !seeded, nil
}

func (w *Worker) seedContent(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	after := ""
	for {
		page, err := w.store.ListContentEngagement(ctx, after, w.cfg.SeedBatch)
		if err != nil {
			return report, fmt.Errorf("list content after %q: %w", after, err)
		}
		if len(page) == 0 {
			return report, nil
		}
		r, err := w.BulkSeed(ctx, SeedItems{Content: page})
		report.add(r)
		if err != nil {
			return report, err
		}
		after = page[len(page)-1].ContentID
	}
}

func (w *Worker) seedUsers(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	after := ""
	for {
		page, err := w.store.ListUserCheckInStates(ctx, after, w.cfg.SeedBatch)
		if err != nil {
			return report, fmt.Errorf("list users after %q: %w", after, err)
		}
		if len(page) == 0 {
			return report, nil
		}
		r, err := w.BulkSeed(ctx, SeedItems{Users: page})
		report.add(r)
		if err != nil {
			return report, err
		}
		after = page[len(page)-1].UserID
	}
}

func (w *Worker) logSeed(msg string, report SeedReport, started time.Time) {
	w.logger.Info(msg,
		zap.Int("content", report.Content),
		zap.Int("users", report.Users),
		zap.Int("cached", report.Cached),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", time.Since(started)))
}

// RunRescan triggers a full heat rescan every interval until ctx is cancelled
func (w *Worker) RunRescan(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	w.logger.Info("Starting heat rescan scheduler", zap.Duration("interval", interval))

	for {
		if !wait(ctx, interval) {
			return nil
		}
		if _, err := w.content.Rescan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Heat rescan failed", zap.Error(err))
		}
	}
}

// wait waits for d or until ctx is cancelled; false means cancelled
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
