// Package ranking serves read-only queries over the heat index.
package ranking

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/heat"
)

// ErrNotFound is returned by Stats for content the store does not know
var ErrNotFound = heat.ErrNotFound

// MaxLimit caps TopN requests
const MaxLimit = 500

// Entry is one ranked content item
type Entry struct {
	ContentID       string    `json:"content_id"`
	HeatScore       float64   `json:"heat_score"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Service reads the heat index
type Service struct {
	cache  *cache.Cache
	keys   cache.Keys
	engine *heat.Engine
}

// NewService creates a ranking service; engine serves Stats snapshots
func NewService(c *cache.Cache, engine *heat.Engine) *Service {
	return &Service{cache: c, keys: c.Keys(), engine: engine}
}

// TopN returns the limit highest-scored items. Equal scores are ordered by most
// recent lastInteraction, then by content ID, including ties straddling the cut-off.
func (s *Service) TopN(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var zs []redis.Z
	err := s.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		var err error
		zs, err = rdb.ZRevRangeWithScores(ctx, s.keys.ContentHeat(), 0, int64(limit-1)).Result()
		if err != nil || len(zs) < limit {
			return err
		}
		// Pull in every member sharing the boundary score so the tie-break decides the cut
		tied, err := rdb.ZRangeByScoreWithScores(ctx, s.keys.ContentHeat(), tieRange(zs[len(zs)-1].Score)).Result()
		if err != nil {
			return err
		}
		zs = mergeTied(zs, tied)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return []Entry{}, nil
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	var last []interface{}
	err = s.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		var err error
		last, err = rdb.HMGet(ctx, s.keys.ContentLastInteraction(), ids...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(zs))
	for i, z := range zs {
		entries[i] = Entry{ContentID: ids[i], HeatScore: z.Score}
		if v, ok := last[i].(string); ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				entries[i].LastInteraction = time.UnixMilli(ms)
			}
		}
	}
	sortEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// tieRange selects members at exactly score in ascending ID order, at most
// MaxLimit of them; a larger tie is cut among its lowest IDs.
func tieRange(score float64) *redis.ZRangeBy {
	boundary := strconv.FormatFloat(score, 'g', -1, 64)
	return &redis.ZRangeBy{Min: boundary, Max: boundary, Count: MaxLimit}
}

func mergeTied(top, tied []redis.Z) []redis.Z {
	seen := make(map[interface{}]struct{}, len(top))
	for _, z := range top {
		seen[z.Member] = struct{}{}
	}
	for _, z := range tied {
		if _, ok := seen[z.Member]; !ok {
			top = append(top, z)
		}
	}
	return top
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.HeatScore != b.HeatScore {
			return a.HeatScore > b.HeatScore
		}
		if !a.LastInteraction.Equal(b.LastInteraction) {
			return a.LastInteraction.After(b.LastInteraction)
		}
		return a.ContentID < b.ContentID
	})
}

// Stats returns counters and the indexed score of one item
func (s *Service) Stats(ctx context.Context, contentID string) (*heat.Snapshot, error) {
	return s.engine.Snapshot(ctx, contentID)
}
