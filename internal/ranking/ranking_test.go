package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/steemit/pulse/internal/cache/cachetest"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/models"
)

func newTestService(t *testing.T) (*Service, *heat.Engine, time.Time) {
	t.Helper()
	c, _ := cachetest.New(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e := heat.NewEngine(c, heat.DefaultWeights(), heat.WithClock(func() time.Time { return now }))
	return NewService(c, e), e, now
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ContentID
	}
	return out
}

func TestTopN(t *testing.T) {
	s, e, now := newTestService(t)
	ctx := context.Background()

	_, err := e.Seed(ctx, []models.ContentEngagement{
		{ContentID: "low", Counters: models.Counters{Views: 1}, CreatedAt: now},
		{ContentID: "high", Counters: models.Counters{Shares: 2}, CreatedAt: now},
		{ContentID: "mid", Counters: models.Counters{Likes: 2}, CreatedAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{0, []string{}},
		{-1, []string{}},
		{1, []string{"high"}},
		{2, []string{"high", "mid"}},
		{10, []string{"high", "mid", "low"}},
	}
	for _, tt := range tests {
		got, err := s.TopN(ctx, tt.limit)
		if err != nil {
			t.Fatalf("TopN(%d) failed: %v", tt.limit, err)
		}
		if g := ids(got); len(g) != len(tt.want) {
			t.Errorf("TopN(%d) = %v, want %v", tt.limit, g, tt.want)
		} else {
			for i := range g {
				if g[i] != tt.want[i] {
					t.Errorf("TopN(%d) = %v, want %v", tt.limit, g, tt.want)
					break
				}
			}
		}
	}
}

func TestTopNTieBreak(t *testing.T) {
	s, e, now := newTestService(t)
	ctx := context.Background()

	// Same counters and age; only lastInteraction differs
	_, err := e.Seed(ctx, []models.ContentEngagement{
		{ContentID: "a", Counters: models.Counters{Likes: 1}, CreatedAt: now, LastInteraction: now.Add(-time.Hour)},
		{ContentID: "b", Counters: models.Counters{Likes: 1}, CreatedAt: now, LastInteraction: now},
		{ContentID: "c", Counters: models.Counters{Likes: 1}, CreatedAt: now, LastInteraction: now.Add(-time.Hour)},
		{ContentID: "z", Counters: models.Counters{Likes: 1}, CreatedAt: now, LastInteraction: now.Add(-2 * time.Hour)},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.TopN(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(got); len(g) != 2 || g[0] != "b" || g[1] != "a" {
		t.Errorf("TopN(2) = %v, want [b a]", g)
	}

	got, err = s.TopN(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(got); len(g) != 4 || g[2] != "c" || g[3] != "z" {
		t.Errorf("TopN(4) = %v, want [b a c z]", g)
	}
}

func TestTopNLargeTie(t *testing.T) {
	s, e, now := newTestService(t)
	ctx := context.Background()

	recs := make([]models.ContentEngagement, MaxLimit+100)
	for i := range recs {
		recs[i] = models.ContentEngagement{ContentID: fmt.Sprintf("item-%03d", i), Counters: models.Counters{Views: 1}, CreatedAt: now}
	}
	if _, err := e.Seed(ctx, recs); err != nil {
		t.Fatal(err)
	}

	got, err := s.TopN(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(got); len(g) != 2 || g[0] != "item-000" || g[1] != "item-001" {
		t.Errorf("TopN(2) = %v, want [item-000 item-001]", g)
	}
}

func TestTieRange(t *testing.T) {
	r := tieRange(12.5)
	if r.Min != "12.5" || r.Max != "12.5" || r.Count != MaxLimit || r.Offset != 0 {
		t.Errorf("Unexpected tie range: %+v", r)
	}
}

func TestTopNEmpty(t *testing.T) {
	s, _, _ := newTestService(t)
	got, err := s.TopN(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty ranking, got %v", got)
	}
}

func TestStats(t *testing.T) {
	s, e, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Stats(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if _, err := e.RecordInteraction(ctx, "post-1", heat.KindLike); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Stats(ctx, "post-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Counters.Likes != 1 || snap.HeatScore != 5 {
		t.Errorf("Unexpected stats: %+v", snap)
	}
}

func TestSortEntries(t *testing.T) {
	base := time.Unix(1700000000, 0)
	entries := []Entry{
		{ContentID: "b", HeatScore: 1, LastInteraction: base},
		{ContentID: "a", HeatScore: 1, LastInteraction: base},
		{ContentID: "c", HeatScore: 2},
		{ContentID: "d", HeatScore: 1, LastInteraction: base.Add(time.Second)},
	}
	sortEntries(entries)
	want := []string{"c", "d", "a", "b"}
	for i, w := range want {
		if entries[i].ContentID != w {
			t.Fatalf("sortEntries = %v, want %v", ids(entries), want)
		}
	}
}

func TestMergeTied(t *testing.T) {
	top := []redis.Z{{Score: 2, Member: "x"}, {Score: 1, Member: "y"}}
	tied := []redis.Z{{Score: 1, Member: "y"}, {Score: 1, Member: "w"}}
	got := mergeTied(top, tied)
	if len(got) != 3 || got[2].Member != "w" {
		t.Errorf("mergeTied = %v", got)
	}
}
