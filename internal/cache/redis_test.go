package cache_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/cache/cachetest"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		key       func(k cache.Keys) string
		expected  string
	}{
		{"views hash", "", func(k cache.Keys) string { return k.ContentCounter("views") }, "content:views"},
		{"heat index", "", func(k cache.Keys) string { return k.ContentHeat() }, "content:heat"},
		{"last interaction", "", func(k cache.Keys) string { return k.ContentLastInteraction() }, "content:last_interaction"},
		{"checkin log", "", func(k cache.Keys) string { return k.UserCheckIn("42") }, "user:checkin:42"},
		{"total checkins", "", func(k cache.Keys) string { return k.UserTotalCheckIns("42") }, "user:total_checkins:42"},
		{"location", "", func(k cache.Keys) string { return k.UserLocation("42") }, "user:location:42"},
		{"namespaced heat", "pulse", func(k cache.Keys) string { return k.ContentHeat() }, "pulse:content:heat"},
		{"namespaced points", "pulse", func(k cache.Keys) string { return k.UserPoints("a") }, "pulse:user:points:a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key(cache.NewKeys(tt.namespace))
			if got != tt.expected {
				t.Errorf("key = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"nil", nil, false},
		{"miss", redis.Nil, false},
		{"tx aborted", redis.TxFailedErr, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"closed pool", redis.ErrClosed, true},
		{"dial", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), true},
		{"wrapped twice", fmt.Errorf("x: %w", cache.ErrStoreUnavailable), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cache.Classify(tt.err)
			if errors.Is(got, cache.ErrStoreUnavailable) != tt.unavailable {
				t.Errorf("Classify(%v) = %v, unavailable want %v", tt.err, got, tt.unavailable)
			}
		})
	}
}

func TestJSONRoundTripAndTTL(t *testing.T) {
	c, mr := cachetest.New(t)
	ctx := context.Background()

	type loc struct {
		City string `json:"city"`
	}

	found, err := c.GetJSON(ctx, "k", &loc{})
	if err != nil || found {
		t.Fatalf("GetJSON on empty store = (%v, %v), want miss", found, err)
	}

	if err := c.SetJSON(ctx, "k", loc{City: "Lisbon"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got loc
	found, err = c.GetJSON(ctx, "k", &got)
	if err != nil || !found || got.City != "Lisbon" {
		t.Fatalf("GetJSON = (%v, %v, %+v)", found, err, got)
	}

	mr.FastForward(2 * time.Minute)
	found, err = c.GetJSON(ctx, "k", &got)
	if err != nil || found {
		t.Fatalf("GetJSON after expiry = (%v, %v), want miss", found, err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	c, mr := cachetest.New(t)
	mr.Close()

	if err := c.Health(context.Background()); !errors.Is(err, cache.ErrStoreUnavailable) {
		t.Fatalf("Health() = %v, want ErrStoreUnavailable", err)
	}
	if err := c.SetJSON(context.Background(), "k", 1, 0); !errors.Is(err, cache.ErrStoreUnavailable) {
		t.Fatalf("SetJSON() = %v, want ErrStoreUnavailable", err)
	}
}

func TestNilCache(t *testing.T) {
	var c *cache.Cache
	if err := c.Health(context.Background()); !errors.Is(err, cache.ErrCacheDisabled) {
		t.Fatalf("Health() on nil cache = %v, want ErrCacheDisabled", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on nil cache = %v", err)
	}
}
