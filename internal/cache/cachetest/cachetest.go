// Package cachetest starts an in-process Redis for store-backed tests.
package cachetest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/steemit/pulse/internal/cache"
)

// New returns a cache backed by a fresh miniredis instance that is torn down with the test
func New(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	c := cache.NewWithClient(client, "", time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}
