package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

const defaultTTL = 24 * time.Hour

// Cache is a best-effort per-user location cache in front of a Geolocator
type Cache struct {
	store  *cache.Cache
	geo    Geolocator
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a location cache; a non-positive ttl means 24h
func NewCache(store *cache.Cache, geo Geolocator, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if geo == nil {
		geo = noopGeolocator{}
	}
	return &Cache{
		store:  store,
		geo:    geo,
		ttl:    ttl,
		logger: logging.GetLogger().With(zap.String("component", "location")),
	}
}

// Resolve returns the cached location of userID or looks ip up and caches the
// result. Failures are never cached; every failure wraps ErrLocationUnavailable.
func (c *Cache) Resolve(ctx context.Context, userID, ip string) (*models.Location, error) {
	key := c.store.Keys().UserLocation(userID)

	var cached models.Location
	found, err := c.store.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		c.logger.Debug("Location cache read failed", zap.String("user_id", userID), zap.Error(err))
	case found:
		c.count(ctx, "hit")
		return &cached, nil
	}

	parsed, ok := ParseIP(ip)
	if !ok {
		c.count(ctx, "skipped")
		return nil, fmt.Errorf("%w: no public address in %q", ErrLocationUnavailable, ip)
	}

	loc, err := c.geo.ResolveIP(ctx, parsed.String())
	if err != nil {
		c.count(ctx, "failed")
		if !errors.Is(err, ErrLocationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
		}
		return nil, err
	}
	c.count(ctx, "miss")

	if err := c.store.SetJSON(ctx, key, loc, c.ttl); err != nil {
		c.logger.Debug("Location cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return loc, nil
}

func (c *Cache) count(ctx context.Context, result string) {
	telemetry.Count(ctx, telemetry.Metrics().LocationLookups, "result", result)
}
