package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

// errLookupRejected marks a well-formed "fail" answer; it does not count against the breaker
var errLookupRejected = errors.New("lookup rejected")

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// HTTPGeolocator queries an ip-api compatible JSON endpoint
type HTTPGeolocator struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*models.Location]
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPGeolocator creates the HTTP provider with a breaker and an outbound rate limit
func NewHTTPGeolocator(cfg *config.LocationConfig) *HTTPGeolocator {
	logger := logging.GetLogger().With(zap.String("component", "geolocation"))

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 45
	}

	breaker := gobreaker.NewCircuitBreaker[*models.Location](gobreaker.Settings{
		Name:        "geolocation-http",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Geolocation breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errLookupRejected)
		},
	})

	base := cfg.LookupURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &HTTPGeolocator{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger,
	}
}

// ResolveIP looks up ip; every failure is reported as ErrLocationUnavailable
func (g *HTTPGeolocator) ResolveIP(ctx context.Context, ip string) (*models.Location, error) {
	ctx, span := telemetry.StartSpan(ctx, "location.http_lookup")
	defer span.End()

	if !g.limiter.Allow() {
		return nil, fmt.Errorf("%w: outbound rate limit reached", ErrLocationUnavailable)
	}

	loc, err := g.breaker.Execute(func() (*models.Location, error) {
		return g.fetch(ctx, ip)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Debug("Geolocation breaker rejected lookup", zap.String("ip", ip))
		}
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	return loc, nil
}

func (g *HTTPGeolocator) fetch(ctx context.Context, ip string) (*models.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+ip, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation endpoint returned %s", resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode geolocation response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("%w: %s", errLookupRejected, body.Message)
	}

	return &models.Location{
		City:      body.City,
		Country:   body.Country,
		IP:        ip,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}
