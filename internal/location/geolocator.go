// Package location resolves client IPs to coarse geolocations and caches them per user.
package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/config"
)

// ErrLocationUnavailable is returned when no location can be produced; callers omit the annotation
var ErrLocationUnavailable = errors.New("location unavailable")

// Geolocator resolves a public IP address
type Geolocator interface {
	ResolveIP(ctx context.Context, ip string) (*models.Location, error)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type noopGeolocator struct{}

func (noopGeolocator) ResolveIP(context.Context, string) (*models.Location, error) {
	return nil, fmt.Errorf("%w: lookups disabled", ErrLocationUnavailable)
}

// NewGeolocator builds the configured provider. The returned closer releases
// provider resources and is never nil.
func NewGeolocator(cfg *config.LocationConfig) (Geolocator, io.Closer, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPGeolocator(cfg), nopCloser{}, nil
	case "mmdb":
		g, err := NewMMDBGeolocator(cfg.MMDBPath)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case "none", "":
		return noopGeolocator{}, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown location provider %q", cfg.Provider)
	}
}

// ParseIP extracts a public IP from a client address, which may carry a port or
// be a comma-separated forwarding chain; ok is false for private or invalid input.
func ParseIP(addr string) (net.IP, bool) {
	addr = strings.TrimSpace(strings.Split(addr, ",")[0])
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil || isPrivateIP(ip) {
		return nil, false
	}
	return ip, true
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}
