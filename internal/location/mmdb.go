package location

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/steemit/pulse/internal/models"
)

// MMDBGeolocator resolves IPs from a local MaxMind-format City database
type MMDBGeolocator struct {
	db *geoip2.Reader
}

// NewMMDBGeolocator opens the database at path
func NewMMDBGeolocator(path string) (*MMDBGeolocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geolocation database %s: %w", path, err)
	}
	return &MMDBGeolocator{db: db}, nil
}

// ResolveIP looks ip up in the database
func (g *MMDBGeolocator) ResolveIP(_ context.Context, ip string) (*models.Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: invalid ip %q", ErrLocationUnavailable, ip)
	}
	record, err := g.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	if record.Country.IsoCode == "" && record.City.GeoNameID == 0 {
		return nil, fmt.Errorf("%w: %s not in database", ErrLocationUnavailable, ip)
	}
	return &models.Location{
		City:      record.City.Names["en"],
		Country:   record.Country.Names["en"],
		IP:        ip,
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

// Close releases the database
func (g *MMDBGeolocator) Close() error {
	return g.db.Close()
}
