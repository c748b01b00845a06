package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned by a nil resolver. Country tagging on usage
// records is optional, so deployments without a database still work.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// CountryResolver maps a client IP to an ISO 3166-1 country code.
type CountryResolver interface {
	CountryCode(ip string) (string, error)
}

// Resolver answers lookups from a local MaxMind GeoIP2 database file.
type Resolver struct {
	db *geoip2.Reader
}

// NewResolver opens the database at path. An empty path disables geo
// tagging and returns a nil resolver without error.
func NewResolver(path string) (CountryResolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{db: db}, nil
}

// CountryCode looks up the ISO code for ip. Addresses missing from the
// database yield an empty code, not an error.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.db == nil {
		return "", ErrUnavailable
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	country, err := r.db.Country(addr)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if country == nil || country.Country.IsoCode == "" {
		return "", nil
	}
	return country.Country.IsoCode, nil
}

// Close releases the database reader.
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
