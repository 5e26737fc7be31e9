package geoip

import (
	"net/netip"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Provider resolves server addresses to ISO country codes from a MaxMind database.
// Lookups are memoized per address; a host population repeats the same few thousand IPs.
type Provider struct {
	db    *geoip2.Reader
	cache sync.Map // netip.Addr -> string
}

// Open loads the MaxMind database at path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close releases the database.
func (p *Provider) Close() error {
	return p.db.Close()
}

// CountryCode returns the ISO code (e.g. "US", "DE") of address, or "" when the
// address is not an IP literal or has no country record.
func (p *Provider) CountryCode(address string) string {
	ip, err := netip.ParseAddr(address)
	if err != nil {
		return ""
	}
	ip = ip.Unmap()

	if v, ok := p.cache.Load(ip); ok {
		return v.(string)
	}

	code := ""
	if record, err := p.db.Country(ip.AsSlice()); err == nil {
		code = record.Country.IsoCode
	}
	p.cache.Store(ip, code)

	return code
}
