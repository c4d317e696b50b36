package proxycore

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// GeoIPDB is a read-only reader of IP -> ISO country code, backed by a
// MaxMind MMDB file. Adapted from an existing GeoIPDB (originally a
// location-based blocklist matcher keyed on continent/country/city
// GeoNames IDs loaded from a rule file): the core here only needs the
// single country.iso_code field a geoip rule compares against, so the
// blocklist-rule parsing and loader indirection are dropped in favor of
// a direct lookup.
type GeoIPDB struct {
	reader *maxminddb.Reader
}

// OpenGeoIPDB opens an MMDB file for country lookups.
func OpenGeoIPDB(path string) (*GeoIPDB, error) {
	if path == "" {
		path = "/usr/share/GeoIP/GeoLite2-Country.mmdb"
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	return &GeoIPDB{reader: reader}, nil
}

// Country returns the ISO country code for ip (e.g. "US"), or "" if the
// lookup fails or the record has no country assigned.
func (g *GeoIPDB) Country(ip net.IP) string {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := g.reader.Lookup(ip, &record); err != nil {
		Log.WithField("ip", ip).WithError(err).Error("failed to look up ip in geoip database")
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the underlying database file.
func (g *GeoIPDB) Close() error {
	return g.reader.Close()
}

func (g *GeoIPDB) String() string {
	return "GeoIP"
}
