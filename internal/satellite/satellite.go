// Package satellite defines the static catalog of birds Night Watch knows
// how to receive: weather satellites transmitting LRPT, and amateur/crewed
// spacecraft transmitting SSTV.
package satellite

import "strings"

// SignalKind identifies the downlink modulation family, which in turn drives
// which Recorder pipeline and which decoder the Scheduler invokes.
type SignalKind string

const (
	SignalLRPT SignalKind = "lrpt"
	SignalSSTV SignalKind = "sstv"
)

// DemodVariant selects the Recorder's source pipeline.
type DemodVariant string

const (
	DemodFM          DemodVariant = "fm"
	DemodBasebandIQ  DemodVariant = "baseband-iq"
)

// Satellite is a static, operator-configured downlink target.
type Satellite struct {
	Name       string       `toml:"name"        json:"name"`
	CatalogID  int          `toml:"catalog_id"   json:"catalog_id"`
	FreqHz     int          `toml:"freq_hz"      json:"freq_hz"`
	Kind       SignalKind   `toml:"kind"         json:"kind"`
	Bandwidth  int          `toml:"bandwidth_hz" json:"bandwidth_hz"`
	SampleRate int          `toml:"sample_rate"  json:"sample_rate"`
	Demod      DemodVariant `toml:"demod"        json:"demod"`
	Enabled    bool         `toml:"enabled"      json:"enabled"`
}

// Slug returns a filesystem-safe lowercase identifier, used by the Recorder
// for its filename policy.
func (s Satellite) Slug() string {
	r := strings.ToLower(s.Name)
	r = strings.ReplaceAll(r, " ", "-")
	r = strings.ReplaceAll(r, "_", "-")
	return r
}

// ByCatalogID returns the satellite with the given catalog id from the
// given catalog, or nil if absent.
func ByCatalogID(catalog []Satellite, id int) *Satellite {
	for i := range catalog {
		if catalog[i].CatalogID == id {
			return &catalog[i]
		}
	}
	return nil
}

// ByName returns the satellite with the given name (case-insensitive), or
// nil if absent.
func ByName(catalog []Satellite, name string) *Satellite {
	upper := strings.ToUpper(name)
	for i := range catalog {
		if strings.ToUpper(catalog[i].Name) == upper {
			return &catalog[i]
		}
	}
	return nil
}

// Enabled filters a catalog down to satellites the operator has enabled.
func Enabled(catalog []Satellite) []Satellite {
	out := make([]Satellite, 0, len(catalog))
	for _, s := range catalog {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// DefaultCatalog is a reasonable out-of-the-box set: two METEOR-M weather
// satellites on LRPT, plus the ISS SSTV payload. Operators override this
// entirely via the config file's [[satellite]] tables (Config.Satellite).
func DefaultCatalog() []Satellite {
	return []Satellite{
		{
			Name: "METEOR-M2 3", CatalogID: 57166, FreqHz: 137900000,
			Kind: SignalLRPT, Bandwidth: 120000, SampleRate: 1024000,
			Demod: DemodBasebandIQ, Enabled: true,
		},
		{
			Name: "METEOR-M2 4", CatalogID: 59051, FreqHz: 137100000,
			Kind: SignalLRPT, Bandwidth: 120000, SampleRate: 1024000,
			Demod: DemodBasebandIQ, Enabled: true,
		},
		{
			Name: "ISS", CatalogID: 25544, FreqHz: 145800000,
			Kind: SignalSSTV, Bandwidth: 20000, SampleRate: 48000,
			Demod: DemodFM, Enabled: true,
		},
	}
}
