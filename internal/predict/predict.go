// Package predict computes upcoming satellite passes for a ground station
// using SGP4 orbital propagation. It handles TLE fetching, station location
// resolution (static config or GPSD), and pass filtering by minimum
// elevation.
package predict

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/satellite"
	"github.com/milesburton/night-watch/internal/ws"
)

// Pass describes a single predicted overhead pass, from acquisition of
// signal (AOS) through loss of signal (LOS).
type Pass struct {
	Satellite   satellite.Satellite
	AOS         time.Time
	LOS         time.Time
	MaxElev     float64
	MaxElevTime time.Time
	AOSAzimuth  float64
	LOSAzimuth  float64
	Duration    time.Duration
}

// Predictor resolves the ground station location, fetches current TLE data,
// and runs SGP4 propagation to find upcoming passes across the configured
// satellite catalog.
type Predictor struct {
	hub      *ws.Hub
	cfg      config.Config
	log      *log.Logger
	tleStore *TLEStore
}

// NewPredictor creates a predictor backed by a TLE store rooted in the
// configured data directory.
func NewPredictor(hub *ws.Hub, cfg config.Config, logger *log.Logger) *Predictor {
	return &Predictor{
		hub: hub,
		cfg: cfg,
		log: logger,
		tleStore: NewTLEStore(
			cfg.Predict.TLEURL,
			cfg.Predict.DataDir,
			cfg.Predict.TLERefreshHours,
			cfg.Satellite,
		),
	}
}

// ResolveLocation determines the ground station position. If use_gpsd is
// true, it tries gpsd first and falls back to the TOML config values.
func (p *Predictor) ResolveLocation() (Location, error) {
	if p.cfg.Receiver.UseGPSD {
		loc, err := LocationFromGPSD(p.cfg.Receiver.GPSDHost, 10*time.Second, p.log)
		if err != nil {
			p.log.Printf("predict: gpsd failed (%v), falling back to config", err)
		} else {
			p.broadcast(map[string]any{
				"type":    "log",
				"level":   "info",
				"message": fmt.Sprintf("location from gpsd: %.4f, %.4f, %.0fm", loc.Lat, loc.Lon, loc.Alt),
			})
			return loc, nil
		}
	}

	return Location{
		Lat: p.cfg.Receiver.Latitude,
		Lon: p.cfg.Receiver.Longitude,
		Alt: p.cfg.Receiver.AltitudeMeters,
	}, nil
}

// ComputePasses fetches TLEs, resolves the station location, and computes
// all upcoming passes within the lookahead window across the enabled
// satellite catalog. Passes below min_elevation_deg are filtered out.
// Results are sorted by AOS ascending, with ties broken by catalog order
// (Go's sort.Slice is not stable, so catalog iteration order is preserved
// by a secondary index comparison rather than relying on the sort itself).
func (p *Predictor) ComputePasses() ([]Pass, error) {
	loc, err := p.ResolveLocation()
	if err != nil {
		return nil, fmt.Errorf("resolve location: %w", err)
	}

	p.broadcast(map[string]any{
		"type":    "log",
		"level":   "info",
		"message": fmt.Sprintf("station: %.4f, %.4f, %.0fm", loc.Lat, loc.Lon, loc.Alt),
	})

	tles, err := p.tleStore.Fetch()
	if err != nil {
		return nil, fmt.Errorf("fetch TLEs: %w", err)
	}

	now := time.Now().UTC()
	end := now.Add(time.Duration(p.cfg.Predict.LookaheadHours) * time.Hour)

	type indexed struct {
		pass Pass
		seq  int
	}
	var allPasses []indexed
	seq := 0

	for _, sat := range satellite.Enabled(p.cfg.Satellite) {
		tle, ok := tles[sat.CatalogID]
		if !ok {
			p.log.Printf("predict: no TLE for %s (catalog id %d)", sat.Name, sat.CatalogID)
			continue
		}

		rawPasses, err := tle.GeneratePasses(
			loc.Lat, loc.Lon, loc.Alt,
			now, end,
			1, // 1-second step for precision
		)
		if err != nil {
			p.log.Printf("predict: error computing passes for %s: %v", sat.Name, err)
			continue
		}

		for _, rp := range rawPasses {
			if rp.MaxElevation < p.cfg.Receiver.MinElevationDeg {
				continue
			}
			allPasses = append(allPasses, indexed{
				pass: Pass{
					Satellite:   sat,
					AOS:         rp.AOS,
					LOS:         rp.LOS,
					MaxElev:     rp.MaxElevation,
					MaxElevTime: rp.MaxElevationTime,
					AOSAzimuth:  rp.AOSAzimuth,
					LOSAzimuth:  rp.LOSAzimuth,
					Duration:    rp.Duration,
				},
				seq: seq,
			})
			seq++
		}
	}

	sort.Slice(allPasses, func(i, j int) bool {
		if allPasses[i].pass.AOS.Equal(allPasses[j].pass.AOS) {
			return allPasses[i].seq < allPasses[j].seq
		}
		return allPasses[i].pass.AOS.Before(allPasses[j].pass.AOS)
	})

	out := make([]Pass, len(allPasses))
	for i, ip := range allPasses {
		out[i] = ip.pass
	}

	p.broadcast(map[string]any{
		"type":    "log",
		"level":   "info",
		"message": fmt.Sprintf("found %d passes in next %dh", len(out), p.cfg.Predict.LookaheadHours),
	})

	return out, nil
}

// ForceRefreshTLEs fetches TLEs from the network regardless of cache age
// and returns the number of satellites updated.
func (p *Predictor) ForceRefreshTLEs() (int, error) {
	tles, err := p.tleStore.ForceRefresh()
	if err != nil {
		return 0, err
	}
	return len(tles), nil
}

func (p *Predictor) broadcast(v map[string]any) {
	v["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	v["component"] = "predict"
	p.hub.BroadcastJSON(v)
}
