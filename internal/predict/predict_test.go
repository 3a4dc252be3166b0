package predict

import (
	"testing"
	"time"

	"github.com/akhenakh/sgp4"
)

// issTLE is a real ISS element set, used the same way StarGo's predictor
// tests use one: as a fixed, plausible fixture to exercise SGP4 geometry
// rather than a synthetic orbit.
const issTLE = "ISS (ZARYA)\n" +
	"1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9996\n" +
	"2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495057"

func TestGeneratePassesISSProducesPlausiblePasses(t *testing.T) {
	tle, err := sgp4.ParseTLE(issTLE)
	if err != nil {
		t.Fatalf("ParseTLE: %v", err)
	}

	start := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	passes, err := tle.GeneratePasses(40.7128, -74.006, 10, start, end, 1)
	if err != nil {
		t.Fatalf("GeneratePasses: %v", err)
	}
	if len(passes) == 0 {
		t.Fatal("expected at least one ISS pass over 24h from NYC")
	}

	for i, p := range passes {
		if p.MaxElevation <= 0 || p.MaxElevation > 90 {
			t.Errorf("pass %d: max elevation %.2f out of range", i, p.MaxElevation)
		}
		if !p.AOS.Before(p.MaxElevationTime) || !p.MaxElevationTime.Before(p.LOS) {
			t.Errorf("pass %d: time ordering violated: aos=%v max=%v los=%v", i, p.AOS, p.MaxElevationTime, p.LOS)
		}
		if p.Duration <= 0 {
			t.Errorf("pass %d: non-positive duration %v", i, p.Duration)
		}
		if p.AOSAzimuth < 0 || p.AOSAzimuth >= 360 {
			t.Errorf("pass %d: AOS azimuth %.2f out of range", i, p.AOSAzimuth)
		}
	}
}

func TestResolveLocationFallsBackWhenGPSDDisabled(t *testing.T) {
	p := &Predictor{
		hub: nil,
		log: testLogger(),
	}
	p.cfg.Receiver.UseGPSD = false
	p.cfg.Receiver.Latitude = 51.5
	p.cfg.Receiver.Longitude = -0.1
	p.cfg.Receiver.AltitudeMeters = 35

	loc, err := p.ResolveLocation()
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if loc.Lat != 51.5 || loc.Lon != -0.1 || loc.Alt != 35 {
		t.Fatalf("unexpected location: %+v", loc)
	}
}

func TestResolveLocationFallsBackWhenGPSDUnreachable(t *testing.T) {
	p := &Predictor{
		hub: nil,
		log: testLogger(),
	}
	p.cfg.Receiver.UseGPSD = true
	p.cfg.Receiver.GPSDHost = "127.0.0.1:1" // nothing listens here
	p.cfg.Receiver.Latitude = 10
	p.cfg.Receiver.Longitude = 20
	p.cfg.Receiver.AltitudeMeters = 5

	loc, err := p.ResolveLocation()
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if loc.Lat != 10 || loc.Lon != 20 || loc.Alt != 5 {
		t.Fatalf("expected config fallback location, got %+v", loc)
	}
}
