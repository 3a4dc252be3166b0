// Package demo simulates the full predict-wait-capture-decode lifecycle so
// the daemon, CLI, and web dashboard can be exercised end-to-end without
// SDR hardware attached. This is what config.ReceiverConfig.ServiceMode
// selects: the simulated passes cycle through the real Night Watch
// catalog with plausible orbital parameters, so the event stream looks
// exactly like a live run.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/milesburton/night-watch/internal/satellite"
	"github.com/milesburton/night-watch/internal/statebus"
	"github.com/milesburton/night-watch/internal/ws"
)

// Runner broadcasts simulated pass events on a configurable interval. It
// drives the same *statebus.Bus a live Scheduler would, so every consumer
// downstream (the WebSocket hub, the CLI, Prometheus) behaves identically
// in service mode and on real hardware.
type Runner struct {
	Bus      *statebus.Bus
	Hub      *ws.Hub
	Catalog  []satellite.Satellite
	Interval time.Duration // time between simulated passes

	passIndex int // cycles through the catalog
}

// New creates a demo runner with a sensible default interval, cycling the
// given catalog (normally satellite.Enabled(cfg.Satellite)).
func New(bus *statebus.Bus, hub *ws.Hub, catalog []satellite.Satellite) *Runner {
	return &Runner{
		Bus:      bus,
		Hub:      hub,
		Catalog:  catalog,
		Interval: 30 * time.Second,
	}
}

// Run kicks off the demo loop. It fires one simulated pass after a 2s delay,
// then repeats on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": "service mode active — simulating satellite passes",
	})

	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}
	r.runPass(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.runPass(ctx)
		}
	}
}

// runPass simulates one full pass lifecycle: schedule announcement,
// countdown to AOS, recording progress, decoding progress, complete_pass,
// then idle — the same status sequence RunScheduler drives for real.
func (r *Runner) runPass(ctx context.Context) {
	if len(r.Catalog) == 0 {
		return
	}
	sat := r.nextSatellite()
	now := time.Now().UTC()

	maxElev := 20.0 + rand.Float64()*60.0 // 20 - 80 degrees
	passDur := 8*time.Minute + time.Duration(rand.IntN(7))*time.Minute
	aos := now.Add(5 * time.Second)
	los := aos.Add(passDur)

	info := statebus.PassInfo{
		Satellite: sat.Name, CatalogID: sat.CatalogID, FreqHz: sat.FreqHz,
		AOS: aos, LOS: los, MaxElevDeg: maxElev,
	}
	r.Bus.SetStatus(statebus.StatusWaiting)
	r.Bus.SetUpcomingPasses([]statebus.PassInfo{info})
	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": fmt.Sprintf("next pass: %s at %s (max elev %.1f deg, duration %s)", sat.Name, aos.Format(time.RFC3339), maxElev, passDur.Truncate(time.Second)),
	})

	for i := 5; i > 0; i-- {
		r.Bus.UpdateProgress(0, 0, passDur)
		if !sleepOrCancel(ctx, 1*time.Second) {
			return
		}
	}

	r.Bus.StartPass(info)
	r.broadcast(map[string]any{
		"type": "start_pass", "satellite": sat.Name, "freq_hz": sat.FreqHz,
	})

	var bytesWritten int64
	for p := 0; p <= 100; p += 5 {
		bytesWritten += int64(48000 * 2 / 5)
		elapsed := time.Duration(float64(passDur) * float64(p) / 100)
		r.Bus.UpdateProgress(float64(p), elapsed, passDur)
		if !sleepOrCancel(ctx, 200*time.Millisecond) {
			return
		}
	}
	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": fmt.Sprintf("finished simulated capture of %s, %d bytes written", sat.Name, bytesWritten),
	})

	r.Bus.SetStatus(statebus.StatusDecoding)
	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": fmt.Sprintf("decoding %s pass", sat.Name),
	})
	if !sleepOrCancel(ctx, 1*time.Second) {
		return
	}

	result := statebus.CaptureResult{
		Satellite:     sat.Name,
		RecordingPath: fmt.Sprintf("/var/lib/nightwatch/recordings/%s-%s.wav", sat.Slug(), now.Format("20060102T150405Z")),
		ImagePaths:    []string{fmt.Sprintf("/var/lib/nightwatch/images/%s-%s-0.png", sat.Slug(), now.Format("20060102T150405Z"))},
		StartTime:     aos, EndTime: los,
		PeakSignalDB: -20 + rand.Float64()*-10,
		Success:      true,
	}
	r.Bus.CompletePass(result)
	r.broadcast(map[string]any{
		"type": "complete_pass", "satellite": result.Satellite, "success": result.Success,
		"image_paths": result.ImagePaths,
	})

	r.Bus.SetStatus(statebus.StatusIdle)
	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": fmt.Sprintf("pass complete for %s — next pass in %s", sat.Name, r.Interval.Truncate(time.Second)),
	})
}

// nextSatellite cycles through the catalog so each simulated pass features
// a different satellite.
func (r *Runner) nextSatellite() satellite.Satellite {
	sat := r.Catalog[r.passIndex%len(r.Catalog)]
	r.passIndex++
	return sat
}

func (r *Runner) broadcast(v map[string]any) {
	v["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	v["component"] = "demo"
	r.Hub.BroadcastJSON(v)
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
