package demo

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/satellite"
	"github.com/milesburton/night-watch/internal/statebus"
	"github.com/milesburton/night-watch/internal/ws"
)

// TestRunPassCyclesCatalogAndCompletesSuccessfully verifies one simulated
// pass runs the full status sequence and always reports success with at
// least one image path, and that consecutive passes advance through the
// catalog rather than repeating the first entry.
func TestRunPassCyclesCatalogAndCompletesSuccessfully(t *testing.T) {
	bus := statebus.New()
	hub := ws.NewHub(bus, log.New(io.Discard, "", 0))
	catalog := satellite.DefaultCatalog()

	r := New(bus, hub, catalog)

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.runPass(context.Background())
	}()

	var sawComplete bool
	var result statebus.CaptureResult
	timeout := time.After(15 * time.Second)
loop:
	for {
		select {
		case ev := <-events:
			if ev.Type == statebus.EventPassComplete {
				sawComplete = true
				result = ev.Payload["result"].(statebus.CaptureResult)
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for pass_complete")
		}
	}
	<-done

	if !sawComplete {
		t.Fatal("expected a pass_complete event")
	}
	if !result.Success {
		t.Fatalf("expected a simulated capture to report success, got %+v", result)
	}
	if len(result.ImagePaths) == 0 {
		t.Fatal("expected at least one simulated image path")
	}

	state := bus.GetState()
	if state.Status != statebus.StatusIdle {
		t.Fatalf("expected status idle after a simulated pass, got %s", state.Status)
	}

	if r.passIndex != 1 {
		t.Fatalf("expected passIndex to advance by one, got %d", r.passIndex)
	}
	second := r.nextSatellite()
	if second.Name == catalog[0].Name && len(catalog) > 1 {
		t.Fatalf("expected the next simulated satellite to differ from the first when catalog has >1 entry")
	}
}
