package fftstream

import (
	"context"
	"errors"
	"io"
	"log"
	"os/exec"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/statebus"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// TestSubscribeDebounceStartsOnce verifies that rapid
// subscribe/unsubscribe churn within the debounce window collapses into a
// single reconciled decision instead of thrashing the Arbiter.
func TestSubscribeDebounceStartsOnce(t *testing.T) {
	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.Subscribe(ctx, nil)
	f.Unsubscribe(ctx)
	f.Subscribe(ctx, nil)

	if f.IsRunning() {
		t.Fatal("expected stream not running before debounce fires")
	}

	time.Sleep(subscribeDebounce + 200*time.Millisecond)

	if !f.IsRunning() {
		t.Fatal("expected stream running after debounce settles with a subscriber")
	}
}

// TestScanPolicyBlocksDuringCapture verifies that FftStream must not start
// while the system is capturing or decoding, and restarts automatically
// once status returns to idle if a subscriber is still waiting.
func TestScanPolicyBlocksDuringCapture(t *testing.T) {
	bus := statebus.New()
	bus.SetStatus(statebus.StatusCapturing)

	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.WatchStatus(ctx)

	if ok := f.Start(ctx); ok {
		t.Fatal("expected Start to return false while capturing")
	}

	f.Subscribe(ctx, nil)
	time.Sleep(subscribeDebounce + 200*time.Millisecond)
	if f.IsRunning() {
		t.Fatal("expected stream still blocked while capturing")
	}

	bus.SetStatus(statebus.StatusIdle)
	time.Sleep(200 * time.Millisecond)

	if !f.IsRunning() {
		t.Fatal("expected stream to auto-start once status returns to idle")
	}
}

// TestPeakPowerInBandFindsNotchedSuppression verifies notch CRUD actually
// suppresses reported power within the notched band.
func TestPeakPowerInBandFindsNotchedSuppression(t *testing.T) {
	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := f.AddNotch(145797000, 145803000)
	if !f.Start(ctx) {
		t.Fatal("expected Start to succeed while idle")
	}
	defer f.Stop()

	time.Sleep(100 * time.Millisecond)

	peak, err := f.GetPeakPowerInBand(4000)
	if err != nil {
		t.Fatalf("GetPeakPowerInBand: %v", err)
	}
	if peak > -100 {
		t.Fatalf("expected notched band to report suppressed power, got %f", peak)
	}

	f.SetNotchEnabled(id, false)
	time.Sleep(100 * time.Millisecond)
	peak, err = f.GetPeakPowerInBand(4000)
	if err != nil {
		t.Fatalf("GetPeakPowerInBand: %v", err)
	}
	if peak <= -100 {
		t.Fatalf("expected un-notched band to report carrier power, got %f", peak)
	}
}

// TestSampleSpectrumAtWorksWithoutStarting verifies SstvScanner's use case:
// reading a peak power reading at an arbitrary frequency without ever
// starting the producer (and therefore without touching the arbiter).
func TestSampleSpectrumAtWorksWithoutStarting(t *testing.T) {
	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 100000000, true)

	if f.IsRunning() {
		t.Fatal("stream should not be running")
	}

	id := f.AddNotch(145795000, 145805000)
	notched, err := f.SampleSpectrumAt(145800000, 4000)
	if err != nil {
		t.Fatalf("SampleSpectrumAt: %v", err)
	}
	if notched > -100 {
		t.Fatalf("expected notched frequency to read suppressed, got %f", notched)
	}

	f.SetNotchEnabled(id, false)
	clear, err := f.SampleSpectrumAt(145800000, 4000)
	if err != nil {
		t.Fatalf("SampleSpectrumAt: %v", err)
	}
	if clear <= -100 {
		t.Fatalf("expected un-notched frequency to read carrier power, got %f", clear)
	}

	if f.IsRunning() {
		t.Fatal("stream still should not be running; SampleSpectrumAt must not start the producer")
	}
}

// TestParseRTLPowerRowParsesBinsAndTimestamp verifies the rtl_power CSV
// sweep row shape: 6 fixed columns then one dB reading per bin.
func TestParseRTLPowerRowParsesBinsAndTimestamp(t *testing.T) {
	row := "2026-08-06, 03:14:07, 145798000, 145802000, 1000, 4, -91.2, -88.5, -90.0, -95.1"

	slice, err := parseRTLPowerRow(row)
	if err != nil {
		t.Fatalf("parseRTLPowerRow: %v", err)
	}
	if len(slice.Bins) != 4 {
		t.Fatalf("expected 4 bins, got %d", len(slice.Bins))
	}
	if slice.Bins[0].FreqHz != 145798000 || slice.Bins[0].PowerDB != -91.2 {
		t.Errorf("unexpected first bin: %+v", slice.Bins[0])
	}
	if slice.Bins[3].FreqHz != 145801000 || slice.Bins[3].PowerDB != -95.1 {
		t.Errorf("unexpected last bin: %+v", slice.Bins[3])
	}
	if slice.CenterFreqHz != 145800000 {
		t.Errorf("expected center freq 145800000, got %d", slice.CenterFreqHz)
	}
}

func TestParseRTLPowerRowRejectsShortRows(t *testing.T) {
	if _, err := parseRTLPowerRow("2026-08-06, 03:14:07, 145798000"); err == nil {
		t.Fatal("expected an error for a row with too few columns")
	}
}

// TestProduceLiveParsesSweepFromSubprocess verifies the live producer spawns
// rtl_power (via buildCommand) and turns its CSV sweep output into Slices,
// the same way TestDecodeParsesImagePathsFromStdout stubs the LRPT decoder.
func TestProduceLiveParsesSweepFromSubprocess(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", "-c",
			`echo "2026-08-06, 03:14:07, 145798000, 145802000, 1000, 4, -91.2, -88.5, -90.0, -95.1"`)
	}

	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, false)

	if !f.Start(context.Background()) {
		t.Fatal("expected Start to succeed while idle")
	}
	defer f.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for f.GetLatestFFTData() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	slice := f.GetLatestFFTData()
	if slice == nil {
		t.Fatal("expected a slice parsed from the stubbed rtl_power output")
	}
	if len(slice.Bins) != 4 {
		t.Fatalf("expected 4 bins, got %d", len(slice.Bins))
	}
}

// TestSampleSpectrumAtLiveModeRunsOneShotSweep verifies the live branch of
// SampleSpectrumAt runs a single-shot rtl_power sweep instead of
// synthesizing a reading.
func TestSampleSpectrumAtLiveModeRunsOneShotSweep(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", "-c",
			`echo "2026-08-06, 03:14:07, 145798000, 145802000, 1000, 4, -91.2, -88.5, -90.0, -95.1"`)
	}

	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, false)

	peak, err := f.SampleSpectrumAt(145800000, 4000)
	if err != nil {
		t.Fatalf("SampleSpectrumAt: %v", err)
	}
	if peak != -88.5 {
		t.Fatalf("expected peak -88.5 from stubbed sweep, got %f", peak)
	}
}

// TestProduceLiveMarksRunningFalseWhenSubprocessDies verifies that an
// rtl_power subprocess exiting with an error on its own (not via
// Stop/Preempt) force-releases the lease and surfaces the failure through
// GetError, instead of leaving the lease held forever by an abandoned
// producer goroutine with subscribers silently seeing no more slices.
func TestProduceLiveMarksRunningFalseWhenSubprocessDies(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", "-c", "echo -n 'x'; exit 1")
	}

	bus := statebus.New()
	arb := arbiter.New()
	f := New(arb, bus, testLogger(), 145800000, false)

	if !f.Start(context.Background()) {
		t.Fatal("expected Start to succeed while idle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if f.IsRunning() {
		t.Fatal("expected IsRunning to go false once the subprocess died")
	}
	if err := f.GetError(); !errors.Is(err, ErrProducerDied) {
		t.Fatalf("expected GetError to report ErrProducerDied, got %v", err)
	}

	state, _ := arb.State()
	if state != arbiter.StateFree {
		t.Fatalf("expected the lease to be force-released, got %s", state)
	}
}
