package recorder

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/satellite"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRecordPassSimulateWritesValidWAV(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Receiver
	cfg.RecordingsDir = dir

	arb := arbiter.New()
	r := New(arb, cfg, testLogger(), true)

	sat := satellite.Satellite{
		Name: "ISS", CatalogID: 25544, FreqHz: 145800000,
		Kind: satellite.SignalSSTV, SampleRate: 48000, Demod: satellite.DemodFM, Enabled: true,
	}

	path, err := r.RecordPass(context.Background(), sat, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("RecordPass: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() < 44 {
		t.Fatalf("expected at least a WAV header, got %d bytes", info.Size())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic: %q %q", b[0:4], b[8:12])
	}

	state, _ := arb.State()
	if state != arbiter.StateFree {
		t.Fatalf("expected arbiter Free after RecordPass, got %s", state)
	}
}

func TestRecordPassFilenamePolicy(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Receiver
	cfg.RecordingsDir = dir

	r := New(arbiter.New(), cfg, testLogger(), true)
	sat := satellite.Satellite{Name: "METEOR-M2 3", SampleRate: 1024000, Kind: satellite.SignalLRPT, Demod: satellite.DemodBasebandIQ, Enabled: true}

	path, err := r.RecordPass(context.Background(), sat, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("RecordPass: %v", err)
	}

	base := path[len(dir)+1:]
	if len(base) < len("meteor-m2-3_20060102T150405Z.wav") {
		t.Fatalf("filename %q doesn't look like <slug>_<timestamp>.wav", base)
	}
	if base[:12] != "meteor-m2-3_" {
		t.Fatalf("expected slug prefix meteor-m2-3_, got %q", base)
	}
}

// TestRecordPassReportsProducerDiedWhenSubprocessExitsEarly verifies that a
// source subprocess exiting on its own, long before the requested
// duration elapses, is reported as a failed RecordPass instead of a
// successful capture with the arbiter lease silently released underneath.
func TestRecordPassReportsProducerDiedWhenSubprocessExitsEarly(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", "-c", "echo -n 'x'; exit 1")
	}

	dir := t.TempDir()
	cfg := config.Default().Receiver
	cfg.RecordingsDir = dir

	arb := arbiter.New()
	r := New(arb, cfg, testLogger(), false)

	sat := satellite.Satellite{
		Name: "ISS", CatalogID: 25544, FreqHz: 145800000,
		Kind: satellite.SignalSSTV, SampleRate: 48000, Demod: satellite.DemodFM, Enabled: true,
	}

	_, err := r.RecordPass(context.Background(), sat, 2*time.Second, nil)
	if err == nil {
		t.Fatal("expected RecordPass to report an error when the source exits early")
	}
	if !errors.Is(err, ErrProducerDied) {
		t.Fatalf("expected an ErrProducerDied-wrapped error, got %v", err)
	}

	state, _ := arb.State()
	if state != arbiter.StateFree {
		t.Fatalf("expected the lease to still be released on failure, got %s", state)
	}
}

func TestDCBlockFIR9RemovesOffset(t *testing.T) {
	f := newDCBlockFIR9()
	raw := make([]byte, 20)
	for i := 0; i < 10; i++ {
		sampleLE(raw, i, 1000) // constant DC offset, no AC content
	}
	out := f.apply(raw)
	// After the filter fills (9 taps), output should trend toward zero for
	// a constant input.
	last := int16(out[18]) | int16(out[19])<<8
	if last > 200 || last < -200 {
		t.Fatalf("expected near-zero output for constant input, got %d", last)
	}
}

func sampleLE(buf []byte, i int, v int16) {
	buf[i*2] = byte(v)
	buf[i*2+1] = byte(v >> 8)
}
