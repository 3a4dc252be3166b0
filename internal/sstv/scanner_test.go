package sstv

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// TestScanStrictThresholdNoFudge verifies that the scanner uses
// a strict greater-than comparison against min_signal_strength, with no
// -5 dB fudge factor. A peak exactly at threshold must NOT trigger.
func TestScanStrictThresholdNoFudge(t *testing.T) {
	const threshold = -35.0
	peak := func(freqHz, bandHalfWidthHz int) (float64, error) { return threshold, nil }

	arb := arbiter.New()
	s := New(arb, testLogger(), peak, nil)

	cfg := ScanConfig{FrequenciesHz: []int{145800000}, DwellSec: 1, BandHalfWidthHz: 5000, MinSignalStrength: threshold}
	result, err := s.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no detection at exactly threshold, got %+v", result)
	}
}

// TestScanDetectsAboveThreshold verifies that a peak power strictly
// above threshold ends the scan with a result naming that frequency.
func TestScanDetectsAboveThreshold(t *testing.T) {
	const threshold = -35.0
	peak := func(freqHz, bandHalfWidthHz int) (float64, error) {
		if freqHz == 145800000 {
			return threshold + 0.1, nil
		}
		return -90, nil
	}

	arb := arbiter.New()
	s := New(arb, testLogger(), peak, nil)

	cfg := ScanConfig{FrequenciesHz: []int{437500000, 145800000}, DwellSec: 1, BandHalfWidthHz: 5000, MinSignalStrength: threshold}
	result, err := s.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result == nil {
		t.Fatal("expected a detection")
	}
	if result.FreqHz != 145800000 {
		t.Fatalf("expected detection on 145800000, got %d", result.FreqHz)
	}
}

// TestScanSingletonReturnsNilWhenBusy verifies a concurrent Scan call while
// one is already running returns nil, nil rather than blocking or erroring.
func TestScanSingletonReturnsNilWhenBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	peak := func(freqHz, bandHalfWidthHz int) (float64, error) {
		once.Do(func() { close(started) })
		<-release
		return -90, nil
	}

	arb := arbiter.New()
	s := New(arb, testLogger(), peak, nil)
	cfg := ScanConfig{FrequenciesHz: []int{145800000}, DwellSec: 5, BandHalfWidthHz: 5000, MinSignalStrength: -35}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Scan(context.Background(), cfg)
	}()

	<-started

	result, err := s.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("concurrent Scan: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for concurrent scan, got %+v", result)
	}

	s.Stop()
	close(release)
	wg.Wait()
}

// TestScanCooperativeStop verifies Stop() ends the scan promptly rather
// than waiting out the full dwell.
func TestScanCooperativeStop(t *testing.T) {
	peak := func(freqHz, bandHalfWidthHz int) (float64, error) { return -90, nil }

	arb := arbiter.New()
	s := New(arb, testLogger(), peak, nil)
	cfg := ScanConfig{FrequenciesHz: []int{145800000}, DwellSec: 30, BandHalfWidthHz: 5000, MinSignalStrength: -35}

	done := make(chan struct{})
	go func() {
		_, _ = s.Scan(context.Background(), cfg)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Scan to return promptly after Stop")
	}
}
