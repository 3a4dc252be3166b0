// Package sstv implements the SstvScanner (opportunistic ground-SSTV
// detection during idle windows) and the SstvDecoder (WAV-to-image
// decoding). Grounded on the upstream scheduler's cooperative-cancellation
// idiom (sleepOrCommand) for the dwell loop.
package sstv

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
)

// ScanConfig configures a single scan_for_sstv invocation.
type ScanConfig struct {
	FrequenciesHz     []int
	DwellSec          int
	BandHalfWidthHz   int
	MinSignalStrength float64
}

// ScanResult is returned when a dwell frequency exceeds the threshold.
type ScanResult struct {
	FreqHz   int
	PeakDB   float64
	DwellEnd time.Time
}

// peakPowerFunc samples the instantaneous peak power in a band around a
// frequency; FftStream.SampleSpectrumAt or a hardware-specific reader
// satisfies this.
type peakPowerFunc func(freqHz, bandHalfWidthHz int) (float64, error)

// fftRetune moves the shared spectrum source to a new center frequency
// before sampling it (the scanner and FftStream compete for the same
// spectrum source, not just the same Arbiter lease).
type fftRetune func(freqHz int)

// Scanner implements the dwell-and-listen sweep. Only one scan may run at
// a time; a concurrent call to Scan returns nil immediately.
type Scanner struct {
	arb      *arbiter.Arbiter
	log      *log.Logger
	peak     peakPowerFunc
	retune   fftRetune

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a Scanner. peak samples the current peak power in a band;
// retune moves the underlying spectrum source before each dwell.
func New(arb *arbiter.Arbiter, logger *log.Logger, peak peakPowerFunc, retune fftRetune) *Scanner {
	return &Scanner{arb: arb, log: logger, peak: peak, retune: retune}
}

// Terminate implements arbiter.Killer: ask the dwell loop to stop early.
func (s *Scanner) Terminate() error {
	s.Stop()
	return nil
}

// Kill implements arbiter.Killer: the scanner has no subprocess, a
// cooperative Stop is all that's available.
func (s *Scanner) Kill() error {
	s.Stop()
	return nil
}

// Stop requests the running scan to end after its current dwell step.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.stopCh != nil {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
	}
}

// IsRunning reports whether a scan is currently in progress.
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Scan sweeps cfg.FrequenciesHz, dwelling on each for up to cfg.DwellSec,
// sampling peak power every 500ms. The first frequency whose peak power
// strictly exceeds cfg.MinSignalStrength (no fudge factor — the Open
// Question decision recorded in DESIGN.md) ends the scan with a
// ScanResult. If nothing exceeds threshold across every frequency, it
// returns nil, nil. A concurrent call while a scan is already running also
// returns nil, nil.
func (s *Scanner) Scan(ctx context.Context, cfg ScanConfig) (*ScanResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	lease, err := s.arb.Acquire(ctx, "sstv-scanner", s, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("sstv scan: acquire device: %w", err)
	}
	defer lease.Release()

	dwell := time.Duration(cfg.DwellSec) * time.Second
	if dwell <= 0 {
		dwell = 20 * time.Second
	}

	for _, freq := range cfg.FrequenciesHz {
		result, err := s.dwell(ctx, freq, dwell, cfg.BandHalfWidthHz, cfg.MinSignalStrength)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		select {
		case <-s.stopCh:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	return nil, nil
}

// dwell samples peak power on freq every 500ms for up to duration, and
// returns as soon as the strict threshold is exceeded.
func (s *Scanner) dwell(ctx context.Context, freqHz int, duration time.Duration, bandHalfWidthHz int, threshold float64) (*ScanResult, error) {
	if s.retune != nil {
		s.retune(freqHz)
	}

	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stopCh:
			return nil, nil
		case <-ticker.C:
			peak, err := s.peak(freqHz, bandHalfWidthHz)
			if err == nil && peak > threshold {
				return &ScanResult{FreqHz: freqHz, PeakDB: peak, DwellEnd: time.Now()}, nil
			}
			if time.Now().After(deadline) {
				return nil, nil
			}
		}
	}
}
