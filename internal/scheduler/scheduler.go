// Package scheduler implements the predict-wait-capture loop: given a list
// of predicted passes, wait for each, capture it, and publish results. It is
// the glue between Predict, the Arbiter, the Recorder, FftStream,
// SstvScanner, and the decoders.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/fftstream"
	"github.com/milesburton/night-watch/internal/lrpt"
	"github.com/milesburton/night-watch/internal/metrics"
	"github.com/milesburton/night-watch/internal/predict"
	"github.com/milesburton/night-watch/internal/recorder"
	"github.com/milesburton/night-watch/internal/satellite"
	"github.com/milesburton/night-watch/internal/sstv"
	"github.com/milesburton/night-watch/internal/statebus"
	"github.com/milesburton/night-watch/internal/ws"
)

// Store persists capture results. A failure to persist is logged, never
// fatal.
type Store interface {
	SaveCapture(statebus.CaptureResult) error
}

// Command represents an external command sent to the scheduler via its
// Commands channel: trigger, tle_refresh, pause, resume, skip, cancel.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK                bool   `json:"ok"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	SatellitesUpdated int    `json:"satellites_updated,omitempty"`
}

// Runner owns the predict-wait-capture loop.
type Runner struct {
	bus  *statebus.Bus
	hub  *ws.Hub
	cfg  config.Config
	log  *log.Logger

	predictor *predict.Predictor
	arb       *arbiter.Arbiter
	rec       *recorder.Recorder
	fft       *fftstream.FftStream
	scanner   *sstv.Scanner
	lrptDec   *lrpt.Decoder
	store     Store

	// Commands receives external commands from HTTP handlers. A dedicated
	// goroutine drains it for the lifetime of Run, so cancel/pause/resume
	// take effect even while a capture is in progress, not only during
	// wait periods.
	Commands chan Command

	// wake is nudged by handleCommand after every command, so any
	// sleepOrWake in progress (waiting for AOS, waiting for the next TLE
	// refresh) wakes up immediately instead of riding out its timer.
	wake chan struct{}

	paused atomic.Bool

	captureMu     sync.Mutex
	captureCancel context.CancelFunc
}

// New creates a scheduler wired to the given shared components. All of arb,
// rec, fft, scanner, lrptDec, and store are singletons also used elsewhere
// (HTTP handlers, FftStream subscribers); predictor is owned exclusively by
// the scheduler.
func New(bus *statebus.Bus, hub *ws.Hub, cfg config.Config, logger *log.Logger,
	arb *arbiter.Arbiter, rec *recorder.Recorder, fft *fftstream.FftStream,
	scanner *sstv.Scanner, lrptDec *lrpt.Decoder, store Store) *Runner {
	return &Runner{
		bus:       bus,
		hub:       hub,
		cfg:       cfg,
		log:       logger,
		predictor: predict.NewPredictor(hub, cfg, logger),
		arb:       arb,
		rec:       rec,
		fft:       fft,
		scanner:   scanner,
		lrptDec:   lrptDec,
		store:     store,
		Commands:  make(chan Command, 4),
		wake:      make(chan struct{}, 1),
	}
}

// commandLoop drains Commands for the lifetime of ctx. It runs concurrently
// with the rest of Run, so a cancel command reaches handleCancel even while
// a capture is in progress, when sleepOrWake isn't the one listening.
func (r *Runner) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.Commands:
			r.handleCommand(ctx, cmd)
			select {
			case r.wake <- struct{}{}:
			default:
			}
		}
	}
}

// IsPaused reports whether the scheduler is paused.
func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

// StartCommandLoop runs commandLoop on its own, for callers that don't run
// the full predict-wait-capture loop but still need trigger/tle_refresh/
// pause/resume/skip/cancel to work over HTTP (service mode's demo.Runner
// drives SystemState instead of Run, but control commands go through the
// same Commands channel either way).
func (r *Runner) StartCommandLoop(ctx context.Context) {
	r.commandLoop(ctx)
}

// Run is the perpetual predict-wait-capture loop. It recomputes the pass
// list, hands it to RunScheduler, and repeats. Commands arriving on r.Commands
// are serviced by commandLoop on its own goroutine, at any point in the loop.
func (r *Runner) Run(ctx context.Context) {
	go r.commandLoop(ctx)
	r.broadcast(map[string]any{"type": "log", "level": "info", "message": "scheduler started"})

	for {
		if ctx.Err() != nil {
			return
		}

		if r.paused.Load() {
			r.bus.SetStatus(statebus.StatusIdle)
			r.broadcast(map[string]any{"type": "log", "level": "info", "message": "scheduler paused, waiting for resume"})
			if r.sleepOrWake(ctx, 365*24*time.Hour) == sleepCancelled {
				return
			}
			continue
		}

		passes, err := r.predictor.ComputePasses()
		if err != nil {
			r.broadcast(map[string]any{"type": "log", "level": "error", "message": "prediction failed: " + err.Error()})
			if r.sleepOrWake(ctx, 5*time.Minute) == sleepCancelled {
				return
			}
			continue
		}

		now := time.Now().UTC()
		var upcoming []predict.Pass
		for _, p := range passes {
			if p.LOS.After(now) {
				upcoming = append(upcoming, p)
			}
		}
		r.bus.SetUpcomingPasses(toPassInfos(upcoming))

		if len(upcoming) == 0 {
			r.broadcast(map[string]any{"type": "log", "level": "info", "message": "no upcoming passes, will recompute later"})
			refresh := time.Duration(r.cfg.Predict.TLERefreshHours) * time.Hour
			if r.sleepOrWake(ctx, refresh) == sleepCancelled {
				return
			}
			continue
		}

		r.RunScheduler(ctx, upcoming)
	}
}

// RunScheduler skips any pass whose LOS is in the past, then processes the
// remainder sequentially, never in parallel. A capture failure does not
// abort the list; the next pass is still attempted. Passes sharing an AOS were already tie-broken by
// input order in Predictor.ComputePasses, and that order is preserved here.
func (r *Runner) RunScheduler(ctx context.Context, passes []predict.Pass) []statebus.CaptureResult {
	var results []statebus.CaptureResult
	remaining := append([]predict.Pass(nil), passes...)

	for i, pass := range passes {
		if ctx.Err() != nil {
			return results
		}
		if pass.LOS.Before(time.Now().UTC()) {
			remaining = remaining[1:]
			continue
		}
		if r.paused.Load() {
			break
		}

		if !r.waitForPass(ctx, pass) {
			if ctx.Err() != nil {
				return results
			}
			break
		}

		result := r.capturePass(ctx, pass)
		results = append(results, result)

		if i+1 < len(remaining) {
			remaining = remaining[1:]
		} else {
			remaining = nil
		}
		r.bus.SetUpcomingPasses(toPassInfos(remaining))

		r.bus.SetStatus(statebus.StatusIdle)
	}

	return results
}

// waitForPass waits until AOS for pass, or returns early. Returns false if
// interrupted by context cancellation or by a pause command; other commands
// wake the poll early but the wait continues.
func (r *Runner) waitForPass(ctx context.Context, pass predict.Pass) bool {
	now := time.Now().UTC()
	if !pass.AOS.After(now) {
		return true
	}

	r.bus.SetStatus(statebus.StatusWaiting)

	remaining := pass.AOS.Sub(now)
	idleThreshold := time.Duration(r.cfg.SSTV.IdleThresholdSec) * time.Second
	safetyMargin := time.Duration(r.cfg.SSTV.SafetyMarginSec) * time.Second
	leadTime := time.Duration(r.cfg.SSTV.PrePassLeadSec) * time.Second

	scanDone := make(chan struct{})
	scanStarted := false
	if r.cfg.SSTV.Enabled && remaining >= idleThreshold && !r.scanner.IsRunning() {
		scanStarted = true
		scanCtx, scanCancel := context.WithTimeout(ctx, remaining-safetyMargin)
		go func() {
			defer close(scanDone)
			defer scanCancel()
			r.runScanAndCaptureIfDetected(scanCtx)
		}()
	} else {
		close(scanDone)
	}

	deadline := pass.AOS.Add(-leadTime)
	for {
		now = time.Now().UTC()
		if now.After(deadline) || now.Equal(deadline) {
			break
		}
		wait := deadline.Sub(now)
		const pollInterval = 30 * time.Second
		if wait > pollInterval {
			wait = pollInterval
		}
		result := r.sleepOrWake(ctx, wait)
		if result == sleepCancelled || (result == sleepInterrupted && r.paused.Load()) {
			if scanStarted {
				r.scanner.Stop()
				<-scanDone
			}
			return false
		}
	}

	if scanStarted {
		r.scanner.Stop()
		<-scanDone
	}
	return true
}

// runScanAndCaptureIfDetected drives one opportunistic SstvScanner sweep
// during an idle wait window; on detection it records the 150s ground-SSTV
// capture in place, sharing the arbiter the same way
// a scheduled pass capture would.
func (r *Runner) runScanAndCaptureIfDetected(ctx context.Context) {
	cfg := sstv.ScanConfig{
		FrequenciesHz:     r.cfg.SSTV.ScanFrequenciesHz,
		DwellSec:          r.cfg.SSTV.DwellSec,
		BandHalfWidthHz:   r.cfg.SSTV.BandHalfWidthHz,
		MinSignalStrength: r.cfg.Receiver.MinSignalStrength,
	}

	r.bus.SetStatus(statebus.StatusScanning)
	result, err := r.scanner.Scan(ctx, cfg)
	r.bus.SetScanningFrequency(nil, "")

	if err != nil || result == nil {
		metrics.SSTVScansTotal.WithLabelValues(strconv.FormatBool(false)).Inc()
		return
	}
	metrics.SSTVScansTotal.WithLabelValues(strconv.FormatBool(true)).Inc()

	r.broadcast(map[string]any{
		"type": "log", "level": "info",
		"message": fmt.Sprintf("ground SSTV detected at %d Hz (%.1f dB), capturing", result.FreqHz, result.PeakDB),
	})

	groundSat := satellite.Satellite{
		Name: fmt.Sprintf("ground-sstv-%d", result.FreqHz), CatalogID: 0,
		FreqHz: result.FreqHz, Kind: satellite.SignalSSTV,
		Bandwidth: r.cfg.SSTV.BandHalfWidthHz * 2, SampleRate: 48000,
		Demod: satellite.DemodFM, Enabled: true,
	}
	duration := time.Duration(r.cfg.SSTV.RecordDurationSec) * time.Second

	r.capture(ctx, groundSat, duration, nil)
}

// CaptureSSTVManual drives an on-demand SSTV capture at an arbitrary
// frequency, independent of the pass schedule — the POST /api/sstv/capture
// endpoint. The virtual satellite is named "Manual <freq in MHz> MHz" to
// distinguish it in the capture log from both scheduled and opportunistic
// ground-scan captures.
func (r *Runner) CaptureSSTVManual(ctx context.Context, freqHz int, durationSec int) statebus.CaptureResult {
	sat := satellite.Satellite{
		Name: fmt.Sprintf("Manual %.3f MHz", float64(freqHz)/1e6),
		FreqHz: freqHz, Kind: satellite.SignalSSTV,
		Bandwidth: r.cfg.SSTV.BandHalfWidthHz * 2, SampleRate: 48000,
		Demod: satellite.DemodFM, Enabled: true,
	}
	return r.capture(ctx, sat, time.Duration(durationSec)*time.Second, nil)
}

// capturePass runs the capture for a scheduled, predicted
// pass.
func (r *Runner) capturePass(ctx context.Context, pass predict.Pass) statebus.CaptureResult {
	info := statebus.PassInfo{
		Satellite: pass.Satellite.Name, CatalogID: pass.Satellite.CatalogID,
		FreqHz: pass.Satellite.FreqHz, AOS: pass.AOS, LOS: pass.LOS, MaxElevDeg: pass.MaxElev,
	}
	return r.capture(ctx, pass.Satellite, pass.LOS.Sub(pass.AOS), &info)
}

// capture is the shared core of a scheduled pass capture and an opportunistic
// ground-SSTV capture: stop FftStream, verify signal, record, decode,
// persist, broadcast. passInfo is nil for ad hoc ground-SSTV captures (there
// is no predicted pass to announce).
func (r *Runner) capture(ctx context.Context, sat satellite.Satellite, duration time.Duration, passInfo *statebus.PassInfo) statebus.CaptureResult {
	if r.fft.IsRunning() {
		r.fft.Stop()
	}
	select {
	case <-time.After(1 * time.Second):
	case <-ctx.Done():
	}

	startTime := time.Now().UTC()

	if !r.cfg.Receiver.SkipSignalCheck {
		peak, err := r.fft.SampleSpectrumAt(sat.FreqHz, sat.Bandwidth/2)
		if err != nil {
			r.log.Printf("scheduler: signal check for %s failed: %v", sat.Name, err)
		}
		if err == nil && peak <= r.cfg.Receiver.MinSignalStrength {
			result := statebus.CaptureResult{
				Satellite: sat.Name, StartTime: startTime, EndTime: time.Now().UTC(),
				Success: false, Error: "signal_too_weak",
			}
			r.log.Printf("scheduler: %s too weak (%.1f dB <= %.1f dB threshold)", sat.Name, peak, r.cfg.Receiver.MinSignalStrength)
			return result
		}
	}

	if passInfo != nil {
		r.bus.StartPass(*passInfo)
	} else {
		r.bus.SetStatus(statebus.StatusCapturing)
	}
	r.broadcast(map[string]any{"type": "start_pass", "satellite": sat.Name, "freq_hz": sat.FreqHz})

	captureCtx, cancel := context.WithCancel(ctx)
	r.captureMu.Lock()
	r.captureCancel = cancel
	r.captureMu.Unlock()

	wavPath, err := r.rec.RecordPass(captureCtx, sat, duration, func(percent float64, elapsed, total time.Duration) {
		r.bus.UpdateProgress(percent, elapsed, total)
	})

	cancel()
	r.captureMu.Lock()
	r.captureCancel = nil
	r.captureMu.Unlock()

	if err != nil {
		result := statebus.CaptureResult{
			Satellite: sat.Name, StartTime: startTime, EndTime: time.Now().UTC(),
			Success: false, Error: err.Error(),
		}
		r.finishCapture(result)
		return result
	}

	r.bus.SetStatus(statebus.StatusDecoding)
	imagePaths, peakDB := r.decode(ctx, sat, wavPath)

	result := statebus.CaptureResult{
		Satellite: sat.Name, RecordingPath: wavPath, ImagePaths: imagePaths,
		StartTime: startTime, EndTime: time.Now().UTC(), PeakSignalDB: peakDB,
		Success: len(imagePaths) > 0,
	}
	if len(imagePaths) == 0 {
		result.Error = "decode_failed"
	}

	r.finishCapture(result)
	return result
}

// decode invokes the decoder matching sat's signal kind (the final step
// 2: "invoke the correct decoder for the signal kind").
func (r *Runner) decode(ctx context.Context, sat satellite.Satellite, wavPath string) ([]string, float64) {
	switch sat.Kind {
	case satellite.SignalSSTV:
		data, err := os.ReadFile(wavPath)
		if err != nil {
			r.log.Printf("scheduler: read %s: %v", wavPath, err)
			return nil, 0
		}
		dr, err := sstv.Decode(data)
		if err != nil {
			r.log.Printf("scheduler: sstv decode %s: %v", wavPath, err)
			return nil, 0
		}
		pngName := strings.TrimSuffix(filepath.Base(wavPath), ".wav") + ".png"
		pngPath := filepath.Join(r.cfg.Receiver.ImagesDir, pngName)
		if err := os.WriteFile(pngPath, dr.PNG, 0o644); err != nil {
			r.log.Printf("scheduler: write %s: %v", pngPath, err)
			return nil, dr.Diagnostics.Brightness
		}
		return []string{pngPath}, dr.Diagnostics.Brightness

	case satellite.SignalLRPT:
		images, err := r.lrptDec.Decode(ctx, wavPath, r.cfg.Receiver.ImagesDir)
		if err != nil {
			r.log.Printf("scheduler: lrpt decode %s: %v", wavPath, err)
			return nil, 0
		}
		return images, 0

	default:
		return nil, 0
	}
}

func (r *Runner) finishCapture(result statebus.CaptureResult) {
	metrics.CapturesTotal.WithLabelValues(result.Satellite, strconv.FormatBool(result.Success)).Inc()
	metrics.CaptureDurationSeconds.WithLabelValues(result.Satellite).Observe(result.EndTime.Sub(result.StartTime).Seconds())

	if r.store != nil {
		if err := r.store.SaveCapture(result); err != nil {
			r.log.Printf("scheduler: persist capture result: %v", err)
		}
	}
	r.bus.CompletePass(result)
	r.broadcast(map[string]any{
		"type": "complete_pass", "satellite": result.Satellite, "success": result.Success,
		"error": result.Error, "image_paths": result.ImagePaths,
	})
}

// sleepResult indicates what ended a sleep period.
type sleepResult int

const (
	sleepCompleted   sleepResult = iota
	sleepCancelled
	sleepInterrupted
)

// sleepOrWake blocks for duration d, until ctx is cancelled, or until
// commandLoop nudges r.wake after servicing a command (pause/resume/skip/
// cancel all need a wait-in-progress to notice them promptly).
func (r *Runner) sleepOrWake(ctx context.Context, d time.Duration) sleepResult {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return sleepCancelled
	case <-t.C:
		return sleepCompleted
	case <-r.wake:
		return sleepInterrupted
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case "trigger":
		r.handleTrigger(ctx, cmd)
	case "tle_refresh":
		r.handleTLERefresh(cmd)
	case "pause":
		r.handlePause(cmd)
	case "resume":
		r.handleResume(cmd)
	case "skip":
		r.handleSkip(cmd)
	case "cancel":
		r.handleCancel(cmd)
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type}
	}
}

func (r *Runner) handleTrigger(ctx context.Context, cmd Command) {
	var payload struct {
		CatalogID       int `json:"catalog_id"`
		DurationSeconds int `json:"duration_seconds"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
		return
	}

	sat := satellite.ByCatalogID(r.cfg.Satellite, payload.CatalogID)
	if sat == nil {
		cmd.Reply <- CommandResult{OK: false, Error: fmt.Sprintf("unknown catalog id: %d", payload.CatalogID)}
		return
	}

	dur := time.Duration(payload.DurationSeconds) * time.Second
	cmd.Reply <- CommandResult{OK: true, Message: fmt.Sprintf("capture triggered for %s (%s)", sat.Name, dur.Truncate(time.Second))}

	go func() {
		r.capture(ctx, *sat, dur, nil)
		r.bus.SetStatus(statebus.StatusIdle)
	}()
}

func (r *Runner) handleTLERefresh(cmd Command) {
	n, err := r.predictor.ForceRefreshTLEs()
	if err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "TLE refresh failed: " + err.Error()}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "TLE data refreshed", SatellitesUpdated: n}
}

func (r *Runner) handlePause(cmd Command) {
	if r.paused.Swap(true) {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already paused"}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler paused"}
}

func (r *Runner) handleResume(cmd Command) {
	if !r.paused.Swap(false) {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already running"}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler resumed"}
}

func (r *Runner) handleSkip(cmd Command) {
	r.bus.CompletePass(statebus.CaptureResult{Success: false, Error: "skipped"})
	cmd.Reply <- CommandResult{OK: true, Message: "pass skipped, recomputing schedule"}
}

func (r *Runner) handleCancel(cmd Command) {
	r.captureMu.Lock()
	cancel := r.captureCancel
	r.captureMu.Unlock()

	if cancel == nil {
		cmd.Reply <- CommandResult{OK: false, Error: "no capture in progress"}
		return
	}
	cancel()
	cmd.Reply <- CommandResult{OK: true, Message: "capture cancelled"}
}

func (r *Runner) broadcast(v map[string]any) {
	v["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	v["component"] = "scheduler"
	r.hub.BroadcastJSON(v)
}

func toPassInfos(passes []predict.Pass) []statebus.PassInfo {
	out := make([]statebus.PassInfo, len(passes))
	for i, p := range passes {
		out[i] = statebus.PassInfo{
			Satellite: p.Satellite.Name, CatalogID: p.Satellite.CatalogID,
			FreqHz: p.Satellite.FreqHz, AOS: p.AOS, LOS: p.LOS, MaxElevDeg: p.MaxElev,
		}
	}
	return out
}
