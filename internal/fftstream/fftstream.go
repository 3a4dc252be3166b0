// Package fftstream implements FftStream: a live power spectrum feed for
// the web UI's waterfall display. It shares the Arbiter
// with Recorder and SstvScanner, debounces rapid subscribe/unsubscribe
// churn, and restarts automatically when the system returns to idle while
// clients are still watching. Grounded on the upstream capture runner's
// subprocess-producer idiom for the spectrum source, and on
// hb9tf-spectre's rtlsdr.Sweep/scanRow CSV parsing for the live producer.
package fftstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/metrics"
	"github.com/milesburton/night-watch/internal/statebus"
)

// ErrProducerDied wraps the error GetError reports when the live rtl_power
// subprocess exits on its own, before Stop/Preempt asked it to: the lease
// is force-released and running cleared so the next status poll surfaces
// the failure instead of subscribers silently going dark.
var ErrProducerDied = errors.New("fftstream: producer_died")

// buildCommand constructs the rtl_power exec.Cmd. Exposed as a variable so
// tests can substitute a stub binary, mirroring internal/recorder's
// buildCommand indirection.
var buildCommand = exec.Command

// rtlPowerBinHz is the bin width requested from rtl_power; fftSize bins of
// this width give the stream's total span.
const rtlPowerBinHz = 1000

// rtlPowerName is the subprocess rtl_power invokes for a live sweep.
const rtlPowerName = "rtl_power"

// fftSize is the fixed transform length.
const fftSize = 2048

// updateRateHz is the fixed slice emission rate.
const updateRateHz = 30.0

// subscribeDebounce absorbs rapid subscribe/unsubscribe toggling from
// reconnecting browser clients so the Arbiter isn't thrashed.
const subscribeDebounce = 500 * time.Millisecond

// Bin is one frequency bin of a power spectrum slice.
type Bin struct {
	FreqHz  int     `json:"freq_hz"`
	PowerDB float64 `json:"power_db"`
}

// Slice is a single FFT update, matching the fft_slice payload.
type Slice struct {
	CenterFreqHz int       `json:"center_freq_hz"`
	Bins         []Bin     `json:"bins"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notch marks a frequency band to suppress from the reported spectrum
// (e.g. a known local birdie).
type Notch struct {
	ID      string `json:"id"`
	LowHz   int    `json:"low_hz"`
	HighHz  int    `json:"high_hz"`
	Enabled bool   `json:"enabled"`
}

// Config is FftStream's fixed operating parameters.
type Config struct {
	FFTSize      int     `json:"fft_size"`
	UpdateRateHz float64 `json:"update_rate_hz"`
	CenterFreqHz int     `json:"center_freq_hz"`
}

// Callback receives every slice produced while the stream is running.
type Callback func(Slice)

// FftStream produces a live power spectrum centered on a configurable
// frequency, gated by system status and the number of interested
// subscribers.
type FftStream struct {
	arb      *arbiter.Arbiter
	bus      *statebus.Bus
	log      *log.Logger
	simulate bool

	mu            sync.Mutex
	centerFreqHz  int
	subscriberN   int
	running       bool
	lease         *arbiter.Lease
	cancelProducer context.CancelFunc
	cmd           *exec.Cmd
	callback      Callback
	latest        *Slice
	lastErr       error
	notches       map[string]Notch
	notchSeq      int
	debounceTimer *time.Timer
}

// New creates an FftStream bound to the shared Arbiter and StateBus.
// centerFreqHz is the spectrum center; it can be changed later via Retune.
// When simulate is true, the producer synthesizes a smooth noise floor
// instead of spawning rtl_power, mirroring Recorder's bench/demo mode.
func New(arb *arbiter.Arbiter, bus *statebus.Bus, logger *log.Logger, centerFreqHz int, simulate bool) *FftStream {
	f := &FftStream{
		arb:          arb,
		bus:          bus,
		log:          logger,
		simulate:     simulate,
		centerFreqHz: centerFreqHz,
		notches:      make(map[string]Notch),
	}
	return f
}

// WatchStatus subscribes to the StateBus and auto-restarts the stream when
// status returns to idle while subscribers are still present. It also
// enforces the scan-policy requirement that FftStream never runs during a
// capture.
func (f *FftStream) WatchStatus(ctx context.Context) {
	events, unsubscribe := f.bus.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type != statebus.EventStatusChange {
					continue
				}
				f.reconcile(ctx)
			}
		}
	}()
}

// Subscribe registers interest in the stream and debounces the resulting
// start decision.
func (f *FftStream) Subscribe(ctx context.Context, cb Callback) {
	f.mu.Lock()
	f.subscriberN++
	n := f.subscriberN
	f.callback = cb
	f.mu.Unlock()
	metrics.FFTSubscribersGauge.Set(float64(n))
	f.scheduleReconcile(ctx)
}

// Unsubscribe removes one subscriber. Subscribe/Unsubscribe are idempotent
// with respect to the debounce: toggling rapidly cancels the pending
// decision and reschedules it.
func (f *FftStream) Unsubscribe(ctx context.Context) {
	f.mu.Lock()
	if f.subscriberN > 0 {
		f.subscriberN--
	}
	n := f.subscriberN
	f.mu.Unlock()
	metrics.FFTSubscribersGauge.Set(float64(n))
	f.scheduleReconcile(ctx)
}

func (f *FftStream) scheduleReconcile(ctx context.Context) {
	f.mu.Lock()
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
	}
	f.debounceTimer = time.AfterFunc(subscribeDebounce, func() {
		f.reconcile(ctx)
	})
	f.mu.Unlock()
}

// reconcile starts or stops the producer to match subscriberN and status.
func (f *FftStream) reconcile(ctx context.Context) {
	f.mu.Lock()
	want := f.subscriberN > 0 && !f.blockedByStatusLocked()
	running := f.running
	f.mu.Unlock()

	switch {
	case want && !running:
		f.Start(ctx)
	case !want && running:
		f.Stop()
	}
}

func (f *FftStream) blockedByStatusLocked() bool {
	status := f.bus.GetState().Status
	return status == statebus.StatusCapturing || status == statebus.StatusDecoding
}

// Start acquires the "fft" lease and begins producing slices at
// updateRateHz. It returns false (without error) if blocked by system
// status.
func (f *FftStream) Start(ctx context.Context) bool {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return true
	}
	if f.blockedByStatusLocked() {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()

	lease, err := f.arb.Acquire(ctx, "fft", f, 5*time.Second)
	if err != nil {
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		return false
	}

	producerCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.running = true
	f.lease = lease
	f.cancelProducer = cancel
	f.lastErr = nil
	f.mu.Unlock()

	go f.produce(producerCtx)
	return true
}

// Stop halts the producer and releases the lease.
func (f *FftStream) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	cancel := f.cancelProducer
	lease := f.lease
	f.lease = nil
	f.cancelProducer = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if lease != nil {
		lease.Release()
	}
}

// Terminate implements arbiter.Killer: a graceful stop request. In live
// mode this signals rtl_power so produceLive's blocking scanner read
// returns; in simulate mode there is no subprocess and ctx cancellation
// (already requested by Stop) is enough.
func (f *FftStream) Terminate() error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

// Kill implements arbiter.Killer: force-kills rtl_power if Terminate didn't
// get it to exit within the Arbiter's grace period. A no-op in simulate
// mode, where there is no subprocess.
func (f *FftStream) Kill() error {
	f.mu.Lock()
	cmd := f.cmd
	f.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// produce runs the configured producer until ctx is cancelled: a real
// rtl_power sweep in live mode, or a synthesized spectrum in simulate mode.
// If the live producer returns before ctx is cancelled, rtl_power exited
// on its own: the lease is force-released and running cleared rather than
// left held forever by an abandoned goroutine.
func (f *FftStream) produce(ctx context.Context) {
	var err error
	if f.simulate {
		f.produceSimulated(ctx)
	} else {
		err = f.produceLive(ctx)
	}

	if ctx.Err() != nil {
		return
	}

	if err == nil {
		err = errors.New("producer exited unexpectedly")
	}

	f.mu.Lock()
	f.running = false
	lease := f.lease
	f.lease = nil
	f.cancelProducer = nil
	f.lastErr = fmt.Errorf("%w: %v", ErrProducerDied, err)
	died := f.lastErr
	f.mu.Unlock()

	if lease != nil {
		lease.Release()
	}
	f.log.Printf("fftstream: %v", died)
}

// produceSimulated emits synthetic slices at updateRateHz. The spectrum
// shape is a smooth noise floor plus the satellite's nominal carrier,
// sufficient to exercise notch filtering and peak-in-band queries without
// needing real hardware.
func (f *FftStream) produceSimulated(ctx context.Context) {
	rateHz := updateRateHz
	interval := time.Duration(float64(time.Second) / rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	half := fftSize / 2

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			center := f.centerFreqHz
			notches := make([]Notch, 0, len(f.notches))
			for _, n := range f.notches {
				notches = append(notches, n)
			}
			cb := f.callback
			f.mu.Unlock()

			bins := make([]Bin, fftSize)
			now := time.Now()
			for i := 0; i < fftSize; i++ {
				freq := center + (i-half)*rtlPowerBinHz
				db := -90.0 + 6.0*math.Exp(-math.Pow(float64(i-half)/40.0, 2))
				for _, n := range notches {
					if n.Enabled && freq >= n.LowHz && freq <= n.HighHz {
						db = -120.0
					}
				}
				bins[i] = Bin{FreqHz: freq, PowerDB: db}
			}

			slice := Slice{CenterFreqHz: center, Bins: bins, Timestamp: now}
			f.mu.Lock()
			f.latest = &slice
			f.mu.Unlock()

			if cb != nil {
				cb(slice)
			}
		}
	}
}

// produceLive spawns rtl_power over the configured span and parses its CSV
// sweep output into Slices, following hb9tf-spectre's rtlsdr.Sweep/scanRow
// pattern: one CSV row per sweep, six fixed columns (date, time, low Hz,
// high Hz, bin width, sample count) followed by one dB reading per bin. It
// returns nil if ctx was cancelled (a deliberate Stop or Preempt), or a
// non-nil error if rtl_power's stdout closed or it exited first.
func (f *FftStream) produceLive(ctx context.Context) error {
	f.mu.Lock()
	center := f.centerFreqHz
	f.mu.Unlock()

	span := fftSize * rtlPowerBinHz
	low := center - span/2
	high := center + span/2
	rateHz := updateRateHz
	integration := time.Duration(float64(time.Second) / rateHz)

	cmd := buildCommand(rtlPowerName,
		"-f", fmt.Sprintf("%d:%d:%d", low, high, rtlPowerBinHz),
		"-i", fmt.Sprintf("%.3f", integration.Seconds()),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		slice, err := parseRTLPowerRow(scanner.Text())
		if err != nil {
			f.log.Printf("fftstream: malformed rtl_power row: %v", err)
			continue
		}

		f.mu.Lock()
		notches := make([]Notch, 0, len(f.notches))
		for _, n := range f.notches {
			notches = append(notches, n)
		}
		cb := f.callback
		f.mu.Unlock()

		for i, bin := range slice.Bins {
			for _, n := range notches {
				if n.Enabled && bin.FreqHz >= n.LowHz && bin.FreqHz <= n.HighHz {
					slice.Bins[i].PowerDB = -120.0
				}
			}
		}

		f.mu.Lock()
		f.latest = &slice
		f.mu.Unlock()

		if cb != nil {
			cb(slice)
		}
	}

	diedEarly := ctx.Err() == nil
	scanErr := scanner.Err()
	waitErr := f.stopSubprocess(cmd)

	if !diedEarly {
		return nil
	}
	if scanErr != nil {
		return fmt.Errorf("rtl_power sweep ended: %w", scanErr)
	}
	if waitErr != nil {
		return fmt.Errorf("rtl_power exited: %w", waitErr)
	}
	return errors.New("rtl_power exited")
}

// stopSubprocess waits up to 3s for a terminated rtl_power to exit, then
// force-kills it, clears f.cmd so a subsequent Terminate/Kill is a no-op,
// and returns the exit error cmd.Wait() reported, if any.
func (f *FftStream) stopSubprocess(cmd *exec.Cmd) error {
	f.mu.Lock()
	f.cmd = nil
	f.mu.Unlock()

	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	return waitErr
}

// parseRTLPowerRow parses one rtl_power CSV sweep line into a Slice.
func parseRTLPowerRow(line string) (Slice, error) {
	cols := strings.Split(line, ", ")
	if len(cols) < 7 {
		return Slice{}, fmt.Errorf("expected at least 7 columns, got %d", len(cols))
	}

	freqLow, err := strconv.Atoi(cols[2])
	if err != nil {
		return Slice{}, fmt.Errorf("freq low: %w", err)
	}
	freqHigh, err := strconv.Atoi(cols[3])
	if err != nil {
		return Slice{}, fmt.Errorf("freq high: %w", err)
	}
	binWidth, err := strconv.Atoi(cols[4])
	if err != nil {
		return Slice{}, fmt.Errorf("bin width: %w", err)
	}

	numBins := len(cols) - 6
	bins := make([]Bin, numBins)
	for i := 0; i < numBins; i++ {
		db, err := strconv.ParseFloat(cols[6+i], 64)
		if err != nil {
			return Slice{}, fmt.Errorf("bin %d: %w", i, err)
		}
		bins[i] = Bin{FreqHz: freqLow + i*binWidth, PowerDB: db}
	}

	ts, err := time.Parse(time.RFC3339, cols[0]+"T"+cols[1]+"Z")
	if err != nil {
		ts = time.Now()
	}

	return Slice{CenterFreqHz: (freqLow + freqHigh) / 2, Bins: bins, Timestamp: ts}, nil
}

// GetLatestFFTData returns the most recent slice, or nil if the stream has
// never produced one.
func (f *FftStream) GetLatestFFTData() *Slice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// GetPeakPowerInBand returns the strongest bin within a band bandHzWidth
// wide, centered on the stream's center frequency, in the most recent
// slice. It returns an error
// if no slice has been produced yet.
func (f *FftStream) GetPeakPowerInBand(bandHzWidth int) (float64, error) {
	f.mu.Lock()
	slice := f.latest
	center := f.centerFreqHz
	f.mu.Unlock()

	if slice == nil {
		return 0, fmt.Errorf("fftstream: no data yet")
	}

	half := bandHzWidth / 2
	peak := math.Inf(-1)
	for _, b := range slice.Bins {
		if b.FreqHz >= center-half && b.FreqHz <= center+half {
			if b.PowerDB > peak {
				peak = b.PowerDB
			}
		}
	}
	if math.IsInf(peak, -1) {
		return 0, fmt.Errorf("fftstream: no bins in band")
	}
	return peak, nil
}

// SampleSpectrumAt samples the peak power in a band around centerFreqHz
// without starting the producer or touching the arbiter. SstvScanner uses
// this: it holds its own "sstv-scanner" lease for the whole dwell sweep, so
// it cannot also go through Start (which would try to acquire a second,
// conflicting lease). In simulate mode it reads the same synthetic
// spectrum shape produceSimulated emits; in live mode it runs a one-shot
// rtl_power sweep scoped to the requested band.
func (f *FftStream) SampleSpectrumAt(centerFreqHz, bandHalfWidthHz int) (float64, error) {
	f.mu.Lock()
	notches := make([]Notch, 0, len(f.notches))
	for _, n := range f.notches {
		notches = append(notches, n)
	}
	simulate := f.simulate
	f.mu.Unlock()

	if simulate {
		return sampleSimulatedPeak(centerFreqHz, bandHalfWidthHz, notches), nil
	}
	return sampleLivePeak(centerFreqHz, bandHalfWidthHz, notches)
}

// sampleSimulatedPeak mirrors produceSimulated's spectrum shape for a single
// arbitrary center frequency, without running the producer loop.
func sampleSimulatedPeak(centerFreqHz, bandHalfWidthHz int, notches []Notch) float64 {
	half := fftSize / 2
	peak := math.Inf(-1)
	for i := 0; i < fftSize; i++ {
		freq := centerFreqHz + (i-half)*rtlPowerBinHz
		if freq < centerFreqHz-bandHalfWidthHz || freq > centerFreqHz+bandHalfWidthHz {
			continue
		}
		db := -90.0 + 6.0*math.Exp(-math.Pow(float64(i-half)/40.0, 2))
		for _, n := range notches {
			if n.Enabled && freq >= n.LowHz && freq <= n.HighHz {
				db = -120.0
			}
		}
		if db > peak {
			peak = db
		}
	}
	if math.IsInf(peak, -1) {
		return -120.0
	}
	return peak
}

// sampleLivePeak runs rtl_power once (-1, single-shot mode) scoped tightly
// to [centerFreqHz-bandHalfWidthHz, centerFreqHz+bandHalfWidthHz] and
// returns the strongest bin in the resulting sweep.
func sampleLivePeak(centerFreqHz, bandHalfWidthHz int, notches []Notch) (float64, error) {
	low := centerFreqHz - bandHalfWidthHz
	high := centerFreqHz + bandHalfWidthHz

	cmd := buildCommand(rtlPowerName,
		"-f", fmt.Sprintf("%d:%d:%d", low, high, rtlPowerBinHz),
		"-i", "1",
		"-1",
		"-",
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("fftstream: rtl_power sweep: %w", err)
	}

	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	slice, err := parseRTLPowerRow(line)
	if err != nil {
		return 0, fmt.Errorf("fftstream: rtl_power sweep: %w", err)
	}

	peak := math.Inf(-1)
	for _, b := range slice.Bins {
		db := b.PowerDB
		for _, n := range notches {
			if n.Enabled && b.FreqHz >= n.LowHz && b.FreqHz <= n.HighHz {
				db = -120.0
			}
		}
		if db > peak {
			peak = db
		}
	}
	if math.IsInf(peak, -1) {
		return -120.0, nil
	}
	return peak, nil
}

// IsRunning reports whether the producer is currently active.
func (f *FftStream) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// SubscriberCount reports the current number of registered subscribers
// surfaced over HTTP by GET /api/fft/status.
func (f *FftStream) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriberN
}

// GetConfig returns the stream's fixed operating parameters.
func (f *FftStream) GetConfig() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Config{FFTSize: fftSize, UpdateRateHz: updateRateHz, CenterFreqHz: f.centerFreqHz}
}

// GetError returns the last error encountered starting the stream, if any.
func (f *FftStream) GetError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Retune changes the spectrum center frequency, e.g. when the Scheduler
// switches satellites.
func (f *FftStream) Retune(freqHz int) {
	f.mu.Lock()
	f.centerFreqHz = freqHz
	f.mu.Unlock()
}

// AddNotch registers a new suppressed band and returns its id.
func (f *FftStream) AddNotch(lowHz, highHz int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notchSeq++
	id := fmt.Sprintf("notch-%d", f.notchSeq)
	f.notches[id] = Notch{ID: id, LowHz: lowHz, HighHz: highHz, Enabled: true}
	return id
}

// RemoveNotch deletes a notch by id. It is a no-op if the id is unknown.
func (f *FftStream) RemoveNotch(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notches, id)
}

// SetNotchEnabled toggles a notch without deleting it. Returns false if the
// id is unknown.
func (f *FftStream) SetNotchEnabled(id string, enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notches[id]
	if !ok {
		return false
	}
	n.Enabled = enabled
	f.notches[id] = n
	return true
}

// ClearNotches removes every notch.
func (f *FftStream) ClearNotches() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notches = make(map[string]Notch)
}

// GetNotches returns a snapshot of all configured notches.
func (f *FftStream) GetNotches() []Notch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notch, 0, len(f.notches))
	for _, n := range f.notches {
		out = append(out, n)
	}
	return out
}
