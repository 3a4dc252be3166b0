// Package statebus implements the StateBus: the single owner of
// SystemState, serializing every mutation and fanning typed events out to
// any number of subscribers in total order. No mutable global is used —
// callers hold a *Bus and pass it by reference rather than through a
// package-level singleton.
package statebus

import (
	"sync"
	"time"

	"github.com/milesburton/night-watch/internal/metrics"
)

// Status is SystemState.status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWaiting   Status = "waiting"
	StatusScanning  Status = "scanning"
	StatusCapturing Status = "capturing"
	StatusDecoding  Status = "decoding"
)

// PassInfo is the subset of a predicted pass SystemState needs to display.
type PassInfo struct {
	Satellite   string    `json:"satellite"`
	CatalogID   int       `json:"catalog_id"`
	FreqHz      int       `json:"freq_hz"`
	AOS         time.Time `json:"aos"`
	LOS         time.Time `json:"los"`
	MaxElevDeg  float64   `json:"max_elev_deg"`
}

// CaptureProgress is SystemState's capture progress triple.
type CaptureProgress struct {
	Percent float64       `json:"percent"`
	Elapsed time.Duration `json:"elapsed"`
	Total   time.Duration `json:"total"`
}

// Doppler is SystemState's optional Doppler readout (computed upstream by
// the predictor; StateBus only carries it).
type Doppler struct {
	CurrentHz float64 `json:"current_hz"`
	MinHz     float64 `json:"min_hz"`
	MaxHz     float64 `json:"max_hz"`
}

// CaptureResult records the outcome of one capture attempt.
type CaptureResult struct {
	Satellite    string    `json:"satellite"`
	RecordingPath string   `json:"recording_path"`
	ImagePaths   []string  `json:"image_paths"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	PeakSignalDB float64   `json:"peak_signal_db"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// SystemState is the daemon's singleton run-state, mutated only
// through Bus methods, exposed to readers as an immutable snapshot.
type SystemState struct {
	Status             Status           `json:"status"`
	CurrentPass        *PassInfo        `json:"current_pass,omitempty"`
	NextPass           *PassInfo        `json:"next_pass,omitempty"`
	UpcomingPasses     []PassInfo       `json:"upcoming_passes"`
	Progress           CaptureProgress  `json:"progress"`
	Doppler            *Doppler         `json:"doppler,omitempty"`
	ScanningFrequency  *int             `json:"scanning_frequency,omitempty"`
	ScanningLabel      string           `json:"scanning_label,omitempty"`
	SDRConnected       bool             `json:"sdr_connected"`
	LastUpdate         time.Time        `json:"last_update"`
}

// clone returns a deep-enough copy so subscribers can't mutate Bus state
// through the snapshot they're handed.
func (s SystemState) clone() SystemState {
	c := s
	if s.CurrentPass != nil {
		cp := *s.CurrentPass
		c.CurrentPass = &cp
	}
	if s.NextPass != nil {
		np := *s.NextPass
		c.NextPass = &np
	}
	if s.Doppler != nil {
		d := *s.Doppler
		c.Doppler = &d
	}
	if s.ScanningFrequency != nil {
		f := *s.ScanningFrequency
		c.ScanningFrequency = &f
	}
	c.UpcomingPasses = append([]PassInfo(nil), s.UpcomingPasses...)
	return c
}

// EventType identifies a StateBus event kind.
type EventType string

const (
	EventStatusChange       EventType = "status_change"
	EventPassStart          EventType = "pass_start"
	EventPassComplete       EventType = "pass_complete"
	EventProgress           EventType = "progress"
	EventScanningFrequency  EventType = "scanning_frequency"
)

// Event is the envelope delivered to subscribers. Payload carries the
// event-specific fields; State is always the post-mutation snapshot.
type Event struct {
	Type    EventType      `json:"type"`
	TS      time.Time      `json:"ts"`
	State   SystemState    `json:"state"`
	Payload map[string]any `json:"payload,omitempty"`
}

// subscriberQueueSize bounds each subscriber's outbound channel. A
// subscriber slower than this gets dropped (the slow_consumer contract).
const subscriberQueueSize = 64

type subscriber struct {
	ch     chan Event
	dropFn func()
}

// Bus owns SystemState and serializes every mutation through its mutex.
// Every mutator except SetUpcomingPasses and SetSDRConnected emits exactly
// one event, in the order they were called, so events are delivered to
// every subscriber in the order they occurred.
type Bus struct {
	mu    sync.Mutex
	state SystemState
	subs  map[int]*subscriber
	nextID int

	onSlowConsumer func(id int)
}

// New creates a Bus in the idle state.
func New() *Bus {
	return &Bus{
		state: SystemState{
			Status:     StatusIdle,
			LastUpdate: time.Now().UTC(),
		},
		subs: make(map[int]*subscriber),
	}
}

// OnSlowConsumer registers a callback invoked (outside the Bus lock) whenever
// a subscriber is dropped for a full queue.
func (b *Bus) OnSlowConsumer(fn func(id int)) {
	b.mu.Lock()
	b.onSlowConsumer = fn
	b.mu.Unlock()
}

// GetState returns an immutable copy of the current SystemState.
func (b *Bus) GetState() SystemState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

// Subscribe registers a new event stream. The returned channel is buffered;
// callers must keep draining it or risk being dropped. unsubscribe releases
// the subscription and must always be called (defer it).
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize)}
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			close(s.ch)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// publish delivers ev to every subscriber without blocking; a subscriber
// whose queue is full is dropped per the slow_consumer contract.
func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	var dropped []int
	for id, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			close(s.ch)
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(b.subs, id)
	}
	cb := b.onSlowConsumer
	b.mu.Unlock()

	if cb != nil {
		for _, id := range dropped {
			cb(id)
		}
	}
}

// SetStatus updates status and emits status_change.
func (b *Bus) SetStatus(status Status) {
	b.mu.Lock()
	b.state.Status = status
	b.state.LastUpdate = time.Now().UTC()
	snap := b.state.clone()
	b.mu.Unlock()
	b.publish(Event{Type: EventStatusChange, TS: snap.LastUpdate, State: snap})
}

// SetUpcomingPasses replaces the upcoming-pass list. It does not emit its
// own event; callers typically follow it with SetStatus or StartPass. The
// list must already be sorted by AOS and LOS-filtered — the Scheduler is
// responsible for that.
func (b *Bus) SetUpcomingPasses(passes []PassInfo) {
	b.mu.Lock()
	b.state.UpcomingPasses = append([]PassInfo(nil), passes...)
	if len(passes) > 0 {
		np := passes[0]
		b.state.NextPass = &np
	} else {
		b.state.NextPass = nil
	}
	b.mu.Unlock()
}

// StartPass transitions to capturing and records the current pass, emitting
// pass_start.
func (b *Bus) StartPass(p PassInfo) {
	b.mu.Lock()
	b.state.Status = StatusCapturing
	b.state.CurrentPass = &p
	b.state.Progress = CaptureProgress{}
	b.state.LastUpdate = time.Now().UTC()
	snap := b.state.clone()
	b.mu.Unlock()
	b.publish(Event{
		Type: EventPassStart, TS: snap.LastUpdate, State: snap,
		Payload: map[string]any{"pass": p},
	})
}

// CompletePass clears the current pass and emits pass_complete. This is
// broadcast for every capture result, success or failure.
func (b *Bus) CompletePass(result CaptureResult) {
	b.mu.Lock()
	b.state.CurrentPass = nil
	b.state.LastUpdate = time.Now().UTC()
	snap := b.state.clone()
	b.mu.Unlock()
	b.publish(Event{
		Type: EventPassComplete, TS: snap.LastUpdate, State: snap,
		Payload: map[string]any{"result": result},
	})
}

// UpdateProgress emits a progress event reflecting capture completion.
func (b *Bus) UpdateProgress(percent float64, elapsed, total time.Duration) {
	b.mu.Lock()
	b.state.Progress = CaptureProgress{Percent: percent, Elapsed: elapsed, Total: total}
	b.state.LastUpdate = time.Now().UTC()
	snap := b.state.clone()
	b.mu.Unlock()
	b.publish(Event{
		Type: EventProgress, TS: snap.LastUpdate, State: snap,
		Payload: map[string]any{"percent": percent, "elapsed_s": elapsed.Seconds(), "total_s": total.Seconds()},
	})
}

// SetScanningFrequency records (or clears, with freq=nil) the scanner's
// current dwell frequency and emits scanning_frequency.
func (b *Bus) SetScanningFrequency(freqHz *int, label string) {
	b.mu.Lock()
	b.state.ScanningFrequency = freqHz
	b.state.ScanningLabel = label
	b.state.LastUpdate = time.Now().UTC()
	snap := b.state.clone()
	b.mu.Unlock()
	var freqPayload any
	if freqHz != nil {
		freqPayload = *freqHz
	}
	b.publish(Event{
		Type: EventScanningFrequency, TS: snap.LastUpdate, State: snap,
		Payload: map[string]any{"frequency_hz": freqPayload, "label": label},
	})
}

// SetSDRConnected records live hardware-presence state without emitting a
// dedicated event; it rides along on the next mutation's snapshot.
func (b *Bus) SetSDRConnected(connected bool) {
	b.mu.Lock()
	b.state.SDRConnected = connected
	b.mu.Unlock()
	if connected {
		metrics.SDRConnectedGauge.Set(1)
	} else {
		metrics.SDRConnectedGauge.Set(0)
	}
}
