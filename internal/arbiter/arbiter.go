// Package arbiter owns exclusive access to the single SDR device. Exactly
// one of Recorder, FftStream, and SstvScanner may hold the device at a
// time; this package is the only thing that knows how to ask a producer to
// let go of it and to forcibly reclaim it if the producer won't. It is
// grounded on the upstream capture runner's subprocess-lifecycle idiom
// (context deadline + explicit Process.Kill), generalized into a reusable
// lease object.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/milesburton/night-watch/internal/metrics"
)

// terminateGrace is how long a producer gets to react to Release before the
// Arbiter escalates to a forced kill (SIGTERM, wait 3s, SIGKILL).
const terminateGrace = 3 * time.Second

// reenumerationCooldown is the minimum time the device must sit idle after
// a lease is released before a new one may be acquired, modeling USB
// re-enumeration latency.
const reenumerationCooldown = 1 * time.Second

// State is the Arbiter's device state machine.
type State string

const (
	StateFree     State = "free"
	StateLeased   State = "leased"
	StateDraining State = "draining"
)

// ErrBusy is returned by Acquire when the device is already leased and the
// timeout elapses before it frees up.
var ErrBusy = errors.New("arbiter: device busy, acquire timed out")

// Killer is implemented by a producer so the Arbiter can ask it to stop.
// Terminate should request a graceful stop (e.g. signal a subprocess or
// cancel a context) and return promptly; Kill must force an immediate stop
// and is only called if Terminate didn't get the producer to call Release
// within terminateGrace.
type Killer interface {
	Terminate() error
	Kill() error
}

// Lease represents exclusive ownership of the device. Intent names the
// component holding it (e.g. "recorder", "fft", "sstv-scanner"), for status
// reporting and logs.
type Lease struct {
	Intent string

	arb      *Arbiter
	released sync.Once
}

// Release gives the device back. It is safe to call multiple times and
// safe to call from a deferred panic-recovery path, guaranteeing the
// device returns to Free even if the holder panics mid-use.
func (l *Lease) Release() {
	l.released.Do(func() {
		l.arb.release(l)
	})
}

// Arbiter serializes access to the single SDR device.
type Arbiter struct {
	mu      sync.Mutex
	state   State
	current *Lease
	killer  Killer
	freeAt  time.Time // earliest next Acquire may succeed, for cooldown
	waiters []chan struct{}
}

// New creates an Arbiter in the Free state.
func New() *Arbiter {
	return &Arbiter{state: StateFree}
}

// State returns the current device state and the intent holding it, if any.
func (a *Arbiter) State() (State, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	intent := ""
	if a.current != nil {
		intent = a.current.Intent
	}
	return a.state, intent
}

// Acquire blocks until the device is free (respecting the re-enumeration
// cooldown) or timeout elapses, then leases it to intent. killer is used if
// a future caller needs to preempt this lease; pass nil if this producer
// cannot be preempted mid-capture.
func (a *Arbiter) Acquire(ctx context.Context, intent string, killer Killer, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)

	for {
		a.mu.Lock()
		if a.state == StateFree && time.Now().After(a.freeAt) {
			lease := &Lease{Intent: intent, arb: a}
			a.state = StateLeased
			a.current = lease
			a.killer = killer
			a.mu.Unlock()
			metrics.ArbiterLeaseAcquisitionsTotal.WithLabelValues(intent, strconv.FormatBool(true)).Inc()
			return lease, nil
		}
		wait := make(chan struct{})
		a.waiters = append(a.waiters, wait)
		inCooldown := a.state == StateFree
		freeAt := a.freeAt
		a.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.ArbiterLeaseAcquisitionsTotal.WithLabelValues(intent, strconv.FormatBool(false)).Inc()
			return nil, ErrBusy
		}

		// No release will close wait while the device sits Free in its
		// cooldown, so wake up when the cooldown ends and try again.
		wake := remaining
		if untilFree := time.Until(freeAt); inCooldown && untilFree < wake {
			wake = untilFree
		}

		timer := time.NewTimer(wake)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			if wake < remaining {
				continue
			}
			metrics.ArbiterLeaseAcquisitionsTotal.WithLabelValues(intent, strconv.FormatBool(false)).Inc()
			return nil, ErrBusy
		case <-ctx.Done():
			timer.Stop()
			metrics.ArbiterLeaseAcquisitionsTotal.WithLabelValues(intent, strconv.FormatBool(false)).Inc()
			return nil, ctx.Err()
		}
	}
}

// Preempt asks the current lease holder to give up the device, escalating
// from Terminate to Kill if it doesn't release within terminateGrace. It
// returns once the holder releases, right after calling Kill when
// terminateGrace elapses without a release, or when ctx is done. It does
// not wait out the re-enumeration cooldown, and after a Kill it does not
// wait for the holder's Release.
// Callers with higher scheduling priority (the Scheduler over the
// SstvScanner) use this instead of waiting in Acquire.
func (a *Arbiter) Preempt(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateLeased {
		a.mu.Unlock()
		return nil
	}
	killer := a.killer
	a.state = StateDraining
	wait := make(chan struct{})
	a.waiters = append(a.waiters, wait)
	a.mu.Unlock()

	if killer == nil {
		return fmt.Errorf("arbiter: cannot preempt intent with no killer registered")
	}

	go func() {
		_ = killer.Terminate()
	}()

	// Terminate just signals and returns; wait is what actually tells us the
	// holder let go (it closes on Release, via the same waiter mechanism
	// Acquire uses). Escalate to Kill only once terminateGrace elapses
	// without that.
	timer := time.NewTimer(terminateGrace)
	defer timer.Stop()

	select {
	case <-wait:
		return nil
	case <-timer.C:
		_ = killer.Kill()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release transitions the device back to Free, starts the re-enumeration
// cooldown, and wakes one waiter.
func (a *Arbiter) release(l *Lease) {
	a.mu.Lock()
	if a.current != l {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.killer = nil
	a.state = StateFree
	a.freeAt = time.Now().Add(reenumerationCooldown)
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// WithLease acquires the device, runs fn, and guarantees Release is called
// even if fn panics; the panic is re-raised after cleanup.
func (a *Arbiter) WithLease(ctx context.Context, intent string, killer Killer, timeout time.Duration, fn func(*Lease) error) error {
	lease, err := a.Acquire(ctx, intent, killer, timeout)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease)
}
