// Package recorder implements the Recorder: it leases the SDR
// device from the Arbiter, spawns the right subprocess pipeline for a
// satellite's signal kind, and streams converted samples into a timestamped
// WAV file. Grounded on the upstream capture runner's subprocess-and-pipe
// idiom (internal/capture/capture.go), generalized from one fixed rtl_fm
// invocation into three selectable pipelines.
package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/satellite"
)

// ErrProducerDied is wrapped into the error RecordPass returns when the
// live capture subprocess's stdout closes, or the subprocess exits with an
// error, before the capture was deliberately stopped (duration elapsed or
// ctx cancelled). scheduler.capture() turns this into a failed
// CaptureResult; the scheduler itself continues to the next pass.
var ErrProducerDied = errors.New("producer_died")

// ProgressFunc is called periodically during a capture with completion
// percentage, elapsed time, and total planned duration.
type ProgressFunc func(percent float64, elapsed, total time.Duration)

// Recorder owns the recording side of the SDR device.
type Recorder struct {
	arb      *arbiter.Arbiter
	cfg      config.ReceiverConfig
	log      *log.Logger
	simulate bool
}

// New creates a Recorder. When simulate is true, RecordPass writes a
// synthetic tone instead of spawning a real SDR subprocess, mirroring the
// upstream runner's demo mode.
func New(arb *arbiter.Arbiter, cfg config.ReceiverConfig, logger *log.Logger, simulate bool) *Recorder {
	return &Recorder{arb: arb, cfg: cfg, log: logger, simulate: simulate}
}

// session is this capture's arbiter.Killer: Terminate/Kill signal the live
// subprocess, escalating exactly as the Arbiter expects if the recording
// needs to be preempted mid-pass.
type session struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func (s *session) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(syscall.SIGTERM)
}

func (s *session) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// RecordPass records sat for duration, writing a WAV file under
// cfg.RecordingsDir named "<slug>_<ISO-8601-utc>.wav". It
// blocks until duration elapses or ctx is cancelled, then shuts the
// pipeline down in order: stop the source first (SIGTERM, escalating to
// SIGKILL after 3s if it hasn't exited), patch the WAV header, and only
// then release the arbiter lease (WithLease handles the release itself,
// after recordWithLease returns). Converted samples are written to the file
// in-process as they arrive, so there is no separate sink process to wait
// for.
func (r *Recorder) RecordPass(ctx context.Context, sat satellite.Satellite, duration time.Duration, onProgress ProgressFunc) (string, error) {
	sess := &session{}

	var outPath string
	err := r.arb.WithLease(ctx, "recorder", sess, 30*time.Second, func(*arbiter.Lease) error {
		path, recErr := r.recordWithLease(ctx, sess, sat, duration, onProgress)
		outPath = path
		return recErr
	})
	return outPath, err
}

func (r *Recorder) recordWithLease(ctx context.Context, sess *session, sat satellite.Satellite, duration time.Duration, onProgress ProgressFunc) (string, error) {
	pipe := selectPipeline(sat)

	ts := time.Now().UTC().Format("20060102T150405Z")
	filename := fmt.Sprintf("%s_%s.wav", sat.Slug(), ts)
	outPath := filepath.Join(r.cfg.RecordingsDir, filename)

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	rate := pipe.sampleRate(sat)
	if err := writeWAVHeader(f, rate, pipe.numChannels, pipe.bitsPerSample); err != nil {
		return "", fmt.Errorf("write wav header: %w", err)
	}

	recordCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var written int64
	if r.simulate {
		written = r.simulateCapture(recordCtx, f, sat, pipe, duration, onProgress)
	} else {
		written, err = r.liveCapture(recordCtx, f, sess, sat, pipe, duration, onProgress)
		if err != nil {
			return "", err
		}
	}

	if written > 0 {
		if err := fixWAVHeader(f); err != nil {
			r.log.Printf("recorder: failed to finalize WAV header for %s: %v", filename, err)
		}
	}

	return outPath, nil
}

// liveCapture spawns the pipeline's subprocess and streams its stdout
// through the converter into dst, then stops the source and waits up to
// 3s for it to exit, escalating to Kill if it has not, before returning.
func (r *Recorder) liveCapture(ctx context.Context, dst io.Writer, sess *session, sat satellite.Satellite, pipe pipeline, duration time.Duration, onProgress ProgressFunc) (int64, error) {
	name, args := pipe.command(r.cfg, sat)
	cmd := buildCommand(name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}

	sess.mu.Lock()
	sess.cmd = cmd
	sess.mu.Unlock()

	convert := pipe.newConverter(pipe.sampleRate(sat))
	written, streamErr := r.streamWithProgress(ctx, dst, stdout, convert, duration, onProgress)

	_ = sess.Terminate()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		_ = sess.Kill()
		<-done
	}

	if streamErr != nil {
		r.log.Printf("recorder: %s: %v", name, streamErr)
		return written, fmt.Errorf("%s: %w", name, streamErr)
	}

	return written, nil
}

// streamWithProgress copies converted PCM from src to dst, reporting
// progress roughly every 2 seconds, matching the upstream runner's cadence.
// It returns a non-nil error wrapping ErrProducerDied if src ends (EOF or a
// read error) before ctx is done — that means the source subprocess exited
// on its own rather than being deliberately stopped.
func (r *Recorder) streamWithProgress(ctx context.Context, dst io.Writer, src io.Reader, convert func([]byte) []byte, total time.Duration, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 8192)
	var written int64
	start := time.Now()
	lastReport := start

	for {
		select {
		case <-ctx.Done():
			return written, nil
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := convert(buf[:n])
			nw, writeErr := dst.Write(chunk)
			written += int64(nw)
			if writeErr != nil {
				r.log.Printf("recorder: write error: %v", writeErr)
				return written, nil
			}
		}

		if onProgress != nil && time.Since(lastReport) >= 2*time.Second {
			elapsed := time.Since(start)
			pct := elapsed.Seconds() / total.Seconds() * 100
			if pct > 100 {
				pct = 100
			}
			onProgress(pct, elapsed, total)
			lastReport = time.Now()
		}

		if readErr == io.EOF {
			if ctx.Err() != nil {
				return written, nil
			}
			return written, fmt.Errorf("%w: source exited (eof)", ErrProducerDied)
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, nil
			}
			return written, fmt.Errorf("%w: %v", ErrProducerDied, readErr)
		}
	}
}

// simulateCapture writes a synthetic tone sized to duration instead of
// invoking a real SDR subprocess, for bench/demo mode (service_mode). It
// runs the same converter chain as a live capture so
// simulated WAVs exercise identical filtering.
func (r *Recorder) simulateCapture(ctx context.Context, dst io.Writer, sat satellite.Satellite, pipe pipeline, duration time.Duration, onProgress ProgressFunc) int64 {
	rate := pipe.sampleRate(sat)
	convert := pipe.newConverter(rate)

	// The converter always consumes 2 raw bytes per frame: one little-endian
	// int16 sample for mono pipelines, or one (I, Q) u8 pair for the IQ
	// pipeline.
	const rawBytesPerFrame = 2

	totalFrames := int(duration.Seconds() * float64(rate))
	toneHz := 2400.0 // representative SSTV/FM subcarrier tone

	const chunkFrames = 4096
	raw := make([]byte, chunkFrames*rawBytesPerFrame)

	var written int64
	start := time.Now()
	lastReport := start
	frames := 0

	for frames < totalFrames {
		select {
		case <-ctx.Done():
			return written
		default:
		}

		n := chunkFrames
		if frames+n > totalFrames {
			n = totalFrames - frames
		}

		for i := 0; i < n; i++ {
			t := float64(frames+i) / float64(rate)
			if pipe.numChannels == 2 {
				// Synthesize an IQ pair centered on 128, rtl_sdr's native
				// u8 format, so the same iqToStereo16 converter runs.
				iVal := 96.0 * math.Cos(2.0*math.Pi*toneHz*t)
				qVal := 96.0 * math.Sin(2.0*math.Pi*toneHz*t)
				raw[i*2] = byte(128 + int(iVal))
				raw[i*2+1] = byte(128 + int(qVal))
			} else {
				sample := int16(16000.0 * math.Sin(2.0*math.Pi*toneHz*t))
				binary.LittleEndian.PutUint16(raw[i*2:], uint16(sample))
			}
		}

		chunk := convert(raw[:n*rawBytesPerFrame])
		nw, err := dst.Write(chunk)
		written += int64(nw)
		frames += n
		if err != nil {
			r.log.Printf("recorder: simulated write error: %v", err)
			return written
		}

		if frames%(int(rate)/10+1) < chunkFrames {
			time.Sleep(20 * time.Millisecond)
		}

		if onProgress != nil && time.Since(lastReport) >= 2*time.Second {
			elapsed := time.Since(start)
			pct := float64(frames) / float64(totalFrames) * 100
			onProgress(pct, elapsed, duration)
			lastReport = time.Now()
		}
	}

	return written
}
