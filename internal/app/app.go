// Package app wires together the HTTP/REST surface, the WebSocket hub, the
// Arbiter and its three clients, and either the live Scheduler or the
// service-mode demo runner. It owns the daemon's lifecycle and is the one
// place that constructs every other component, following the same
// single-constructor shape as the upstream daemon's own app package.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/milesburton/night-watch/internal/arbiter"
	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/demo"
	"github.com/milesburton/night-watch/internal/fftstream"
	"github.com/milesburton/night-watch/internal/lrpt"
	"github.com/milesburton/night-watch/internal/metrics"
	"github.com/milesburton/night-watch/internal/recorder"
	"github.com/milesburton/night-watch/internal/satellite"
	"github.com/milesburton/night-watch/internal/scheduler"
	"github.com/milesburton/night-watch/internal/sstv"
	"github.com/milesburton/night-watch/internal/statebus"
	"github.com/milesburton/night-watch/internal/store"
	"github.com/milesburton/night-watch/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger *log.Logger
	Cfg    config.Config
	Bind   string
}

// App is the top-level daemon process: the HTTP server, the WebSocket hub,
// the Arbiter and its clients, and whichever of Scheduler/demo.Runner is
// driving SystemState.
type App struct {
	log  *log.Logger
	cfg  config.Config
	bind string

	server    *http.Server
	startedAt time.Time

	bus     *statebus.Bus
	hub     *ws.Hub
	arb     *arbiter.Arbiter
	rec     *recorder.Recorder
	fft     *fftstream.FftStream
	scanner *sstv.Scanner
	lrptDec *lrpt.Decoder
	st      *store.Store

	sched *scheduler.Runner
	demo  *demo.Runner
}

// New constructs every component and wires them together. The Scheduler is
// always constructed (its Commands channel backs the HTTP control
// endpoints even in service mode), but only one of Scheduler.Run or
// demo.Runner.Run is actually started, per cfg.Receiver.ServiceMode.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	cfg := opts.Cfg

	bus := statebus.New()
	hub := ws.NewHub(bus, logger)
	arb := arbiter.New()
	rec := recorder.New(arb, cfg.Receiver, logger, cfg.Receiver.ServiceMode)

	centerFreq := cfg.Receiver.SampleRate
	if len(cfg.Satellite) > 0 {
		centerFreq = cfg.Satellite[0].FreqHz
	}
	fft := fftstream.New(arb, bus, logger, centerFreq, cfg.Receiver.ServiceMode)
	hub.SetFFTHooks(
		func() {
			fft.Subscribe(context.Background(), func(s fftstream.Slice) { hub.BroadcastFFT(s) })
		},
		func() { fft.Unsubscribe(context.Background()) },
		func() ws.FFTStatus {
			var errStr *string
			if err := fft.GetError(); err != nil {
				s := err.Error()
				errStr = &s
			}
			var fftCfg any
			if fft.IsRunning() {
				fftCfg = fft.GetConfig()
			}
			return ws.FFTStatus{
				Running:     fft.IsRunning(),
				Config:      fftCfg,
				Error:       errStr,
				Subscribers: fft.SubscriberCount(),
			}
		},
	)

	scanner := sstv.New(arb, logger, fft.SampleSpectrumAt, fft.Retune)
	lrptDec := lrpt.New(cfg.Receiver.LRPTDecoderPath, logger)

	st, err := store.Open(cfg.Server.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	sched := scheduler.New(bus, hub, cfg, logger, arb, rec, fft, scanner, lrptDec, st)

	a := &App{
		log:       logger,
		cfg:       cfg,
		bind:      opts.Bind,
		startedAt: time.Now(),
		bus:       bus,
		hub:       hub,
		arb:       arb,
		rec:       rec,
		fft:       fft,
		scanner:   scanner,
		lrptDec:   lrptDec,
		st:        st,
		sched:     sched,
		demo:      demo.New(bus, hub, satellite.Enabled(cfg.Satellite)),
	}
	return a, nil
}

// Run starts the HTTP server, the WebSocket hub, the FftStream status
// watcher, and the active runner. It blocks until ctx is cancelled or the
// listener returns an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           metrics.Middleware(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.log.Printf("listening on http://%s", bind)

	go a.hub.Run(ctx)
	a.fft.WatchStatus(ctx)

	if a.cfg.Receiver.ServiceMode {
		a.log.Printf("service mode: simulating passes, no hardware required")
		go a.demo.Run(ctx)
		go a.sched.StartCommandLoop(ctx)
	} else {
		go a.sched.Run(ctx)
	}

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		_ = a.server.Shutdown(context.Background())
		if a.st != nil {
			_ = a.st.Close()
		}
	}()

	return a.server.Serve(ln)
}

// routes builds the full HTTP/REST surface plus /ws and /metrics.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/ws", a.hub.Handler())
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/passes", a.handlePasses)
	mux.HandleFunc("/api/captures", a.handleCaptures)
	mux.HandleFunc("/api/summary", a.handleSummary)

	mux.HandleFunc("/api/fft/status", a.handleFFTStatus)
	mux.HandleFunc("/api/fft/stop", a.handleFFTStop)
	mux.HandleFunc("/api/fft/notch", a.handleFFTNotch)
	mux.HandleFunc("/api/fft/notch/", a.handleFFTNotchByID)

	mux.HandleFunc("/api/sstv/status", a.handleSSTVStatus)
	mux.HandleFunc("/api/sstv/capture", a.handleSSTVCapture)

	mux.HandleFunc("/api/config/gain", a.handleConfigGain)

	mux.HandleFunc("/api/trigger", a.handleTrigger)
	mux.HandleFunc("/api/tle-refresh", a.handleTLERefresh)
	mux.HandleFunc("/api/pause", a.handlePause)
	mux.HandleFunc("/api/resume", a.handleResume)
	mux.HandleFunc("/api/skip", a.handleSkip)
	mux.HandleFunc("/api/cancel", a.handleCancel)

	mux.HandleFunc("/api/images/", a.handleImages)

	// ServeMux redirects a path that still holds ".." segments to its
	// cleaned form before any handler runs, so image-path traversal is
	// rejected here, ahead of the mux.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := strings.CutPrefix(r.URL.Path, "/api/images/"); ok && containsDotDotSegment(name) {
			writeError(w, http.StatusForbidden, "path traversal rejected")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleStatus serves GET /api/status: a SystemState snapshot.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.bus.GetState())
}

// handlePasses serves GET /api/passes: the upcoming passes array.
func (a *App) handlePasses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.bus.GetState().UpcomingPasses)
}

// handleCaptures serves GET /api/captures?limit=N: recent captures from the
// Store, newest first.
func (a *App) handleCaptures(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := a.st.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleSummary serves GET /api/summary: { total, successful, failed }
// over everything the Store has recorded.
func (a *App) handleSummary(w http.ResponseWriter, _ *http.Request) {
	results, err := a.st.Recent(1 << 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable: "+err.Error())
		return
	}
	var successful int
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"total":      len(results),
		"successful": successful,
		"failed":     len(results) - successful,
	})
}

// handleFFTStatus serves GET /api/fft/status.
func (a *App) handleFFTStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"running":     a.fft.IsRunning(),
		"subscribers": a.fft.SubscriberCount(),
		"config":      a.fft.GetConfig(),
	}
	if err := a.fft.GetError(); err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFFTStop serves POST /api/fft/stop.
func (a *App) handleFFTStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.fft.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "running": false})
}

// handleFFTNotch serves GET/POST /api/fft/notch.
func (a *App) handleFFTNotch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.fft.GetNotches())
	case http.MethodPost:
		var body struct {
			LowHz  int `json:"low_hz"`
			HighHz int `json:"high_hz"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		id := a.fft.AddNotch(body.LowHz, body.HighHz)
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

// handleFFTNotchByID serves DELETE /api/fft/notch/:id.
func (a *App) handleFFTNotchByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/fft/notch/")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing notch id")
		return
	}
	switch r.Method {
	case http.MethodDelete:
		a.fft.RemoveNotch(id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case http.MethodPatch, http.MethodPost:
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		if !a.fft.SetNotchEnabled(id, body.Enabled) {
			writeError(w, http.StatusNotFound, "unknown notch id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "DELETE or PATCH required")
	}
}

// handleSSTVStatus serves GET /api/sstv/status.
func (a *App) handleSSTVStatus(w http.ResponseWriter, _ *http.Request) {
	status := string(a.bus.GetState().Status)
	writeJSON(w, http.StatusOK, map[string]any{
		"manualEnabled":     true,
		"groundScanEnabled": a.cfg.SSTV.Enabled,
		"status":            status,
	})
}

// handleSSTVCapture serves POST /api/sstv/capture, dispatching directly to
// the Scheduler's capture_sstv_manual path. This is distinct from
// /api/trigger: capture_sstv_manual addresses a frequency directly (no
// catalog entry, no predicted pass), while /api/trigger goes through the
// Commands channel and requires a known catalog_id.
func (a *App) handleSSTVCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		FrequencyHz     int `json:"frequency_hz"`
		DurationSeconds int `json:"duration_s"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.FrequencyHz <= 0 {
		writeError(w, http.StatusBadRequest, "frequency_hz must be positive")
		return
	}
	if body.DurationSeconds <= 0 {
		body.DurationSeconds = a.cfg.SSTV.RecordDurationSec
	}

	go a.sched.CaptureSSTVManual(context.Background(), body.FrequencyHz, body.DurationSeconds)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"frequency_hz": body.FrequencyHz,
		"duration_s":   body.DurationSeconds,
	})
}

// handleConfigGain serves POST /api/config/gain, validating gain in
// [0, 49].
func (a *App) handleConfigGain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		Gain float64 `json:"gain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Gain < 0 || body.Gain > 49 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("gain must be between 0 and 49, got %.1f", body.Gain))
		return
	}
	a.cfg.Receiver.Gain = body.Gain
	writeJSON(w, http.StatusOK, map[string]float64{"gain": body.Gain})
}

// handleImages serves GET /api/images/:name: a file server scoped to
// cfg.Receiver.ImagesDir that rejects any path-traversal attempt. net/http
// already percent-decodes the request target into r.URL.Path before
// handlers see it, so checking that decoded path for ".." segments is
// sufficient; a second decode pass would risk double-decoding.
func (a *App) handleImages(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/images/")
	if containsDotDotSegment(name) {
		writeError(w, http.StatusForbidden, "path traversal rejected")
		return
	}
	http.ServeFile(w, r, filepath.Join(a.cfg.Receiver.ImagesDir, name))
}

func containsDotDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// commandTimeout bounds how long a control endpoint waits for the
// Scheduler's commandLoop to reply before giving up with 503. The loop runs
// on its own goroutine and handles one command at a time, so a healthy
// scheduler replies promptly; this fires if commandLoop isn't running, or
// if a slow command (such as a TLE refresh) holds it past the timeout.
const commandTimeout = 5 * time.Second

// sendCommand posts cmd.Type/payload on the Scheduler's Commands channel and
// writes the CommandResult (or a timeout error) as the HTTP response.
func (a *App) sendCommand(w http.ResponseWriter, cmdType string, payload json.RawMessage) {
	reply := make(chan scheduler.CommandResult, 1)
	cmd := scheduler.Command{Type: cmdType, Payload: payload, Reply: reply}

	select {
	case a.sched.Commands <- cmd:
	case <-time.After(commandTimeout):
		writeError(w, http.StatusServiceUnavailable, "scheduler command loop not responding")
		return
	}

	select {
	case result := <-reply:
		status := http.StatusOK
		if !result.OK {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result)
	case <-time.After(commandTimeout):
		writeError(w, http.StatusServiceUnavailable, "scheduler command loop not responding")
	}
}

// handleTrigger serves POST /api/trigger: { catalog_id, duration_seconds }.
func (a *App) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	a.sendCommand(w, "trigger", body)
}

// handleTLERefresh serves POST /api/tle-refresh.
func (a *App) handleTLERefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.sendCommand(w, "tle_refresh", nil)
}

// handlePause serves POST /api/pause.
func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.sendCommand(w, "pause", nil)
}

// handleResume serves POST /api/resume.
func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.sendCommand(w, "resume", nil)
}

// handleSkip serves POST /api/skip.
func (a *App) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.sendCommand(w, "skip", nil)
}

// handleCancel serves POST /api/cancel.
func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	a.sendCommand(w, "cancel", nil)
}

// Bus exposes the App's StateBus, e.g. for a CLI client embedded in the same
// process during tests.
func (a *App) Bus() *statebus.Bus { return a.bus }
