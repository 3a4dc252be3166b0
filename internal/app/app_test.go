package app

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/statebus"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Receiver.RecordingsDir = filepath.Join(dir, "recordings")
	cfg.Receiver.ImagesDir = filepath.Join(dir, "images")
	cfg.Server.StoreDSN = filepath.Join(dir, "nightwatch.db")
	cfg.Receiver.ServiceMode = true

	a, err := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Cfg:    cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// TestHandleImagesRejectsPathTraversal verifies that any request path
// containing a ".." segment after URL-decoding is rejected with 403,
// regardless of how deeply it's nested or what comes after it.
func TestHandleImagesRejectsPathTraversal(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	cases := []string{
		"/api/images/../../etc/passwd",
		"/api/images/..%2f..%2fetc%2fpasswd",
		"/api/images/foo/../../bar.png",
		"/api/images/%2e%2e/%2e%2e/secret.png",
	}
	for _, p := range cases {
		u := srv.URL + p
		resp, err := http.Get(u)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("GET %s: expected 403, got %d", p, resp.StatusCode)
		}
	}
}

// TestHandleImagesServesLegitimateFile confirms the traversal guard doesn't
// also reject ordinary filenames.
func TestHandleImagesServesLegitimateFile(t *testing.T) {
	a := testApp(t)
	if err := writeFixtureImage(a.cfg.Receiver.ImagesDir, "iss-20260101T000000Z-0.png"); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/images/iss-20260101T000000Z-0.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// TestWebSocketInitThenStatusChange verifies the first
// message on /ws is type=init with state.status=idle, and a subsequent
// StateBus status change is relayed to the client verbatim.
func TestWebSocketInitThenStatusChange(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var initMsg struct {
		Type  string               `json:"type"`
		State statebus.SystemState `json:"state"`
		FFT   struct {
			Running     bool `json:"running"`
			Config      any  `json:"config"`
			Error       *string `json:"error"`
			Subscribers int  `json:"subscribers"`
		} `json:"fft"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&initMsg); err != nil {
		t.Fatalf("read init: %v", err)
	}
	if initMsg.Type != "init" {
		t.Fatalf("expected init, got %q", initMsg.Type)
	}
	if initMsg.State.Status != statebus.StatusIdle {
		t.Fatalf("expected idle status, got %q", initMsg.State.Status)
	}
	if initMsg.FFT.Running {
		t.Fatalf("expected fft.running=false before any subscriber, got true")
	}
	if initMsg.FFT.Config != nil {
		t.Fatalf("expected fft.config=null while not running, got %v", initMsg.FFT.Config)
	}

	a.bus.SetStatus(statebus.StatusCapturing)

	var changeMsg struct {
		Type    string `json:"type"`
		Payload struct {
			State statebus.SystemState `json:"state"`
		} `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&changeMsg); err != nil {
		t.Fatalf("read status_change: %v", err)
	}
	if changeMsg.Type != "status_change" {
		t.Fatalf("expected status_change, got %q", changeMsg.Type)
	}
	if changeMsg.Payload.State.Status != statebus.StatusCapturing {
		t.Fatalf("expected capturing, got %q", changeMsg.Payload.State.Status)
	}
}

// TestHandleConfigGainValidatesRange covers the gain ∈ [0,49] validation.
func TestHandleConfigGainValidatesRange(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/config/gain", "application/json", strings.NewReader(`{"gain": 75}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range gain, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/config/gain", "application/json", strings.NewReader(`{"gain": 30}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for valid gain, got %d", resp.StatusCode)
	}
}

// TestHandleSSTVCaptureRejectsMissingFrequency checks the request
// validation path for POST /api/sstv/capture.
func TestHandleSSTVCaptureRejectsMissingFrequency(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sstv/capture", "application/json", strings.NewReader(`{"frequency_hz": 0}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// TestControlEndpointsReachScheduler verifies the trigger/pause/resume/
// skip/cancel/tle-refresh HTTP endpoints forward to the Scheduler's
// Commands channel and relay its CommandResult back as JSON.
func TestControlEndpointsReachScheduler(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.sched.StartCommandLoop(ctx)

	resp, err := http.Post(srv.URL+"/api/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/pause: %v", err)
	}
	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !result.OK {
		t.Fatalf("expected ok pause response, got status=%d body=%+v", resp.StatusCode, result)
	}

	resp, err = http.Post(srv.URL+"/api/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/resume: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/cancel: %v", err)
	}
	var cancelResult struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cancelResult); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || cancelResult.OK {
		t.Fatalf("expected a rejected cancel (no capture in progress), got status=%d body=%+v", resp.StatusCode, cancelResult)
	}
}

// TestHandleTriggerRejectsUnknownCatalogID confirms an unrecognised
// catalog_id is surfaced as a 400 with the Scheduler's own error message.
func TestHandleTriggerRejectsUnknownCatalogID(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.sched.StartCommandLoop(ctx)

	resp, err := http.Post(srv.URL+"/api/trigger", "application/json", strings.NewReader(`{"catalog_id": 999999, "duration_seconds": 30}`))
	if err != nil {
		t.Fatalf("POST /api/trigger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown catalog id, got %d", resp.StatusCode)
	}
}

func writeFixtureImage(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte("fake png bytes"), 0o644)
}
