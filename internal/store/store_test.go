package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/statebus"
)

func TestSaveCaptureAndRecentRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nightwatch.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	result := statebus.CaptureResult{
		Satellite:     "METEOR-M2 3",
		RecordingPath: "/var/lib/nightwatch/recordings/meteor-m2-3-20260101T000000.wav",
		ImagePaths:    []string{"/var/lib/nightwatch/images/meteor-m2-3-0.png"},
		StartTime:     now,
		EndTime:       now.Add(10 * time.Minute),
		PeakSignalDB:  -22.5,
		Success:       true,
	}

	if err := s.SaveCapture(result); err != nil {
		t.Fatalf("SaveCapture: %v", err)
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 row, got %d", len(recent))
	}
	got := recent[0]
	if got.Satellite != result.Satellite || got.RecordingPath != result.RecordingPath {
		t.Fatalf("round-tripped row mismatch: %+v", got)
	}
	if len(got.ImagePaths) != 1 || got.ImagePaths[0] != result.ImagePaths[0] {
		t.Fatalf("image paths did not round-trip: %v", got.ImagePaths)
	}
	if !got.Success {
		t.Fatal("expected success=true to round-trip")
	}
	if !got.StartTime.Equal(result.StartTime) {
		t.Fatalf("start time mismatch: got %v want %v", got.StartTime, result.StartTime)
	}
}

func TestSaveCapturePersistsFailuresWithErrorMessage(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nightwatch.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC()
	failed := statebus.CaptureResult{
		Satellite: "ISS", StartTime: now, EndTime: now, Success: false, Error: "signal_too_weak",
	}
	if err := s.SaveCapture(failed); err != nil {
		t.Fatalf("SaveCapture: %v", err)
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Error != "signal_too_weak" {
		t.Fatalf("expected failed capture with error message, got %+v", recent)
	}
}

func TestRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nightwatch.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC()
	for _, name := range []string{"A", "B", "C"} {
		if err := s.SaveCapture(statebus.CaptureResult{Satellite: name, StartTime: now, EndTime: now, Success: true}); err != nil {
			t.Fatalf("SaveCapture(%s): %v", name, err)
		}
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(recent))
	}
	if recent[0].Satellite != "C" || recent[1].Satellite != "B" {
		t.Fatalf("expected newest-first order C,B, got %s,%s", recent[0].Satellite, recent[1].Satellite)
	}
}
