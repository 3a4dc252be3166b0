package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsGainOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Receiver.Gain = 50
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for gain=50, got nil")
	}

	cfg.Receiver.Gain = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for gain=-1, got nil")
	}
}

func TestValidateRejectsEmptyDirs(t *testing.T) {
	cfg := Default()
	cfg.Receiver.RecordingsDir = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty recordings_dir")
	}
}

func TestValidateRejectsBadElevation(t *testing.T) {
	cfg := Default()
	cfg.Receiver.MinElevationDeg = 91
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for min_elevation_deg=91")
	}
}

func TestValidateRejectsUnknownSignalKind(t *testing.T) {
	cfg := Default()
	cfg.Satellite[0].Kind = "teletype"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown signal kind")
	}
}
