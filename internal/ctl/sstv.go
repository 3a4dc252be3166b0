package ctl

import (
	"fmt"
	"strings"
)

// sstvStatusResponse mirrors GET /api/sstv/status's JSON body.
type sstvStatusResponse struct {
	ManualEnabled     bool   `json:"manualEnabled"`
	GroundScanEnabled bool   `json:"groundScanEnabled"`
	Status            string `json:"status"`
}

// SSTVStatus reports the SSTV subsystem's current state.
func SSTVStatus(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s sstvStatusResponse
	if err := getJSON(baseURL, "/api/sstv/status", &s); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(s)
	}

	fmt.Println()
	fmt.Println(header("  SSTV STATUS"))
	fmt.Printf("  %-18s %s\n", colorize(dim, "Daemon status:"), colorize(statusColor(s.Status), s.Status))
	fmt.Printf("  %-18s %v\n", colorize(dim, "Ground scan:"), s.GroundScanEnabled)
	fmt.Println()
	return nil
}

// SSTVCaptureOptions controls the sstv-capture command.
type SSTVCaptureOptions struct {
	FrequencyHz     int
	DurationSeconds int
	JSON            bool
}

// SSTVCapture requests a manual, frequency-addressed SSTV capture
// (POST /api/sstv/capture). This is the virtual-satellite path: no
// catalog entry or predicted pass is involved, unlike Trigger.
func SSTVCapture(baseURL string, opts SSTVCaptureOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	if opts.FrequencyHz <= 0 {
		return fmt.Errorf("frequency (Hz) required and must be positive")
	}

	body := map[string]int{
		"frequency_hz": opts.FrequencyHz,
		"duration_s":   opts.DurationSeconds,
	}
	var result struct {
		FrequencyHz int `json:"frequency_hz"`
		DurationS   int `json:"duration_s"`
	}
	if err := postJSON(baseURL, "/api/sstv/capture", body, &result); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  capture queued at %s for %ds\n\n", colorize(green, "QUEUED"), formatFreq(result.FrequencyHz), result.DurationS)
	return nil
}
