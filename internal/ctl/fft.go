package ctl

import (
	"fmt"
	"strconv"
	"strings"
)

// fftStatusResponse mirrors GET /api/fft/status's JSON body.
type fftStatusResponse struct {
	Running     bool   `json:"running"`
	Subscribers int    `json:"subscribers"`
	Error       string `json:"error,omitempty"`
}

// FFTStatus reports whether the wideband FFT stream is running.
func FFTStatus(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s fftStatusResponse
	if err := getJSON(baseURL, "/api/fft/status", &s); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(s)
	}

	fmt.Println()
	fmt.Println(header("  FFT STREAM"))
	running := colorize(red, "stopped")
	if s.Running {
		running = colorize(green, "running")
	}
	fmt.Printf("  %-14s %s\n", colorize(dim, "State:"), running)
	fmt.Printf("  %-14s %d\n", colorize(dim, "Subscribers:"), s.Subscribers)
	if s.Error != "" {
		fmt.Printf("  %-14s %s\n", colorize(dim, "Error:"), colorize(red, s.Error))
	}
	fmt.Println()
	return nil
}

// FFTStop forces the FFT stream to stop even if subscribers remain
// connected (POST /api/fft/stop).
func FFTStop(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		Success bool `json:"success"`
		Running bool `json:"running"`
	}
	if err := postJSON(baseURL, "/api/fft/stop", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("\n  %s  FFT stream stopped\n\n", colorize(green, "STOPPED"))
	return nil
}

// notch mirrors fftstream.Notch's JSON shape.
type notch struct {
	ID      string `json:"id"`
	LowHz   int    `json:"low_hz"`
	HighHz  int    `json:"high_hz"`
	Enabled bool   `json:"enabled"`
}

// NotchList lists the active notch filters (GET /api/fft/notch).
func NotchList(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var notches []notch
	if err := getJSON(baseURL, "/api/fft/notch", &notches); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(notches)
	}

	fmt.Println()
	fmt.Println(header("  NOTCH FILTERS"))
	if len(notches) == 0 {
		fmt.Println(colorize(dim, "  None configured."))
		fmt.Println()
		return nil
	}

	t := newTable("  ", "ID", "Low", "High", "Enabled")
	for _, n := range notches {
		enabled := "yes"
		if !n.Enabled {
			enabled = colorize(dim, "no")
		}
		t.row(n.ID, formatFreq(n.LowHz), formatFreq(n.HighHz), enabled)
	}
	t.flush()
	fmt.Println()
	return nil
}

// NotchAdd creates a new notch filter over [lowHz, highHz]
// (POST /api/fft/notch).
func NotchAdd(baseURL string, lowHz, highHz int, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	body := map[string]int{"low_hz": lowHz, "high_hz": highHz}
	var result struct {
		ID string `json:"id"`
	}
	if err := postJSON(baseURL, "/api/fft/notch", body, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  notch %s added over %s–%s\n\n", colorize(green, "ADDED"), result.ID, formatFreq(lowHz), formatFreq(highHz))
	return nil
}

// NotchRemove deletes a notch filter by id (DELETE /api/fft/notch/:id).
func NotchRemove(baseURL, id string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		Success bool `json:"success"`
	}
	if err := deleteRequest(baseURL, "/api/fft/notch/"+id, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  notch %s removed\n\n", colorize(green, "REMOVED"), id)
	return nil
}

// NotchEnable toggles a notch filter's enabled state
// (POST /api/fft/notch/:id; the server also accepts PATCH).
func NotchEnable(baseURL, id string, enabled, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	body := map[string]bool{"enabled": enabled}
	var result struct {
		Success bool `json:"success"`
	}
	if err := postJSON(baseURL, "/api/fft/notch/"+id, body, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("\n  %s  notch %s %s\n\n", colorize(green, strings.ToUpper(state)), id, state)
	return nil
}

// SetGain sets the receiver's manual RF gain in dB (POST /api/config/gain).
func SetGain(baseURL string, gain float64, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	body := map[string]float64{"gain": gain}
	var result struct {
		Gain float64 `json:"gain"`
	}
	if err := postJSON(baseURL, "/api/config/gain", body, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  gain set to %s dB\n\n", colorize(green, "SET"), strconv.FormatFloat(result.Gain, 'f', 1, 64))
	return nil
}
