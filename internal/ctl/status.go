package ctl

import (
	"fmt"
	"strings"
	"time"
)

// statusResponse mirrors GET /api/status's JSON body (statebus.SystemState).
type statusResponse struct {
	Status            string  `json:"status"`
	CurrentPass       *pass   `json:"current_pass,omitempty"`
	NextPass          *pass   `json:"next_pass,omitempty"`
	UpcomingPasses    []pass  `json:"upcoming_passes"`
	Progress          struct {
		Percent float64 `json:"percent"`
	} `json:"progress"`
	ScanningFrequency *int      `json:"scanning_frequency,omitempty"`
	ScanningLabel     string    `json:"scanning_label,omitempty"`
	SDRConnected      bool      `json:"sdr_connected"`
	LastUpdate        time.Time `json:"last_update"`
}

type pass struct {
	Satellite  string    `json:"satellite"`
	CatalogID  int       `json:"catalog_id"`
	FreqHz     int       `json:"freq_hz"`
	AOS        time.Time `json:"aos"`
	LOS        time.Time `json:"los"`
	MaxElevDeg float64   `json:"max_elev_deg"`
}

// Status fetches the daemon's current SystemState and prints a formatted
// summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s statusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(s)
	}

	statusStr := colorize(statusColor(s.Status), strings.ToUpper(s.Status))

	fmt.Println()
	fmt.Println(header("  NIGHT WATCH STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 40)))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Status:"), statusStr)
	fmt.Printf("  %-14s %v\n", colorize(dim, "SDR connected:"), s.SDRConnected)
	if s.CurrentPass != nil {
		fmt.Printf("  %-14s %s (%s)\n", colorize(dim, "Current pass:"), colorize(bold, s.CurrentPass.Satellite), formatFreq(s.CurrentPass.FreqHz))
		fmt.Printf("  %-14s %.0f%%\n", colorize(dim, "Progress:"), s.Progress.Percent)
	}
	if s.ScanningFrequency != nil {
		fmt.Printf("  %-14s %s (%s)\n", colorize(dim, "Scanning:"), formatFreq(*s.ScanningFrequency), s.ScanningLabel)
	}
	if s.NextPass != nil {
		fmt.Printf("  %-14s %s at %s\n", colorize(dim, "Next pass:"), colorize(bold, s.NextPass.Satellite), s.NextPass.AOS.Local().Format("2006-01-02 15:04 MST"))
	}
	fmt.Printf("  %-14s %s\n", colorize(dim, "Last update:"), s.LastUpdate.Local().Format("15:04:05"))
	fmt.Println()

	return nil
}

// Health checks daemon liveness via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, _, err := getRaw(baseURL, "/healthz")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}
	healthy := status == 200

	if jsonOutput {
		return printJSON(map[string]any{"healthy": healthy, "url": baseURL})
	}

	fmt.Println()
	if healthy {
		fmt.Printf("  %s  nightwatchd is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  nightwatchd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}
	fmt.Println()
	return nil
}
