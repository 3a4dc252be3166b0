package ctl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// captureResult mirrors statebus.CaptureResult's JSON shape.
type captureResult struct {
	Satellite     string    `json:"satellite"`
	RecordingPath string    `json:"recording_path"`
	ImagePaths    []string  `json:"image_paths"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	PeakSignalDB  float64   `json:"peak_signal_db"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// CapturesOptions controls the captures command.
type CapturesOptions struct {
	Limit int
	JSON  bool
}

// Captures lists recent captures recorded in the daemon's Store
// (GET /api/captures?limit=N).
func Captures(baseURL string, opts CapturesOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	path := "/api/captures"
	if opts.Limit > 0 {
		path += "?limit=" + strconv.Itoa(opts.Limit)
	}

	var results []captureResult
	if err := getJSON(baseURL, path, &results); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(results)
	}

	fmt.Println()
	fmt.Println(header("  RECENT CAPTURES"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 70)))

	if len(results) == 0 {
		fmt.Println(colorize(dim, "  No captures recorded yet."))
		fmt.Println()
		return nil
	}

	t := newTable("  ", "Satellite", "Start", "Images", "Peak dB", "Result")
	for _, r := range results {
		result := colorize(green, "ok")
		if !r.Success {
			result = colorize(red, "failed: "+r.Error)
		}
		t.row(
			r.Satellite,
			r.StartTime.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(len(r.ImagePaths)),
			fmt.Sprintf("%.1f", r.PeakSignalDB),
			result,
		)
	}
	t.flush()
	fmt.Println()

	return nil
}

// summaryResponse mirrors GET /api/summary's JSON body.
type summaryResponse struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summary fetches aggregate capture statistics (GET /api/summary).
func Summary(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s summaryResponse
	if err := getJSON(baseURL, "/api/summary", &s); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(s)
	}

	fmt.Println()
	fmt.Println(header("  CAPTURE SUMMARY"))
	fmt.Printf("  %-12s %d\n", colorize(dim, "Total:"), s.Total)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Successful:"), colorize(green, strconv.Itoa(s.Successful)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Failed:"), colorize(red, strconv.Itoa(s.Failed)))
	fmt.Println()

	return nil
}
