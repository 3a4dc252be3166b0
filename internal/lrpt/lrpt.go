// Package lrpt wraps an external LRPT decoder binary. Night Watch does not
// implement the LRPT demodulation/Viterbi/frame-sync algorithm itself; it
// shells out to a configured decoder the same way the Recorder shells out to
// rtl_fm/rtl_sdr, and parses the produced image paths from its stdout.
package lrpt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrDecodeFailed is returned when the external decoder exits non-zero or
// produces no images.
var ErrDecodeFailed = errors.New("lrpt: external decoder failed")

// Decoder invokes an external LRPT decoder binary against a recorded WAV
// (baseband IQ, from the LRPT recording pipeline) and collects the PNG/JPEG
// paths it writes.
type Decoder struct {
	binaryPath string
	log        *log.Logger
}

// New returns a Decoder that shells out to binaryPath (e.g. "meteor_decode"
// on PATH, or an absolute path from config).
func New(binaryPath string, logger *log.Logger) *Decoder {
	return &Decoder{binaryPath: binaryPath, log: logger}
}

// var indirection lets tests substitute a fake decoder process.
var buildCommand = exec.CommandContext

// Decode runs the external decoder against wavPath, writing any produced
// images into outDir, and returns their paths. The decoder binary is
// expected to print one output image path per line of stdout; any other
// stdout output is logged and ignored.
func (d *Decoder) Decode(ctx context.Context, wavPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("lrpt: create output dir: %w", err)
	}

	cmd := buildCommand(ctx, d.binaryPath, "-i", wavPath, "-o", outDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("lrpt: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("lrpt: start %s: %w", d.binaryPath, err)
	}

	var images []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if looksLikeImagePath(line) {
			images = append(images, resolvePath(line, outDir))
		} else {
			d.log.Printf("lrpt: %s", line)
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, waitErr)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images produced", ErrDecodeFailed)
	}

	return images, nil
}

// DecodeWithTimeout is a convenience wrapper applying a bounded deadline;
// LRPT decoding of a full pass recording should finish well within this.
func (d *Decoder) DecodeWithTimeout(wavPath, outDir string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Decode(ctx, wavPath, outDir)
}

func looksLikeImagePath(line string) bool {
	ext := strings.ToLower(filepath.Ext(line))
	return ext == ".png" || ext == ".jpg" || ext == ".jpeg"
}

func resolvePath(line, outDir string) string {
	if filepath.IsAbs(line) {
		return line
	}
	return filepath.Join(outDir, line)
}
