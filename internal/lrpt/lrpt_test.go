package lrpt

import (
	"context"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"testing"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDecodeParsesImagePathsFromStdout(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", "echo pass-001-0.png; echo decoder: locked apid 68; echo pass-001-1.jpg")
	}

	d := New("meteor_decode", testLogger())
	outDir := t.TempDir()

	images, err := d.Decode(context.Background(), "/tmp/pass.wav", outDir)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d: %v", len(images), images)
	}
	if images[0] != filepath.Join(outDir, "pass-001-0.png") {
		t.Errorf("unexpected first image path: %s", images[0])
	}
	if images[1] != filepath.Join(outDir, "pass-001-1.jpg") {
		t.Errorf("unexpected second image path: %s", images[1])
	}
}

func TestDecodeFailsWithNoImagesProduced(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", "echo decoder: no signal acquired")
	}

	d := New("meteor_decode", testLogger())
	_, err := d.Decode(context.Background(), "/tmp/pass.wav", t.TempDir())
	if err == nil {
		t.Fatal("expected an error when no images are produced")
	}
}

func TestDecodeFailsOnNonZeroExit(t *testing.T) {
	orig := buildCommand
	defer func() { buildCommand = orig }()
	buildCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", "echo out.png; exit 1")
	}

	d := New("meteor_decode", testLogger())
	_, err := d.Decode(context.Background(), "/tmp/pass.wav", t.TempDir())
	if err == nil {
		t.Fatal("expected an error on non-zero decoder exit")
	}
}
