// Nightwatchd is the ground-station daemon: it loads configuration, starts
// the HTTP/WebSocket server, and runs either the live predict-wait-capture
// scheduler or the service-mode demo loop depending on config. Shutdown is
// handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/milesburton/night-watch/internal/app"
	"github.com/milesburton/night-watch/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/night-watch/night-watch.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides config)")
	)
	pflag.Parse()

	var cfg config.Config
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config_invalid: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger := log.New(os.Stdout, "nightwatchd ", log.LstdFlags|log.Lmicroseconds)

	a, err := app.New(app.Options{
		Logger: logger,
		Cfg:    cfg,
		Bind:   *bind,
	})
	if err != nil {
		log.Fatalf("nightwatchd: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("nightwatchd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
