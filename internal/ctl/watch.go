package ctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command's behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool      // output raw JSON per message
}

// inboundMessage mirrors the ws package's outboundMessage wire shape:
// {"type": "...", "payload": ...}.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Watch connects to the daemon's /ws endpoint and streams events to the
// terminal until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, u.String()))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))
		fmt.Println()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var m inboundMessage
			if err := json.Unmarshal(msg, &m); err == nil && len(filterSet) > 0 && !filterSet[m.Type] {
				continue
			}

			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				renderMessage(msg)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// renderMessage parses a server→client frame and prints it in a
// human-friendly format. Falls back to raw JSON for unrecognized types.
func renderMessage(raw []byte) {
	var m inboundMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		fmt.Printf("  %s\n", string(raw))
		return
	}

	now := time.Now().Local().Format("15:04:05")

	switch m.Type {
	case "init":
		// The init frame carries its snapshot in a top-level "state" field
		// rather than in "payload".
		var s struct {
			State statusResponse `json:"state"`
		}
		_ = json.Unmarshal(raw, &s)
		fmt.Printf("  %s %s  status=%s sdr_connected=%v\n",
			colorize(dim, now), colorize(bold, "INIT"), colorize(statusColor(s.State.Status), s.State.Status), s.State.SDRConnected)

	case "status_change", "pass_start", "pass_complete", "progress", "scanning_frequency":
		renderBusEvent(now, m)

	case "fft_slice":
		fmt.Printf("  %s %s\n", colorize(dim, now), colorize(dim, "fft_slice (use --json to inspect)"))

	case "fft_subscribed", "fft_unsubscribed":
		fmt.Printf("  %s %s\n", colorize(dim, now), colorize(cyan, m.Type))

	case "error":
		var e struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(m.Payload, &e)
		fmt.Printf("  %s %s  %s: %s\n", colorize(dim, now), colorize(red, "ERROR"), e.Kind, e.Message)

	default:
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "  ", "  "); err != nil {
			fmt.Printf("  %s\n", string(raw))
			return
		}
		fmt.Printf("  %s\n", pretty.String())
	}
}

// renderBusEvent renders the subset of statebus.Event that rides along on
// every non-init message: type, current status, and the event-specific
// payload fields the Scheduler/demo.Runner attach.
func renderBusEvent(ts string, m inboundMessage) {
	var ev struct {
		Type    string          `json:"type"`
		State   statusResponse  `json:"state"`
		Payload map[string]any  `json:"payload"`
	}
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		fmt.Printf("  %s %s\n", colorize(dim, ts), string(m.Payload))
		return
	}

	label := colorize(bold, strings.ToUpper(ev.Type))
	statusStr := colorize(statusColor(ev.State.Status), ev.State.Status)

	switch ev.Type {
	case "pass_start":
		sat, _ := ev.Payload["pass"].(map[string]any)
		name, _ := sat["satellite"].(string)
		fmt.Printf("  %s %s  %s  satellite=%s\n", colorize(dim, ts), label, statusStr, name)

	case "pass_complete":
		result, _ := ev.Payload["result"].(map[string]any)
		success, _ := result["success"].(bool)
		outcome := colorize(green, "success")
		if !success {
			outcome = colorize(red, "failed")
		}
		fmt.Printf("  %s %s  %s  %s\n", colorize(dim, ts), label, statusStr, outcome)

	case "progress":
		pct, _ := ev.Payload["percent"].(float64)
		fmt.Printf("  %s %s  [%s] %3.0f%%\n", colorize(dim, ts), colorize(cyan, padRight("progress", 10)), progressBar(pct, 20), pct)

	case "scanning_frequency":
		label2, _ := ev.Payload["label"].(string)
		freq, _ := ev.Payload["frequency_hz"].(float64)
		fmt.Printf("  %s %s  %s (%s)\n", colorize(dim, ts), colorize(cyan, "scanning"), formatFreq(int(freq)), label2)

	default:
		fmt.Printf("  %s %s  %s\n", colorize(dim, ts), label, statusStr)
	}
}
