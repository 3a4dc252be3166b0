// Nwctl is the command-line client for monitoring and controlling a running
// nightwatchd instance. It connects over HTTP and WebSocket to query status
// and stream live events from the daemon.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/milesburton/night-watch/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Night Watch daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter status_change,progress)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --duration are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "passes":
		err = ctl.Passes(*host, ctl.PassesOptions{JSON: *jsonOut})

	case "captures":
		opts := ctl.CapturesOptions{JSON: *jsonOut}
		capFlags := pflag.NewFlagSet("captures", pflag.ContinueOnError)
		capFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of captures shown")
		_ = capFlags.Parse(subArgs)
		err = ctl.Captures(*host, opts)

	case "summary":
		err = ctl.Summary(*host, *jsonOut)

	case "fft-status":
		err = ctl.FFTStatus(*host, *jsonOut)

	case "notch-list":
		err = ctl.NotchList(*host, *jsonOut)

	case "notch-add":
		notchFlags := pflag.NewFlagSet("notch-add", pflag.ContinueOnError)
		lowHz := notchFlags.Int("low-hz", 0, "Notch band low edge in Hz")
		highHz := notchFlags.Int("high-hz", 0, "Notch band high edge in Hz")
		_ = notchFlags.Parse(subArgs)
		err = ctl.NotchAdd(*host, *lowHz, *highHz, *jsonOut)

	case "sstv-status":
		err = ctl.SSTVStatus(*host, *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "trigger":
		opts := ctl.TriggerOptions{JSON: *jsonOut, DurationSeconds: 600}
		triggerFlags := pflag.NewFlagSet("trigger", pflag.ContinueOnError)
		triggerFlags.IntVar(&opts.CatalogID, "catalog-id", 0, "Catalog ID of the satellite to capture")
		triggerFlags.IntVar(&opts.DurationSeconds, "duration", 600, "Capture duration in seconds")
		_ = triggerFlags.Parse(subArgs)
		err = ctl.Trigger(*host, opts)

	case "sstv-capture":
		opts := ctl.SSTVCaptureOptions{JSON: *jsonOut}
		sstvFlags := pflag.NewFlagSet("sstv-capture", pflag.ContinueOnError)
		sstvFlags.IntVar(&opts.FrequencyHz, "freq-hz", 0, "Frequency to capture, in Hz")
		sstvFlags.IntVar(&opts.DurationSeconds, "duration", 0, "Capture duration in seconds (defaults to config)")
		_ = sstvFlags.Parse(subArgs)
		err = ctl.SSTVCapture(*host, opts)

	case "gain":
		if len(subArgs) < 1 {
			err = fmt.Errorf("usage: nwctl gain <db>")
			break
		}
		gain, parseErr := strconv.ParseFloat(subArgs[0], 64)
		if parseErr != nil {
			err = fmt.Errorf("invalid gain %q: %w", subArgs[0], parseErr)
			break
		}
		err = ctl.SetGain(*host, gain, *jsonOut)

	case "notch-remove":
		if len(subArgs) < 1 {
			err = fmt.Errorf("usage: nwctl notch-remove <id>")
			break
		}
		err = ctl.NotchRemove(*host, subArgs[0], *jsonOut)

	case "notch-enable", "notch-disable":
		if len(subArgs) < 1 {
			err = fmt.Errorf("usage: nwctl %s <id>", cmd)
			break
		}
		err = ctl.NotchEnable(*host, subArgs[0], cmd == "notch-enable", *jsonOut)

	case "tle-refresh":
		err = ctl.TLERefresh(*host, *jsonOut)

	case "pause":
		err = ctl.Pause(*host, *jsonOut)

	case "resume":
		err = ctl.Resume(*host, *jsonOut)

	case "skip":
		err = ctl.Skip(*host, *jsonOut)

	case "cancel":
		err = ctl.Cancel(*host, *jsonOut)

	case "fft-stop":
		err = ctl.FFTStop(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  nwctl — Night Watch ground-station control CLI

  USAGE
    nwctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon status, current/next pass, and SDR state
    health           Check daemon liveness
    passes           List upcoming satellite passes
    captures         List recent captures
    summary          Show aggregate capture statistics
    fft-status       Show wideband FFT stream state and subscriber count
    notch-list       List active FFT notch filters
    sstv-status      Show SSTV ground-scan/manual-capture state

  COMMANDS (control)
    trigger          Force an immediate capture of a known catalog satellite
    sstv-capture     Request a manual, frequency-addressed SSTV capture
    gain             Set the receiver's manual RF gain in dB
    notch-add        Add a new FFT notch filter
    notch-remove     Remove a notch filter by id
    notch-enable     Enable a notch filter by id
    notch-disable    Disable a notch filter by id
    tle-refresh      Force a TLE data update from the network
    pause            Pause automatic pass scheduling
    resume           Resume pass scheduling
    skip             Skip the current/next scheduled pass
    cancel           Abort an in-progress capture
    fft-stop         Force the wideband FFT stream to stop

  COMMANDS (live)
    watch            Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    captures:
        --limit N           Limit number of captures shown

    trigger:
        --catalog-id ID     Catalog ID of the satellite to capture
        --duration SECS     Capture duration in seconds (default: 600)

    sstv-capture:
        --freq-hz HZ        Frequency to capture, in Hz
        --duration SECS     Capture duration in seconds

    notch-add:
        --low-hz HZ         Notch band low edge in Hz
        --high-hz HZ        Notch band high edge in Hz

  EXAMPLES
    nwctl status
    nwctl --json status
    nwctl --host http://192.168.8.1:8080 watch
    nwctl passes
    nwctl captures --limit 10
    nwctl trigger --catalog-id 25338 --duration 600
    nwctl sstv-capture --freq-hz 145800000 --duration 120
    nwctl gain 30
    nwctl notch-add --low-hz 99000000 --high-hz 101000000
    nwctl notch-remove notch-1
    nwctl tle-refresh
    nwctl pause
    nwctl resume
    nwctl skip
    nwctl cancel
    nwctl fft-status
    nwctl fft-stop
    nwctl watch --filter status_change,progress

`)
}
