package ctl

import (
	"fmt"
	"strings"
)

// PassesOptions controls the passes command output.
type PassesOptions struct {
	JSON bool
}

// Passes lists the upcoming satellite passes currently held by the
// daemon's StateBus (GET /api/passes).
func Passes(baseURL string, opts PassesOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var passes []pass
	if err := getJSON(baseURL, "/api/passes", &passes); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(passes)
	}

	fmt.Println()
	fmt.Println(header("  UPCOMING PASSES"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 70)))

	if len(passes) == 0 {
		fmt.Println(colorize(dim, "  No upcoming passes."))
		fmt.Println()
		return nil
	}

	t := newTable("  ", "Satellite", "Frequency", "AOS", "LOS", "Max elev")
	for _, p := range passes {
		t.row(
			p.Satellite,
			formatFreq(p.FreqHz),
			p.AOS.Local().Format("2006-01-02 15:04"),
			p.LOS.Local().Format("15:04"),
			fmt.Sprintf("%.1f°", p.MaxElevDeg),
		)
	}
	t.flush()
	fmt.Println()

	return nil
}
