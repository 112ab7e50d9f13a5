// ABOUTME: Human-readable rendering of schedule responses.
// ABOUTME: Produces plain text suitable for chat surfaces.

package mtr

import (
	"fmt"
	"strings"
)

// FormatSchedule renders a schedule response as plain text. The line
// and station codes are used for the heading; upstream errors and
// empty feeds produce a short explanatory message instead of a table.
func FormatSchedule(resp *ScheduleResponse, lineCode, staCode string) string {
	if resp.Error != nil {
		return fmt.Sprintf("The schedule service reported an error for %s on the %s: %s (%s)",
			StationName(staCode), LineName(lineCode), resp.Error.Msg, resp.Error.Code)
	}
	if resp.Status == 0 && resp.Message != "" {
		return fmt.Sprintf("Realtime data is unavailable for %s: %s",
			StationName(staCode), resp.Message)
	}

	platform, ok := resp.Platform()
	if !ok {
		return fmt.Sprintf("No realtime data for %s on the %s right now.",
			StationName(staCode), LineName(lineCode))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Next trains at %s (%s)\n", StationName(staCode), LineName(lineCode))
	if resp.CurrTime != "" {
		fmt.Fprintf(&b, "As of %s\n", resp.CurrTime)
	}

	writeDirection(&b, "Upbound", platform.Up)
	writeDirection(&b, "Downbound", platform.Down)

	if resp.Delayed() {
		b.WriteString("\nA service delay is currently in effect.\n")
	}
	return b.String()
}

func writeDirection(b *strings.Builder, heading string, trains []Train) {
	if len(trains) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for i, t := range trains {
		fmt.Fprintf(b, "  %d. To %s", i+1, StationName(t.Dest))
		if t.Plat != "" {
			fmt.Fprintf(b, ", platform %s", t.Plat)
		}
		switch t.TTNT {
		case "0":
			b.WriteString(", arriving now")
		case "1":
			b.WriteString(", in 1 minute")
		case "":
		default:
			fmt.Fprintf(b, ", in %s minutes", t.TTNT)
		}
		if t.Time != "" {
			fmt.Fprintf(b, " (%s)", t.Time)
		}
		b.WriteString("\n")
	}
}
