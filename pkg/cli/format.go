// Package cli provides the terminal formatting used by newtdeploy output.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
)

// colorEnabled is false when NO_COLOR is set (no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

// SetColor forces color on or off.
func SetColor(on bool) { colorEnabled = on }

func paint(code, s string) string {
	if !colorEnabled || s == "" {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Green(s string) string  { return paint("32", s) }
func Yellow(s string) string { return paint("33", s) }
func Red(s string) string    { return paint("31", s) }
func Bold(s string) string   { return paint("1", s) }
func Dim(s string) string    { return paint("2", s) }

// Status colors a deployment, device, or stage state.
func Status(s string) string {
	switch s {
	case model.StatusCompleted, "done", "passed", "ok":
		return Green(s)
	case model.StatusFailed, model.StatusAborted:
		return Red(s)
	case model.StatusRunning, model.StatusPending, "no_op", "skipped":
		return Yellow(s)
	}
	return s
}

// Risk colors a risk level.
func Risk(r model.RiskLevel) string {
	switch r {
	case model.RiskHigh:
		return Red(string(r))
	case model.RiskMedium:
		return Yellow(string(r))
	}
	return Green(string(r))
}

// Change colors a change type the way diff tools do.
func Change(c model.ChangeType) string {
	switch c {
	case model.ChangeAdd:
		return Green("+" + string(c))
	case model.ChangeRemove:
		return Red("-" + string(c))
	}
	return Yellow("~" + string(c))
}

// YesNo renders a boolean.
func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Seconds renders an estimate in seconds as a short duration ("1m30s").
func Seconds(n int) string {
	return (time.Duration(n) * time.Second).String()
}

// Elapsed rounds d for display.
func Elapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// Truncate shortens s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// DotPad pads name with dots to width: DotPad("check", 12) is "check ......".
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}

// Percent renders a 0..1 fraction.
func Percent(f float64) string {
	return fmt.Sprintf("%3.0f%%", f*100)
}
