// Package ui renders console output: coloured status lines, step progress,
// tables and interactive prompts.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/olekukonko/tablewriter"

	"lakedeploy/pkg/models"
)

var (
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")
)

// SetColor turns colour output on or off (--no-color, tests)
func SetColor(enabled bool) {
	supportsColor = enabled
	color.NoColor = !enabled
}

func colorFunc(style string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, style)
		}
		return text
	}
}

// StateLabel renders a deployment or step state in its colour
func StateLabel(state models.DeploymentState) string {
	s := string(state)
	switch state {
	case models.StateCompleted:
		return color.GreenString(s)
	case models.StateFailed:
		return color.RedString(s)
	case models.StateInProgress:
		return color.CyanString(s)
	case models.StateSkipped, models.StatePending:
		return color.YellowString(s)
	case models.StateDestroyed:
		return color.MagentaString(s)
	default:
		return s
	}
}

// RenderHistory writes one row per deployment record
func RenderHistory(w io.Writer, records []*models.DeploymentRecord) {
	table := newTable(w, "ID", "Workspace", "Capacity", "State", "Started", "Duration", "Steps")
	for _, rec := range records {
		done := 0
		for _, s := range rec.Steps {
			if s.State == models.StateCompleted {
				done++
			}
		}
		state := StateLabel(rec.State)
		if rec.DryRun {
			state += " (dry run)"
		}
		table.Append([]string{
			shortID(rec.ID),
			rec.Workspace,
			rec.Capacity,
			state,
			formatRelativeTime(rec.StartTime),
			recordDuration(rec),
			fmt.Sprintf("%d/%d", done, len(rec.Steps)),
		})
	}
	table.Render()
}

// RenderSteps writes the steps and resources of one deployment record
func RenderSteps(w io.Writer, rec *models.DeploymentRecord) {
	table := newTable(w, "#", "Step", "State", "Duration", "Error")
	for _, s := range rec.Steps {
		table.Append([]string{
			fmt.Sprintf("%d", s.Order),
			s.Name,
			StateLabel(s.State),
			stepDuration(s),
			s.ErrorMessage,
		})
	}
	table.Render()

	if len(rec.Resources) == 0 {
		return
	}
	fmt.Fprintln(w)
	resources := newTable(w, "Resource", "Value")
	for _, key := range sortedKeys(rec.Resources) {
		resources.Append([]string{key, rec.Resources[key]})
	}
	resources.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func recordDuration(rec *models.DeploymentRecord) string {
	if rec.EndTime == nil {
		return "-"
	}
	return formatDuration(rec.EndTime.Sub(rec.StartTime))
}

func stepDuration(s models.StepRecord) string {
	if s.Duration > 0 {
		return formatDuration(s.Duration)
	}
	return "-"
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// header renders a boxed title
func header(title string) string {
	width := 50
	if len(title)+4 > width {
		width = len(title) + 4
	}
	padding := (width - len(title) - 2) / 2
	var b strings.Builder
	b.WriteString("\n+" + strings.Repeat("-", width-2) + "+\n")
	b.WriteString("|" + strings.Repeat(" ", padding) + ColorBold(title) + strings.Repeat(" ", width-2-padding-len(title)) + "|\n")
	b.WriteString("+" + strings.Repeat("-", width-2) + "+\n")
	return b.String()
}
