// Package report renders end-of-run summaries of a pipeline execution: a
// table of step outcomes for humans and JSON lines for downstream CI.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dkoosis/covpipe/covpipe"
)

// WriteSummary renders the step results as a table followed by the overall
// verdict line.
func WriteSummary(w io.Writer, sum *covpipe.RunSummary, theme Theme) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Step", "Duration", "Exit", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
	})

	for _, res := range sum.Results {
		t.AppendRow(table.Row{
			statusIcon(res.Status, theme),
			res.Name,
			formatDuration(res),
			formatExit(res),
			statusLabel(res, theme),
		})
	}
	t.Render()

	if sum.Failed() {
		fmt.Fprintf(w, "%s (exit %d, %s)\n",
			theme.Error.Render("pipeline failed"), sum.ExitCode, sum.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(w, "%s (%s)\n",
			theme.Success.Render("pipeline succeeded"), sum.Duration.Round(time.Millisecond))
	}
}

// WriteJSON emits one JSON document per step result, newline separated.
func WriteJSON(w io.Writer, sum *covpipe.RunSummary) error {
	for i := range sum.Results {
		data, err := sum.Results[i].ToJSON()
		if err != nil {
			return fmt.Errorf("encoding result %q: %w", sum.Results[i].Name, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func statusIcon(status string, theme Theme) string {
	switch status {
	case covpipe.StatusSuccess:
		return theme.Success.Render(theme.Icons.Pass)
	case covpipe.StatusSuppressed:
		return theme.Warning.Render(theme.Icons.Warn)
	case covpipe.StatusSkipped:
		return theme.Muted.Render(theme.Icons.Skip)
	default:
		return theme.Error.Render(theme.Icons.Fail)
	}
}

func statusLabel(res covpipe.StepResult, theme Theme) string {
	switch res.Status {
	case covpipe.StatusSuccess:
		return theme.Success.Render("success")
	case covpipe.StatusSuppressed:
		// Distinguish "lint found problems" from "lint tool never ran" in the
		// summary, even though neither affects the exit code.
		if covpipe.IsCommandNotFound(res.Err) {
			return theme.Warning.Render("suppressed (tool missing)")
		}
		return theme.Warning.Render("suppressed")
	case covpipe.StatusSkipped:
		return theme.Muted.Render("skipped")
	default:
		return theme.Error.Render("failed")
	}
}

func formatDuration(res covpipe.StepResult) string {
	if res.Status == covpipe.StatusSkipped {
		return "-"
	}
	return res.Duration.Round(time.Millisecond).String()
}

func formatExit(res covpipe.StepResult) string {
	if res.Status == covpipe.StatusSkipped {
		return "-"
	}
	return fmt.Sprintf("%d", res.ExitCode)
}
