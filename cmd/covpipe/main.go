// covpipe runs a project's coverage pipeline: activate an environment,
// install the coverage tool, run the test entry points under multiprocess-
// aware instrumentation, combine the coverage data, export XML and HTML
// reports, and finish with a lint pass whose findings never fail the run.
//
// Usage:
//
//	covpipe                  run the pipeline from .covpipe.yaml
//	covpipe -dry-run         print the resolved steps without executing
//	covpipe -tui             live progress view (TTY only)
//	covpipe -json            emit step results as JSON
//
// The exit code is the first fatal failing step's exit code, or 0. The lint
// step never affects it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dkoosis/covpipe/covpipe"
	"github.com/dkoosis/covpipe/internal/config"
	"github.com/dkoosis/covpipe/internal/version"
	"github.com/dkoosis/covpipe/pkg/report"
	"github.com/dkoosis/covpipe/pkg/tui"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("covpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFlag := fs.String("config", "", "path to .covpipe.yaml (default: search upward)")
	dryRun := fs.Bool("dry-run", false, "print the resolved step list without executing")
	useTUI := fs.Bool("tui", false, "live progress view (requires a terminal)")
	noColor := fs.Bool("no-color", false, "monochrome output")
	jsonOut := fs.Bool("json", false, "emit step results as JSON")
	debug := fs.Bool("debug", false, "verbose runner diagnostics")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "covpipe %s (%s, %s)\n", version.Version, version.CommitHash, version.BuildDate)
		return 0
	}

	cfg, code := loadConfig(*configFlag, stderr)
	if code >= 0 {
		return code
	}

	mono := *noColor || os.Getenv("NO_COLOR") != "" || !isTTYWriter(stdout)
	theme := report.DefaultTheme()
	if mono {
		theme = report.MonoTheme()
	}

	// The TUI only takes over on a real terminal; elsewhere -tui degrades to
	// the plain sequential view.
	liveView := *useTUI && isTTYWriter(stdout)

	runnerOut := stdout
	if liveView {
		// The TUI owns the terminal; per-step runner output would tear it.
		runnerOut = io.Discard
	}
	runner := covpipe.NewRunner(covpipe.RunnerConfig{
		Out:        runnerOut,
		Err:        stderr,
		Monochrome: mono,
		ShowOutput: cfg.ShowOutput,
		Spinner:    !liveView,
		Debug:      *debug,
	})

	pipeline, err := covpipe.BuildPipeline(cfg, runner)
	if err != nil {
		fmt.Fprintf(stderr, "covpipe: %v\n", err)
		return 2
	}

	if *dryRun {
		printSteps(stdout, pipeline, theme)
		return 0
	}

	ctx := context.Background()

	var summary *covpipe.RunSummary
	if liveView {
		summary, err = tui.Run(ctx, pipeline, theme)
		if err != nil {
			fmt.Fprintf(stderr, "covpipe: %v\n", err)
			return 2
		}
	} else {
		summary = pipeline.Execute(ctx)
	}

	if *jsonOut {
		if err := report.WriteJSON(stdout, summary); err != nil {
			fmt.Fprintf(stderr, "covpipe: %v\n", err)
			return 2
		}
	} else {
		report.WriteSummary(stdout, summary, theme)
	}

	return summary.ExitCode
}

// loadConfig resolves the config path and loads it.
// Returns (cfg, -1) on success; (nil, exitCode) on error.
func loadConfig(path string, stderr io.Writer) (*config.Config, int) {
	if path == "" {
		path = config.Find("")
	}
	if path == "" {
		fmt.Fprintf(stderr, "covpipe: no %s found (searched current and parent directories)\n", config.ConfigFileName)
		return nil, 2
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "covpipe: %v\n", err)
		return nil, 2
	}
	return cfg, -1
}

func printSteps(w io.Writer, p *covpipe.Pipeline, theme report.Theme) {
	for i, step := range p.Steps {
		kind := "exec"
		if step.Action != nil {
			kind = "builtin"
		}
		var notes []string
		if !step.Fatal {
			notes = append(notes, "non-fatal")
		}
		if step.LogFile != "" {
			notes = append(notes, "log: "+step.LogFile)
		}
		suffix := ""
		if len(notes) > 0 {
			suffix = theme.Muted.Render(" [" + strings.Join(notes, ", ") + "]")
		}
		fmt.Fprintf(w, "%2d. %s %s%s\n", i+1, step.Name, theme.Muted.Render("("+kind+")"), suffix)
	}
}

// isTTYWriter reports whether w is a terminal.
func isTTYWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
