package covpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Step status values as recorded in a StepResult.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusSuppressed = "suppressed" // non-fatal step failed; run continued
	StatusSkipped    = "skipped"    // never started because an earlier fatal step failed
)

// Line is a single classified line of captured step output.
type Line struct {
	Content   string
	Type      string // "detail", "error", "warning", "success"
	Timestamp time.Time
}

// StepResult describes one executed (or skipped) pipeline step.
type StepResult struct {
	Name     string
	Fatal    bool
	Status   string
	Duration time.Duration
	ExitCode int
	LogFile  string // set when the step's output was redirected to a file
	Lines    []Line
	Err      error
}

// ToJSON renders the result as indented JSON for machine consumption.
func (r *StepResult) ToJSON() ([]byte, error) {
	type jsonLine struct {
		Content   string    `json:"content"`
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
	}

	type jsonResult struct {
		Version    string     `json:"version"`
		Name       string     `json:"name"`
		Fatal      bool       `json:"fatal"`
		Status     string     `json:"status"`
		ExitCode   int        `json:"exit_code"`
		Duration   string     `json:"duration"`
		DurationMs int64      `json:"duration_ms"`
		LogFile    string     `json:"log_file,omitempty"`
		Lines      []jsonLine `json:"lines"`
		Error      string     `json:"error,omitempty"`
	}

	lines := make([]jsonLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = jsonLine(l)
	}

	out := jsonResult{
		Version:    "1.0",
		Name:       r.Name,
		Fatal:      r.Fatal,
		Status:     r.Status,
		ExitCode:   r.ExitCode,
		Duration:   r.Duration.String(),
		DurationMs: r.Duration.Milliseconds(),
		LogFile:    r.LogFile,
		Lines:      lines,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	return json.MarshalIndent(out, "", "  ")
}

// ErrNonZeroExit is returned when a command completes but exits with a
// non-zero code. Use errors.Is(err, ErrNonZeroExit) to check for it.
var ErrNonZeroExit = errors.New("command exited with non-zero code")

// ExitCodeError wraps an exit code for programmatic access.
// Use errors.As to extract the code from errors returned by Runner.
type ExitCodeError struct {
	Code int
}

func (e ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
