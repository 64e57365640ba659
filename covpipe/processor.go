// Package covpipe runs a project's coverage pipeline: a fixed, ordered list
// of steps (environment activation, dependency install, instrumented test
// runs, coverage combine/export, lint) executed fail-fast, with exactly one
// designated non-fatal step whose output is redirected to a log file.
package covpipe

import (
	"bufio"
	"strings"
	"time"
)

// Line classification values.
const (
	TypeDetail  = "detail"
	TypeError   = "error"
	TypeWarning = "warning"
	TypeSuccess = "success"
)

// Processor classifies captured step output line by line so that failures can
// be replayed with the interesting lines highlighted.
type Processor struct {
	maxLineLength int
}

// NewProcessor creates a Processor. maxLineLength bounds the scanner's token
// size; zero selects the default.
func NewProcessor(maxLineLength int) *Processor {
	if maxLineLength <= 0 {
		maxLineLength = bufio.MaxScanTokenSize
	}
	return &Processor{maxLineLength: maxLineLength}
}

var errorMarkers = []string{
	"Traceback (most recent call last)",
	"ERROR",
	"FAILED",
	"--- FAIL",
	"error:",
	"Error:",
	"fatal:",
	"panic:",
}

var warningMarkers = []string{
	"WARNING",
	"warning:",
	"DeprecationWarning",
	"--- SKIP",
	"skipped",
}

var successMarkers = []string{
	"--- PASS",
	"PASSED",
	"OK (",
	"ok  \t",
}

// Classify maps one output line to a Line type. The markers cover the tools
// this pipeline drives: unittest/pytest style runners, the coverage tool,
// pylint, go test and golangci-lint.
func (p *Processor) Classify(line string) string {
	for _, m := range errorMarkers {
		if strings.Contains(line, m) {
			return TypeError
		}
	}
	for _, m := range warningMarkers {
		if strings.Contains(line, m) {
			return TypeWarning
		}
	}
	for _, m := range successMarkers {
		if strings.Contains(line, m) {
			return TypeSuccess
		}
	}
	return TypeDetail
}

// ScanLines splits raw output into classified, timestamped lines.
func (p *Processor) ScanLines(output []byte) []Line {
	var lines []Line
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	buf := make([]byte, 0, bufio.MaxScanTokenSize)
	scanner.Buffer(buf, p.maxLineLength)

	now := time.Now()
	for scanner.Scan() {
		text := scanner.Text()
		lines = append(lines, Line{
			Content:   text,
			Type:      p.Classify(text),
			Timestamp: now,
		})
	}
	return lines
}

// HasErrors reports whether any line was classified as an error.
func HasErrors(lines []Line) bool {
	for _, l := range lines {
		if l.Type == TypeError {
			return true
		}
	}
	return false
}
