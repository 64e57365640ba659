package covpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Buffer sizes and limits.
const (
	// ReadBufferSize is the buffer size for reading from pipes (4KB).
	ReadBufferSize = 4096

	// SignalTimeout is the grace period between forwarding a signal and
	// force-killing the process group.
	SignalTimeout = 2 * time.Second

	// DefaultMaxBufferSize caps captured output per stream (10MB).
	DefaultMaxBufferSize = 10 * 1024 * 1024

	// DefaultMaxLineLength caps a single scanned output line (1MB).
	DefaultMaxLineLength = 1 * 1024 * 1024
)

// ShowOutput modes for captured command output.
const (
	ShowAlways = "always"
	ShowOnFail = "on-fail"
	ShowNever  = "never"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Out           io.Writer // step progress output, defaults to os.Stdout
	Err           io.Writer // runner diagnostics, defaults to os.Stderr
	Monochrome    bool
	ShowOutput    string // "always", "on-fail" (default), "never"
	Spinner       bool   // animate an inline spinner while a step runs (TTY only)
	Debug         bool
	MaxBufferSize int64
	MaxLineLength int
}

// ExecSpec describes one external command invocation.
type ExecSpec struct {
	Label   string
	Command string
	Args    []string
	Dir     string
	Env     []string // full environment for the process; nil inherits
}

// Runner executes external commands, capturing and classifying their output.
// It forwards interrupt signals to the child's process group and converts the
// child's exit status into a StepResult.
type Runner struct {
	cfg  RunnerConfig
	proc *Processor
}

// NewRunner creates a Runner with normalized configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.ShowOutput == "" {
		cfg.ShowOutput = ShowOnFail
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.MaxLineLength == 0 {
		cfg.MaxLineLength = DefaultMaxLineLength
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Err == nil {
		cfg.Err = os.Stderr
	}
	return &Runner{
		cfg:  cfg,
		proc: NewProcessor(cfg.MaxLineLength),
	}
}

// Run executes a command and returns the result.
//
// Error semantics:
//   - (result, nil) when the command exits zero
//   - (result, error wrapping ErrNonZeroExit and ExitCodeError) when the
//     command runs but exits non-zero
//   - (result, error) for infrastructure failures (command not found, pipe
//     errors, context cancelled); ExitCode is 127 for missing commands
//
// The returned StepResult is always non-nil.
func (r *Runner) Run(label, command string, args ...string) (*StepResult, error) {
	return r.RunSpec(context.Background(), ExecSpec{Label: label, Command: command, Args: args})
}

// RunSpec executes the given spec, forwarding interrupt signals to the child
// for as long as it runs.
func (r *Runner) RunSpec(ctx context.Context, spec ExecSpec) (*StepResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, getInterruptSignals()...)

	return r.runContext(ctx, cancel, sigChan, spec)
}

func (r *Runner) runContext(
	ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, spec ExecSpec,
) (*StepResult, error) {
	label := spec.Label
	if label == "" {
		label = spec.Command
	}

	start := time.Now()
	result := &StepResult{Name: label}

	var spin *Spinner
	if r.spinnerEnabled() {
		spin = NewSpinner(SpinnerConfig{
			Message: label,
			Writer:  r.cfg.Out,
		})
		spin.Start()
	} else {
		fmt.Fprintf(r.cfg.Out, "%s▶ %s%s\n", r.color(ansiMuted), label, r.color(ansiReset))
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if spec.Env != nil {
		cmd.Env = spec.Env
	} else {
		cmd.Env = os.Environ()
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	setProcessGroup(cmd)

	cmdDone := make(chan struct{})

	// Forward interrupt signals to the child's process group; escalate to
	// SIGKILL if it does not exit within SignalTimeout.
	signalHandlerDone := make(chan struct{})
	go func() {
		defer func() {
			signal.Stop(sigChan)
			close(signalHandlerDone)
		}()
		select {
		case sig := <-sigChan:
			if cmd.Process == nil {
				cancel()
				return
			}
			if err := killProcessGroup(cmd, sig); err != nil && r.cfg.Debug {
				fmt.Fprintf(r.cfg.Err, "[debug] forwarding signal: %v\n", err)
			}
			select {
			case <-cmdDone:
			case <-time.After(SignalTimeout):
				if cmd.Process != nil && cmd.ProcessState == nil {
					_ = killProcessGroupWithSIGKILL(cmd)
				}
				cancel()
			}
		case <-ctx.Done():
			if cmd.Process != nil && cmd.ProcessState == nil {
				_ = killProcessGroupWithSIGKILL(cmd)
			}
		case <-cmdDone:
		}
	}()

	output, runErr := r.captureOutput(cmd, cmdDone)
	<-signalHandlerDone

	if spin != nil {
		spin.Stop()
	}

	result.Duration = time.Since(start)
	result.ExitCode = getExitCode(runErr, r.cfg.Debug, r.cfg.Err)
	result.Lines = r.proc.ScanLines(output)
	result.Err = runErr

	if runErr == nil {
		result.Status = StatusSuccess
	} else {
		result.Status = StatusError
	}

	r.renderResult(result)

	if runErr == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return result, fmt.Errorf("%s: %w: %w", label, ErrNonZeroExit, ExitCodeError{Code: result.ExitCode})
	}
	return result, fmt.Errorf("%s: %w", label, runErr)
}

// captureOutput starts the command and buffers stdout and stderr concurrently,
// bounded by MaxBufferSize per stream. cmdDone is closed once Wait returns,
// which releases the signal-forwarding goroutine.
func (r *Runner) captureOutput(cmd *exec.Cmd, cmdDone chan struct{}) ([]byte, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		close(cmdDone)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		_ = stdoutPipe.Close()
		close(cmdDone)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdoutPipe.Close()
		_ = stderrPipe.Close()
		close(cmdDone)
		return nil, err
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var total int64
	maxTotal := r.cfg.MaxBufferSize * 2

	var wg sync.WaitGroup
	wg.Add(2)
	copyStream := func(dst *bytes.Buffer, src io.Reader) {
		defer wg.Done()
		buf := make([]byte, ReadBufferSize)
		for {
			n, readErr := src.Read(buf)
			if n > 0 && atomic.AddInt64(&total, int64(n)) <= maxTotal {
				dst.Write(buf[:n])
			}
			if readErr != nil {
				return
			}
		}
	}
	go copyStream(&stdoutBuf, stdoutPipe)
	go copyStream(&stderrBuf, stderrPipe)

	// Wait closes the pipes, so both streams must be read to EOF first.
	wg.Wait()
	runErr := cmd.Wait()
	close(cmdDone)

	return append(stdoutBuf.Bytes(), stderrBuf.Bytes()...), runErr
}

// renderResult prints the end-of-step line and, depending on ShowOutput,
// replays the captured output.
func (r *Runner) renderResult(res *StepResult) {
	switch res.Status {
	case StatusSuccess:
		fmt.Fprintf(r.cfg.Out, "%s✓%s %s %s(%s)%s\n",
			r.color(ansiGreen), r.color(ansiReset), res.Name,
			r.color(ansiMuted), res.Duration.Round(time.Millisecond), r.color(ansiReset))
	default:
		fmt.Fprintf(r.cfg.Out, "%s✗%s %s %s(exit %d, %s)%s\n",
			r.color(ansiRed), r.color(ansiReset), res.Name,
			r.color(ansiMuted), res.ExitCode, res.Duration.Round(time.Millisecond), r.color(ansiReset))
	}

	show := r.cfg.ShowOutput == ShowAlways ||
		(r.cfg.ShowOutput == ShowOnFail && res.Status != StatusSuccess)
	if !show || len(res.Lines) == 0 {
		return
	}

	fmt.Fprintf(r.cfg.Out, "%s--- captured output ---%s\n", r.color(ansiMuted), r.color(ansiReset))
	for _, line := range res.Lines {
		switch line.Type {
		case TypeError:
			fmt.Fprintf(r.cfg.Out, "  %s%s%s\n", r.color(ansiRed), line.Content, r.color(ansiReset))
		case TypeWarning:
			fmt.Fprintf(r.cfg.Out, "  %s%s%s\n", r.color(ansiYellow), line.Content, r.color(ansiReset))
		default:
			fmt.Fprintf(r.cfg.Out, "  %s\n", line.Content)
		}
	}
}

func (r *Runner) spinnerEnabled() bool {
	if !r.cfg.Spinner || r.cfg.Monochrome {
		return false
	}
	f, ok := r.cfg.Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ANSI codes used for plain (non-lipgloss) step lines.
const (
	ansiReset  = "\033[0m"
	ansiMuted  = "\033[38;5;245m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
)

func (r *Runner) color(code string) string {
	if r.cfg.Monochrome || os.Getenv("NO_COLOR") != "" {
		return ""
	}
	return code
}

func getExitCode(err error, debug bool, debugOut io.Writer) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code, ok := getExitCodeFromError(exitErr); ok {
			return code
		}
		if debug {
			fmt.Fprintf(debugOut, "[debug] ExitError.Sys() not WaitStatus: %T\n", exitErr.Sys())
		}
		return 1
	}

	if isCommandNotFoundError(err) {
		return 127
	}
	return 1
}

// isCommandNotFoundError checks whether err indicates a missing executable.
// Handles exec.ErrNotFound plus platform-specific string fallbacks.
func isCommandNotFoundError(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	errStr := err.Error()
	if strings.Contains(errStr, "executable file not found") {
		return true
	}
	if runtime.GOOS != "windows" && strings.Contains(errStr, "no such file or directory") {
		return true
	}
	return false
}

// IsCommandNotFound reports whether err (possibly wrapped) stems from a
// missing executable.
func IsCommandNotFound(err error) bool {
	return err != nil && isCommandNotFoundError(err)
}
