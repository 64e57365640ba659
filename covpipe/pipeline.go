package covpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunEnv is the mutable execution environment shared by the steps of one run.
// The activation step fills it in; later steps resolve their interpreter and
// process environment from it. Ordering is guaranteed by sequential
// execution, not by locking.
type RunEnv struct {
	WorkDir     string
	Interpreter string   // absolute path of the activated environment's interpreter
	Vars        []string // full environ applied to every subsequent step
}

// Environ returns the environment for a step process. A nil Vars falls back
// to the ambient process environment.
func (e *RunEnv) Environ() []string {
	if e.Vars == nil {
		return os.Environ()
	}
	return e.Vars
}

// ActionFunc is a built-in pipeline step. It may mutate env (activation does)
// and writes human-readable output to out. A non-nil error fails the step.
type ActionFunc func(ctx context.Context, env *RunEnv, out *ActionOutput) error

// CommandFunc resolves an external step's invocation against the run
// environment established by earlier steps.
type CommandFunc func(env *RunEnv) ExecSpec

// Step is one pipeline entry: a named command (or built-in action) plus a
// fatal flag. Exactly one of Action and Command is set.
type Step struct {
	Name    string
	Fatal   bool
	LogFile string // non-empty: combined output is redirected to this file
	Action  ActionFunc
	Command CommandFunc
}

// ActionOutput collects the lines an ActionFunc produces.
type ActionOutput struct {
	lines []Line
}

// Printf records a formatted detail line.
func (o *ActionOutput) Printf(format string, args ...any) {
	o.lines = append(o.lines, Line{
		Content:   fmt.Sprintf(format, args...),
		Type:      TypeDetail,
		Timestamp: time.Now(),
	})
}

// StepEvent notifies an observer of pipeline progress.
type StepEvent struct {
	Index  int
	Name   string
	Done   bool
	Result *StepResult // set when Done
}

// RunSummary is the outcome of one pipeline execution.
type RunSummary struct {
	Results  []StepResult
	ExitCode int
	Duration time.Duration
}

// Failed reports whether the run ended at a fatal step.
func (s *RunSummary) Failed() bool { return s.ExitCode != 0 }

// Pipeline executes an ordered list of steps strictly sequentially: step k+1
// never starts before step k has exited. A fatal step's non-zero exit aborts
// the run and becomes the overall exit code; a non-fatal step's failure is
// absorbed after its output has been flushed to its log file.
type Pipeline struct {
	Steps    []Step
	Env      RunEnv
	Runner   *Runner
	Observer func(StepEvent) // optional progress hook
}

// Execute runs the pipeline. It always returns a summary covering every step:
// executed ones carry their real status, unreached ones are marked skipped.
func (p *Pipeline) Execute(ctx context.Context) *RunSummary {
	start := time.Now()
	summary := &RunSummary{}

	aborted := false
	for i, step := range p.Steps {
		if aborted {
			summary.Results = append(summary.Results, StepResult{
				Name:   step.Name,
				Fatal:  step.Fatal,
				Status: StatusSkipped,
			})
			continue
		}

		p.notify(StepEvent{Index: i, Name: step.Name})

		res := p.runStep(ctx, step)

		if step.LogFile != "" {
			if err := writeLogFile(step.LogFile, res.Lines); err != nil && res.Err == nil {
				res.Err = err
				res.Status = StatusError
				res.ExitCode = 1
			}
			res.LogFile = step.LogFile
		}

		if res.Status == StatusError {
			if step.Fatal {
				if res.ExitCode == 0 {
					res.ExitCode = 1
				}
				summary.ExitCode = res.ExitCode
				aborted = true
			} else {
				// The designated non-fatal step: failure is recorded but
				// converted to success for the run as a whole.
				res.Status = StatusSuppressed
			}
		}

		p.notify(StepEvent{Index: i, Name: step.Name, Done: true, Result: res})
		summary.Results = append(summary.Results, *res)
	}

	summary.Duration = time.Since(start)
	return summary
}

func (p *Pipeline) runStep(ctx context.Context, step Step) *StepResult {
	// The log file exists from the moment the step starts, even if the tool
	// turns out to be missing.
	if step.LogFile != "" {
		if err := touchLogFile(step.LogFile); err != nil {
			return &StepResult{
				Name:     step.Name,
				Fatal:    step.Fatal,
				Status:   StatusError,
				ExitCode: 1,
				Err:      err,
			}
		}
	}

	if step.Action != nil {
		return p.runAction(ctx, step)
	}

	spec := step.Command(&p.Env)
	if spec.Label == "" {
		spec.Label = step.Name
	}
	if spec.Env == nil {
		spec.Env = p.Env.Environ()
	}
	if spec.Dir == "" {
		spec.Dir = p.Env.WorkDir
	}

	res, _ := p.Runner.RunSpec(ctx, spec)
	res.Name = step.Name
	res.Fatal = step.Fatal
	return res
}

func (p *Pipeline) runAction(ctx context.Context, step Step) *StepResult {
	start := time.Now()
	out := &ActionOutput{}
	err := step.Action(ctx, &p.Env, out)

	res := &StepResult{
		Name:     step.Name,
		Fatal:    step.Fatal,
		Duration: time.Since(start),
		Lines:    out.lines,
		Err:      err,
	}
	if err != nil {
		res.Status = StatusError
		res.ExitCode = 1
		res.Lines = append(res.Lines, Line{
			Content:   err.Error(),
			Type:      TypeError,
			Timestamp: time.Now(),
		})
		fmt.Fprintf(p.Runner.cfg.Out, "%s✗%s %s %s(%s)%s\n",
			p.Runner.color(ansiRed), p.Runner.color(ansiReset), step.Name,
			p.Runner.color(ansiMuted), res.Duration.Round(time.Millisecond), p.Runner.color(ansiReset))
	} else {
		res.Status = StatusSuccess
		fmt.Fprintf(p.Runner.cfg.Out, "%s✓%s %s %s(%s)%s\n",
			p.Runner.color(ansiGreen), p.Runner.color(ansiReset), step.Name,
			p.Runner.color(ansiMuted), res.Duration.Round(time.Millisecond), p.Runner.color(ansiReset))
	}
	return res
}

func (p *Pipeline) notify(ev StepEvent) {
	if p.Observer != nil {
		p.Observer(ev)
	}
}

func touchLogFile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	return f.Close()
}

func writeLogFile(path string, lines []Line) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l.Content); err != nil {
			return fmt.Errorf("writing log file: %w", err)
		}
	}
	return nil
}
