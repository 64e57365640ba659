package covpipe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellStep(name string, fatal bool, script string) Step {
	return Step{
		Name:  name,
		Fatal: fatal,
		Command: func(env *RunEnv) ExecSpec {
			return ExecSpec{Command: "sh", Args: []string{"-c", script}}
		},
	}
}

func newTestPipeline(steps ...Step) *Pipeline {
	var out bytes.Buffer
	return &Pipeline{
		Steps:  steps,
		Runner: newTestRunner(&out),
	}
}

func TestPipeline_Execute_AllSucceed(t *testing.T) {
	p := newTestPipeline(
		shellStep("first", true, "true"),
		shellStep("second", true, "true"),
	)
	sum := p.Execute(context.Background())

	assert.Equal(t, 0, sum.ExitCode)
	assert.False(t, sum.Failed())
	require.Len(t, sum.Results, 2)
	assert.Equal(t, StatusSuccess, sum.Results[0].Status)
	assert.Equal(t, StatusSuccess, sum.Results[1].Status)
	assert.Positive(t, sum.Duration)
}

// A fatal failure must abort immediately: the following step never starts,
// which is observable through the marker file it would have written.
func TestPipeline_Execute_FatalFailureAborts(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reached")
	p := newTestPipeline(
		shellStep("breaks", true, "exit 1"),
		shellStep("never-runs", true, "touch "+marker),
		shellStep("also-never-runs", true, "true"),
	)
	sum := p.Execute(context.Background())

	assert.Equal(t, 1, sum.ExitCode)
	require.Len(t, sum.Results, 3)
	assert.Equal(t, StatusError, sum.Results[0].Status)
	assert.Equal(t, StatusSkipped, sum.Results[1].Status)
	assert.Equal(t, StatusSkipped, sum.Results[2].Status)

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "aborted pipeline must not start later steps")
}

func TestPipeline_Execute_ExitCodePropagates(t *testing.T) {
	p := newTestPipeline(shellStep("breaks", true, "exit 3"))
	sum := p.Execute(context.Background())

	assert.Equal(t, 3, sum.ExitCode)
	assert.Equal(t, 3, sum.Results[0].ExitCode)
}

func TestPipeline_Execute_NonFatalFailureSuppressed(t *testing.T) {
	log := filepath.Join(t.TempDir(), "lint.log")
	p := newTestPipeline(
		shellStep("first", true, "true"),
		Step{
			Name:    "lint",
			Fatal:   false,
			LogFile: log,
			Command: func(env *RunEnv) ExecSpec {
				return ExecSpec{Command: "sh", Args: []string{"-c", "echo finding one; exit 4"}}
			},
		},
	)
	sum := p.Execute(context.Background())

	assert.Equal(t, 0, sum.ExitCode, "non-fatal failure must not fail the run")
	require.Len(t, sum.Results, 2)
	assert.Equal(t, StatusSuppressed, sum.Results[1].Status)
	assert.Equal(t, 4, sum.Results[1].ExitCode)

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(data), "finding one")
}

// Even when the tool binary is missing entirely (exit 127), the non-fatal
// step leaves its log file behind and the run still succeeds.
func TestPipeline_Execute_NonFatalToolMissing(t *testing.T) {
	log := filepath.Join(t.TempDir(), "lint.log")
	p := newTestPipeline(Step{
		Name:    "lint",
		Fatal:   false,
		LogFile: log,
		Command: func(env *RunEnv) ExecSpec {
			return ExecSpec{Command: "covpipe_no_such_linter_xyz"}
		},
	})
	sum := p.Execute(context.Background())

	assert.Equal(t, 0, sum.ExitCode)
	assert.Equal(t, StatusSuppressed, sum.Results[0].Status)
	assert.Equal(t, 127, sum.Results[0].ExitCode)
	assert.True(t, IsCommandNotFound(sum.Results[0].Err))

	_, err := os.Stat(log)
	assert.NoError(t, err, "log file must exist even when the tool is missing")
}

func TestPipeline_Execute_ActionFailureIsFatal(t *testing.T) {
	p := newTestPipeline(
		Step{
			Name:  "activate",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				return errors.New("environment not found")
			},
		},
		shellStep("never-runs", true, "true"),
	)
	sum := p.Execute(context.Background())

	assert.Equal(t, 1, sum.ExitCode)
	assert.Equal(t, StatusError, sum.Results[0].Status)
	assert.Equal(t, StatusSkipped, sum.Results[1].Status)
	require.NotEmpty(t, sum.Results[0].Lines)
	assert.Equal(t, "environment not found", sum.Results[0].Lines[len(sum.Results[0].Lines)-1].Content)
}

// An action that mutates the run environment (the activation step does) must
// affect how every later command step is launched.
func TestPipeline_Execute_ActionMutatesEnvForLaterSteps(t *testing.T) {
	p := newTestPipeline(
		Step{
			Name:  "activate",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				env.Vars = []string{"PATH=/usr/bin:/bin", "COVPIPE_ACTIVATED=yes"}
				return nil
			},
		},
		shellStep("probe", true, "test \"$COVPIPE_ACTIVATED\" = yes"),
	)
	sum := p.Execute(context.Background())

	assert.Equal(t, 0, sum.ExitCode)
	assert.Equal(t, StatusSuccess, sum.Results[1].Status)
}

func TestPipeline_Execute_ObserverSeesEveryStep(t *testing.T) {
	var events []StepEvent
	p := newTestPipeline(
		shellStep("one", true, "true"),
		shellStep("two", true, "true"),
	)
	p.Observer = func(ev StepEvent) { events = append(events, ev) }
	p.Execute(context.Background())

	require.Len(t, events, 4) // start and done per step
	assert.Equal(t, "one", events[0].Name)
	assert.False(t, events[0].Done)
	assert.True(t, events[1].Done)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, StatusSuccess, events[1].Result.Status)
	assert.Equal(t, "two", events[2].Name)
}

func TestPipeline_Execute_CommandRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(shellStep("touch", true, "touch here.txt"))
	p.Env.WorkDir = dir
	sum := p.Execute(context.Background())

	require.Equal(t, 0, sum.ExitCode)
	_, err := os.Stat(filepath.Join(dir, "here.txt"))
	assert.NoError(t, err)
}
