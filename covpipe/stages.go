package covpipe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dkoosis/covpipe/internal/config"
	"github.com/dkoosis/covpipe/pkg/coverage"
)

// BuildPipeline translates the project configuration into the fixed stage
// sequence: activate → install → one test run per entry point → combine →
// export XML → export HTML → lint. Only the lint stage is non-fatal.
func BuildPipeline(cfg *config.Config, runner *Runner) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workdir, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, fmt.Errorf("resolving workdir: %w", err)
	}

	p := &Pipeline{
		Env:    RunEnv{WorkDir: workdir},
		Runner: runner,
	}

	switch cfg.Toolchain {
	case config.ToolchainGo:
		p.Steps = buildGoSteps(cfg, workdir)
	default:
		p.Steps = buildPythonSteps(cfg, workdir)
	}
	return p, nil
}

// --- python toolchain: every stage is an external command, as in the
// original shell pipeline ---

func buildPythonSteps(cfg *config.Config, workdir string) []Step {
	steps := []Step{
		activateStep(cfg, workdir),
		{
			Name:  "install",
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				args := append([]string{"-m", "pip", "install"}, cfg.Install...)
				return ExecSpec{Command: env.Interpreter, Args: args}
			},
		},
	}

	for _, entry := range cfg.Tests.Entrypoints {
		steps = append(steps, Step{
			Name:  "test:" + strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry)),
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				// --parallel-mode keeps per-process data files apart when the
				// runner forks workers; --concurrency declares that forking.
				return ExecSpec{
					Command: env.Interpreter,
					Args: []string{"-m", "coverage", "run",
						"--parallel-mode", "--concurrency=multiprocessing", entry},
				}
			},
		})
	}

	steps = append(steps,
		Step{
			Name:  "combine",
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				return ExecSpec{Command: env.Interpreter, Args: []string{"-m", "coverage", "combine"}}
			},
		},
		Step{
			Name:  "export-xml",
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				return ExecSpec{Command: env.Interpreter, Args: []string{"-m", "coverage", "xml", "-o", cfg.Coverage.XML}}
			},
		},
		Step{
			Name:  "export-html",
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				return ExecSpec{Command: env.Interpreter, Args: []string{"-m", "coverage", "html", "-d", cfg.Coverage.HTML}}
			},
		},
		Step{
			Name:    "lint",
			Fatal:   false,
			LogFile: cfg.Lint.Log,
			Command: func(env *RunEnv) ExecSpec {
				args := []string{"-m", "pylint", "-ry"}
				if cfg.Lint.Config != "" {
					args = append(args, "--rcfile="+cfg.Lint.Config)
				}
				args = append(args, cfg.Lint.Target)
				return ExecSpec{Command: env.Interpreter, Args: args}
			},
		},
	)
	return steps
}

// activateStep resolves the named environment and, on success, rewrites the
// run environment the way activation observably does: the environment's bin
// directory leads PATH, the environment root is exported, and PYTHONPATH
// points at the workdir so local modules resolve in every later invocation.
func activateStep(cfg *config.Config, workdir string) Step {
	return Step{
		Name:  "activate",
		Fatal: true,
		Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
			root := cfg.Env.Root
			if root == "" {
				var err error
				root, err = findEnvRoot(cfg.Env.Name)
				if err != nil {
					return err
				}
			}

			interpreter := filepath.Join(root, "bin", "python")
			if _, err := os.Stat(interpreter); err != nil {
				return fmt.Errorf("environment %q has no interpreter at %s", cfg.Env.Name, interpreter)
			}

			env.Interpreter = interpreter
			env.Vars = activatedEnviron(root, workdir)
			out.Printf("activated %s (%s)", cfg.Env.Name, root)
			return nil
		},
	}
}

// findEnvRoot searches the conventional conda-style env directories for the
// named environment.
func findEnvRoot(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	var candidates []string
	if prefix := os.Getenv("CONDA_PREFIX"); prefix != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(prefix), name))
	}
	candidates = append(candidates,
		filepath.Join(home, "miniconda3", "envs", name),
		filepath.Join(home, "anaconda3", "envs", name),
		filepath.Join(home, "mambaforge", "envs", name),
		filepath.Join(home, ".conda", "envs", name),
	)

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("environment %q not found (searched %s)", name, strings.Join(candidates, ", "))
}

// activatedEnviron builds the process environment for steps running inside
// the activated environment.
func activatedEnviron(root, workdir string) []string {
	bin := filepath.Join(root, "bin")
	vars := []string{
		"CONDA_PREFIX=" + root,
		"VIRTUAL_ENV=" + root,
		"PYTHONPATH=" + workdir,
	}
	seen := map[string]bool{"CONDA_PREFIX": true, "VIRTUAL_ENV": true, "PYTHONPATH": true, "PATH": true}
	pathSet := false
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if key == "PATH" {
			vars = append(vars, "PATH="+bin+string(os.PathListSeparator)+val)
			pathSet = true
			continue
		}
		if seen[key] {
			continue
		}
		vars = append(vars, kv)
	}
	if !pathSet {
		vars = append(vars, "PATH="+bin)
	}
	sort.Strings(vars)
	return vars
}

// --- go toolchain: test runs produce go cover profiles; combine and the two
// exports are native actions over pkg/coverage ---

func buildGoSteps(cfg *config.Config, workdir string) []Step {
	dataDir := cfg.Coverage.Data
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(workdir, dataDir)
	}
	combined := filepath.Join(dataDir, "coverage.out")

	// One profile per entry point, enumerated up front so a stale profile
	// from an earlier run with more entry points can never leak into the
	// combined output.
	profiles := make([]string, len(cfg.Tests.Entrypoints))
	for i := range cfg.Tests.Entrypoints {
		profiles[i] = filepath.Join(dataDir, fmt.Sprintf("cover.%d.out", i+1))
	}

	steps := []Step{
		{
			Name:  "activate",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				goBin, err := exec.LookPath("go")
				if err != nil {
					return fmt.Errorf("go toolchain not found in PATH: %w", err)
				}
				env.Interpreter = goBin
				env.Vars = toolchainEnviron(cfg.Env.Root, workdir, dataDir)
				if err := os.MkdirAll(dataDir, 0o755); err != nil {
					return fmt.Errorf("creating coverage data directory: %w", err)
				}
				out.Printf("using %s", goBin)
				return nil
			},
		},
		{
			Name:  "install",
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				args := append([]string{"install"}, cfg.Install...)
				return ExecSpec{Command: env.Interpreter, Args: args}
			},
		},
	}

	for i, pattern := range cfg.Tests.Entrypoints {
		profile := profiles[i]
		steps = append(steps, Step{
			Name:  "test:" + sanitizeStepName(pattern),
			Fatal: true,
			Command: func(env *RunEnv) ExecSpec {
				return ExecSpec{
					Command: env.Interpreter,
					Args: []string{"test",
						"-coverprofile=" + profile, "-covermode=atomic", pattern},
				}
			},
		})
	}

	steps = append(steps,
		Step{
			Name:  "combine",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				merged, err := coverage.MergeFiles(profiles)
				if err != nil {
					return err
				}
				if err := coverage.WriteProfileFile(combined, merged); err != nil {
					return err
				}
				out.Printf("combined %d profiles into %s", len(profiles), combined)
				return nil
			},
		},
		Step{
			Name:  "export-xml",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				profiles, err := coverage.ParseFile(combined)
				if err != nil {
					return err
				}
				if err := coverage.WriteCoberturaFile(cfg.Coverage.XML, profiles); err != nil {
					return err
				}
				out.Printf("wrote %s (%.1f%% statements)", cfg.Coverage.XML, coverage.Percent(profiles))
				return nil
			},
		},
		Step{
			Name:  "export-html",
			Fatal: true,
			Action: func(ctx context.Context, env *RunEnv, out *ActionOutput) error {
				profiles, err := coverage.ParseFile(combined)
				if err != nil {
					return err
				}
				if err := coverage.WriteHTMLReport(cfg.Coverage.HTML, profiles); err != nil {
					return err
				}
				out.Printf("wrote %s/index.html", cfg.Coverage.HTML)
				return nil
			},
		},
		Step{
			Name:    "lint",
			Fatal:   false,
			LogFile: cfg.Lint.Log,
			Command: func(env *RunEnv) ExecSpec {
				args := []string{"run"}
				if cfg.Lint.Config != "" {
					args = append(args, "--config", cfg.Lint.Config)
				}
				args = append(args, cfg.Lint.Target)
				return ExecSpec{Command: "golangci-lint", Args: args}
			},
		},
	)
	return steps
}

// toolchainEnviron prepends an optional tool directory to PATH and points
// GOBIN into the scratch directory so installed tools stay run-local.
func toolchainEnviron(root, workdir, dataDir string) []string {
	var vars []string
	gobin := filepath.Join(dataDir, "bin")
	vars = append(vars, "GOBIN="+gobin)
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "GOBIN" {
			continue
		}
		if key == "PATH" {
			entries := []string{gobin}
			if root != "" {
				entries = append(entries, filepath.Join(root, "bin"))
			}
			entries = append(entries, val)
			vars = append(vars, "PATH="+strings.Join(entries, string(os.PathListSeparator)))
			continue
		}
		vars = append(vars, kv)
	}
	sort.Strings(vars)
	return vars
}

func sanitizeStepName(pattern string) string {
	s := strings.Trim(pattern, "./")
	if s == "" {
		s = "all"
	}
	return strings.NewReplacer("/", "-", ".", "-").Replace(s)
}
