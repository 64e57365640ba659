// Package config loads covpipe's project configuration from .covpipe.yaml,
// searched from the working directory upward. Every field has a default so a
// minimal file only names the environment and the test entry points.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-project configuration file.
const ConfigFileName = ".covpipe.yaml"

// Toolchain selects how the pipeline's steps are realized.
const (
	ToolchainPython = "python" // external coverage/pylint tools, original contract
	ToolchainGo     = "go"     // go test profiles, native combine/xml/html, golangci-lint
)

// Config is the resolved project configuration.
type Config struct {
	Toolchain string `yaml:"toolchain"`

	Env struct {
		Name string `yaml:"name"` // environment to activate
		Root string `yaml:"root"` // explicit root; default resolves conda-style env dirs
	} `yaml:"env"`

	Workdir string `yaml:"workdir"`

	// Packages installed into the activated environment before the test runs.
	Install []string `yaml:"install"`

	Tests struct {
		Entrypoints []string `yaml:"entrypoints"`
	} `yaml:"tests"`

	Coverage struct {
		XML  string `yaml:"xml"`  // Cobertura report file
		HTML string `yaml:"html"` // HTML report directory
		Data string `yaml:"data"` // scratch directory for per-run profile data (go toolchain)
	} `yaml:"coverage"`

	Lint struct {
		Config string `yaml:"config"` // rule-configuration file
		Target string `yaml:"target"` // source directory to analyze
		Log    string `yaml:"log"`    // log file receiving the linter's output
	} `yaml:"lint"`

	ShowOutput string `yaml:"show_output"` // "always", "on-fail", "never"
}

// Default returns the configuration reproducing the original pipeline's
// artifact layout.
func Default() *Config {
	cfg := &Config{
		Toolchain:  ToolchainPython,
		Workdir:    ".",
		Install:    []string{"coverage"},
		ShowOutput: "on-fail",
	}
	cfg.Coverage.XML = "coverage.xml"
	cfg.Coverage.HTML = "coverage"
	cfg.Coverage.Data = ".covpipe"
	cfg.Lint.Log = "pylint.log"
	return cfg
}

// Load reads path and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 - config file path is user-supplied
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyToolchainDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find locates the config file in dir or any parent directory. Returns ""
// when no file exists.
func Find(dir string) string {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return ""
		}
	}
	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyToolchainDefaults adjusts defaults that depend on the toolchain and
// were not overridden.
func (c *Config) applyToolchainDefaults() {
	if c.Toolchain == ToolchainPython && c.Lint.Config == "" {
		rc := filepath.Join(c.Workdir, ".pylintrc")
		if _, err := os.Stat(rc); err == nil {
			c.Lint.Config = rc
		}
	}
	if c.Toolchain == ToolchainGo {
		if c.Lint.Log == "pylint.log" {
			c.Lint.Log = "lint.log"
		}
		if len(c.Install) == 1 && c.Install[0] == "coverage" {
			c.Install = []string{"github.com/golangci/golangci-lint/cmd/golangci-lint@latest"}
		}
		if c.Lint.Target == "" {
			c.Lint.Target = "./..."
		}
		if len(c.Tests.Entrypoints) == 0 {
			c.Tests.Entrypoints = []string{"./..."}
		}
	}
}

// Validate checks the fields the pipeline cannot default.
func (c *Config) Validate() error {
	switch c.Toolchain {
	case ToolchainPython, ToolchainGo:
	default:
		return fmt.Errorf("unknown toolchain %q (expected %q or %q)", c.Toolchain, ToolchainPython, ToolchainGo)
	}

	if c.Toolchain == ToolchainPython {
		if c.Env.Name == "" && c.Env.Root == "" {
			return fmt.Errorf("env.name (or env.root) is required for the python toolchain")
		}
		if len(c.Tests.Entrypoints) == 0 {
			return fmt.Errorf("tests.entrypoints must name at least one test entry point")
		}
		if c.Lint.Target == "" {
			return fmt.Errorf("lint.target is required for the python toolchain")
		}
	}
	return nil
}
