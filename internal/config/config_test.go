package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, ToolchainPython, cfg.Toolchain)
	assert.Equal(t, ".", cfg.Workdir)
	assert.Equal(t, []string{"coverage"}, cfg.Install)
	assert.Equal(t, "coverage.xml", cfg.Coverage.XML)
	assert.Equal(t, "coverage", cfg.Coverage.HTML)
	assert.Equal(t, "pylint.log", cfg.Lint.Log)
	assert.Equal(t, "on-fail", cfg.ShowOutput)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
env:
  name: climada_env
tests:
  entrypoints:
    - unit_tests.py
lint:
  target: climada
coverage:
  xml: build/coverage.xml
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "climada_env", cfg.Env.Name)
	assert.Equal(t, []string{"unit_tests.py"}, cfg.Tests.Entrypoints)
	assert.Equal(t, "build/coverage.xml", cfg.Coverage.XML)
	// untouched fields keep their defaults
	assert.Equal(t, "coverage", cfg.Coverage.HTML)
	assert.Equal(t, "pylint.log", cfg.Lint.Log)
	assert.Equal(t, []string{"coverage"}, cfg.Install)
}

func TestLoad_GoToolchainDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "toolchain: go\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lint.log", cfg.Lint.Log)
	assert.Equal(t, "./...", cfg.Lint.Target)
	assert.Equal(t, []string{"./..."}, cfg.Tests.Entrypoints)
	require.Len(t, cfg.Install, 1)
	assert.Contains(t, cfg.Install[0], "golangci-lint")
}

func TestLoad_GoToolchainKeepsOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
toolchain: go
lint:
  log: findings.log
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "findings.log", cfg.Lint.Log)
}

func TestLoad_PicksUpWorkdirPylintrc(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pylintrc"), []byte("[MASTER]\n"), 0o644))
	path := writeConfig(t, dir, `
env:
  name: climada_env
workdir: `+dir+`
tests:
  entrypoints:
    - unit_tests.py
lint:
  target: climada
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".pylintrc"), cfg.Lint.Config)
}

func TestLoad_NoPylintrcLeavesConfigEmpty(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
env:
  name: climada_env
workdir: `+t.TempDir()+`
tests:
  entrypoints:
    - unit_tests.py
lint:
  target: climada
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Lint.Config)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), ConfigFileName))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "toolchain: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Env.Name = "climada_env"
		cfg.Tests.Entrypoints = []string{"unit_tests.py"}
		cfg.Lint.Target = "climada"
		return cfg
	}

	t.Run("valid python config", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, valid().Validate())
	})

	t.Run("unknown toolchain", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Toolchain = "rust"
		assert.ErrorContains(t, cfg.Validate(), "unknown toolchain")
	})

	t.Run("missing env", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Env.Name = ""
		assert.ErrorContains(t, cfg.Validate(), "env.name")
	})

	t.Run("env root alone is enough", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Env.Name = ""
		cfg.Env.Root = "/opt/envs/climada"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing entrypoints", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Tests.Entrypoints = nil
		assert.ErrorContains(t, cfg.Validate(), "entrypoints")
	})

	t.Run("missing lint target", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Lint.Target = ""
		assert.ErrorContains(t, cfg.Validate(), "lint.target")
	})
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	path := writeConfig(t, root, "toolchain: go\n")

	assert.Equal(t, path, Find(nested), "find-up must reach the root config")
	assert.Equal(t, path, Find(root))
}

func TestFind_NoConfig(t *testing.T) {
	assert.Empty(t, Find(t.TempDir()))
}
