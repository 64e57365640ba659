//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
)

// Default target - build the binary.
var Default = Build

const binaryName = "covpipe"

// Build builds the covpipe binary with version metadata.
func Build() error {
	ldflags := fmt.Sprintf(
		"-X github.com/dkoosis/covpipe/internal/version.Version=%s "+
			"-X github.com/dkoosis/covpipe/internal/version.CommitHash=%s "+
			"-X github.com/dkoosis/covpipe/internal/version.BuildDate=%s",
		gitDescribe(), gitCommit(), time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	)
	return runCmd("go", "build", "-ldflags", ldflags, "-o", binaryName, "./cmd/covpipe")
}

// Test runs all tests.
func Test() error {
	return runCmd("go", "test", "./...")
}

// Cover runs tests with coverage and prints the per-function report.
func Cover() error {
	if err := runCmd("go", "test", "-coverprofile=coverage.out", "-covermode=atomic", "./..."); err != nil {
		return err
	}
	return runCmd("go", "tool", "cover", "-func=coverage.out")
}

// Lint runs vet and, when available, golangci-lint.
func Lint() error {
	if err := runCmd("go", "vet", "./..."); err != nil {
		return err
	}
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("golangci-lint not found, skipping")
		return nil
	}
	return runCmd("golangci-lint", "run", "./...")
}

// QA runs the full check sequence.
func QA() error {
	mg.SerialDeps(Test, Lint)
	return nil
}

// Clean removes build artifacts.
func Clean() error {
	for _, f := range []string{binaryName, "coverage.out"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func gitDescribe() string {
	out, err := exec.Command("git", "describe", "--tags", "--always", "--dirty").Output()
	if err != nil || len(out) == 0 {
		return "dev"
	}
	return strings.TrimSpace(string(out))
}

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil || len(out) == 0 {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
