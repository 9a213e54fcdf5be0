// Package app holds the contract between cmd/* binaries and the components they start, so a
// binary only loads its configuration and hands the component to Main.
package app

import (
	"fmt"
	"io"
	"os"
)

// Runner is a long-running component. Run blocks until the component stops and reports why.
type Runner interface {
	Run() error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func() error

func (f RunnerFunc) Run() error { return f() }

// Main runs r and exits the process. A failure is written to stderr prefixed with name and exits 1.
func Main(name string, r Runner) {
	os.Exit(run(name, r, os.Stderr))
}

func run(name string, r Runner, stderr io.Writer) int {
	if err := r.Run(); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}
