// Package cmdutils provides utility functions for running commands.
package cmdutils

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// ErrEmptyCommand is returned when a command line has no program to run.
var ErrEmptyCommand = errors.New("empty command")

// Run executes the command specified by cmd with arguments args using the provided context.
// Returns stdout and stderr output and error code.
func Run(ctx context.Context, cmd string, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	stdout = &bytes.Buffer{}
	stderr = &bytes.Buffer{}

	c := exec.CommandContext(ctx, cmd, args...)
	c.Stdout = stdout
	c.Stderr = stderr
	// Later entries win, so the C locale overrides the caller's.
	c.Env = append(c.Env, os.Environ()...)
	c.Env = append(c.Env, "LANG=C", "LC_ALL=C")
	err = c.Run()

	return stdout, stderr, err
}

// RunWithTimeout calls Run but a timeout is added to the provided context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return Run(c, cmd, args...)
}

// RunArgv is RunWithTimeout for a whole command line, argv[0] being the program.
// A timeout <= 0 means no timeout.
func RunArgv(ctx context.Context, timeout time.Duration, argv []string) (stdout, stderr *bytes.Buffer, err error) {
	if len(argv) == 0 || argv[0] == "" {
		return &bytes.Buffer{}, &bytes.Buffer{}, ErrEmptyCommand
	}
	if timeout <= 0 {
		return Run(ctx, argv[0], argv[1:]...)
	}
	return RunWithTimeout(ctx, timeout, argv[0], argv[1:]...)
}
