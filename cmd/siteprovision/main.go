// Main package for the siteprovision command line tool.
package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/erimkaur/siteprovision/cmd/siteprovision/commands"
	"github.com/erimkaur/siteprovision/internal/constants"
)

func main() {
	slog.SetLogLoggerLevel(constants.DefaultLogLevel)

	a, err := commands.New()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	os.Exit(run(a))
}

type app interface {
	Run() error
	UsageError() bool
	Quit()
}

func run(a app) int {
	defer installSignalHandler(a)()

	if err := a.Run(); err != nil {
		slog.Error(err.Error())

		if a.UsageError() {
			return 2
		}
		return exitCode(err)
	}

	return 0
}

// exitCode returns the exit status of the host command which failed the run, or 1 for any other failure.
func exitCode(err error) int {
	// Remote commands report their status with ExitStatus, local ones with ExitCode.
	var exitStatus interface{ ExitStatus() int }
	if errors.As(err, &exitStatus) && exitStatus.ExitStatus() > 0 {
		return exitStatus.ExitStatus()
	}
	var exitCode interface{ ExitCode() int }
	if errors.As(err, &exitCode) && exitCode.ExitCode() > 0 {
		return exitCode.ExitCode()
	}
	return 1
}

// installSignalHandler cancels the running command on SIGINT or SIGTERM.
// A provisioning run interrupted before its changes are validated rolls them back.
func installSignalHandler(a app) func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			switch v, ok := <-c; v {
			case syscall.SIGINT, syscall.SIGTERM:
				slog.Warn("Interrupted, cancelling", "signal", v)
				a.Quit()
				return
			default:
				// channel was closed: we exited
				if !ok {
					slog.Debug("Signal channel closed")
					return
				}
			}
		}
	}()

	return func() {
		signal.Stop(c)
		close(c)
		wg.Wait()
	}
}
