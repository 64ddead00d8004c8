// Package nginx drives the nginx service of a target: configuration test and reload.
package nginx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/target"
	"github.com/ubuntu/decorate"
)

var (
	// ErrInvalidConfig is returned when nginx rejects its configuration.
	ErrInvalidConfig = errors.New("invalid nginx configuration")
	// ErrReloadFailed is returned when the service manager could not reload nginx.
	ErrReloadFailed = errors.New("nginx reload failed")
)

// TestResult is the outcome of a configuration test.
type TestResult struct {
	// Valid is true when nginx accepted the configuration.
	Valid bool
	// Errors are the [emerg] and [crit] messages reported by nginx.
	Errors []string
	// Warnings are the [warn] messages reported by nginx.
	Warnings []string
}

// Controller runs nginx related commands on a target.
type Controller struct {
	target    target.Target
	testCmd   []string
	reloadCmd []string
	timeout   time.Duration

	log *slog.Logger
}

type options struct {
	testCmd   []string
	reloadCmd []string
	timeout   time.Duration
	log       *slog.Logger
}

// Options represents an optional function to override Controller default values.
type Options func(*options)

// WithTestCmd sets the command line validating the nginx configuration.
func WithTestCmd(argv []string) Options {
	return func(o *options) {
		o.testCmd = argv
	}
}

// WithReloadCmd sets the command line reloading nginx.
func WithReloadCmd(argv []string) Options {
	return func(o *options) {
		o.reloadCmd = argv
	}
}

// WithTimeout sets the timeout of each command.
func WithTimeout(d time.Duration) Options {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger used by the controller.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.log = l
	}
}

// New returns a Controller for nginx on t.
func New(t target.Target, args ...Options) Controller {
	opts := options{
		testCmd:   constants.DefaultConfigTestCmd,
		reloadCmd: constants.DefaultReloadCmd,
		timeout:   constants.DefaultCommandTimeout,
		log:       slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Controller{
		target:    t,
		testCmd:   opts.testCmd,
		reloadCmd: opts.reloadCmd,
		timeout:   opts.timeout,
		log:       opts.log,
	}
}

// logLineRegex matches nginx diagnostic lines like
// "nginx: [emerg] unknown directive "foo" in /etc/nginx/sites-enabled/site:3".
var logLineRegex = regexp.MustCompile(`(?m)\[(emerg|alert|crit|warn)\]\s+(?:\d+#\d+:\s+)?(.*?)\s*$`)

// Test validates the nginx configuration. A rejected configuration returns a result and an
// error wrapping ErrInvalidConfig. Other errors mean the test could not be run.
func (c Controller) Test(ctx context.Context) (res TestResult, err error) {
	c.log.Debug("Testing nginx configuration", "host", c.target, "command", c.testCmd)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// The deadline is carried by ctx, so that a killed command is not mistaken for a rejected configuration.
	stdout, stderr, runErr := c.target.Run(ctx, 0, c.testCmd)
	out := stderr.String() + stdout.String()
	for _, m := range logLineRegex.FindAllStringSubmatch(out, -1) {
		if m[1] == "warn" {
			res.Warnings = append(res.Warnings, m[2])
			continue
		}
		res.Errors = append(res.Errors, m[2])
	}
	for _, w := range res.Warnings {
		c.log.Warn("nginx configuration warning", "host", c.target, "message", w)
	}

	if runErr == nil {
		res.Valid = true
		c.log.Info("nginx configuration is valid", "host", c.target)
		return res, nil
	}

	if ctx.Err() != nil || !isExitError(runErr) {
		return res, fmt.Errorf("could not run %q: %w", strings.Join(c.testCmd, " "), runErr)
	}
	if len(res.Errors) == 0 {
		return res, fmt.Errorf("%w: %w", ErrInvalidConfig, commandError{msg: firstLine(out, runErr), err: runErr})
	}
	return res, fmt.Errorf("%w: %w", ErrInvalidConfig, commandError{msg: strings.Join(res.Errors, "; "), err: runErr})
}

// Reload asks the service manager to reload nginx.
func (c Controller) Reload(ctx context.Context) (err error) {
	defer decorate.OnError(&err, "could not reload nginx on %s", c.target)

	c.log.Debug("Reloading nginx", "host", c.target, "command", c.reloadCmd)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, stderr, err := c.target.Run(ctx, 0, c.reloadCmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReloadFailed, commandError{msg: firstLine(stderr.String(), err), err: err})
	}
	c.log.Info("nginx reloaded", "host", c.target)
	return nil
}

func (c Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// isExitError reports whether err comes from a command which ran and exited unsuccessfully.
func isExitError(err error) bool {
	var exitStatus interface{ ExitStatus() int }
	var exitCode interface{ ExitCode() int }
	return errors.As(err, &exitStatus) || errors.As(err, &exitCode)
}

// commandError reports the output of a failed command, and keeps its exit status reachable with errors.As.
type commandError struct {
	msg string
	err error
}

func (e commandError) Error() string { return e.msg }

func (e commandError) Unwrap() error { return e.err }

// firstLine returns the first non empty line of out, or err message if there is none.
func firstLine(out string, err error) string {
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return err.Error()
}
