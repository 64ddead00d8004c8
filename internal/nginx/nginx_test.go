package nginx_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/erimkaur/siteprovision/internal/nginx"
	"github.com/erimkaur/siteprovision/internal/target"
	"github.com/erimkaur/siteprovision/internal/testutils"
	"github.com/stretchr/testify/require"
)

func TestTest(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mode    string
		argv    []string
		timeout time.Duration

		want         nginx.TestResult
		wantInvalid  bool
		wantExitCode int
		wantErr      bool
		wantLogs     map[slog.Level]uint
	}{
		"Valid configuration": {mode: "ok", want: nginx.TestResult{Valid: true}, wantLogs: map[slog.Level]uint{slog.LevelInfo: 1}},
		"Valid configuration with warnings": {mode: "warn", want: nginx.TestResult{
			Valid:    true,
			Warnings: []string{`conflicting server name "erimkaur.com" on 0.0.0.0:80, ignored`},
		}, wantLogs: map[slog.Level]uint{slog.LevelWarn: 1, slog.LevelInfo: 1}},

		"Error on invalid configuration": {mode: "invalid", want: nginx.TestResult{
			Errors: []string{`unknown directive "sever" in /etc/nginx/sites-enabled/erimkaur:1`},
		}, wantInvalid: true, wantExitCode: 1},
		"Error on failure without diagnostics": {mode: "silent-fail", wantInvalid: true, wantExitCode: 1},
		"Error on missing program":             {argv: []string{"/nonexistent/nginx", "-t"}, wantErr: true},
		"Error on timeout":                     {mode: "sleep", timeout: 100 * time.Millisecond, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.argv == nil {
				tc.argv = testutils.HelperCommand("TestMockNginx", tc.mode)
			}
			if tc.timeout == 0 {
				tc.timeout = time.Minute
			}

			l := testutils.NewMockHandler(slog.LevelDebug)
			c := newController(t, nginx.WithTestCmd(tc.argv), nginx.WithTimeout(tc.timeout), nginx.WithLogger(slog.New(l)))

			got, err := c.Test(context.Background())
			switch {
			case tc.wantInvalid:
				require.ErrorIs(t, err, nginx.ErrInvalidConfig, "Test should report an invalid configuration")
				var exitErr *exec.ExitError
				require.ErrorAs(t, err, &exitErr, "Test error should carry the exit status of nginx")
				require.Equal(t, tc.wantExitCode, exitErr.ExitCode(), "Test error should carry the exit status of nginx")
			case tc.wantErr:
				require.Error(t, err, "Test should return an error")
				require.NotErrorIs(t, err, nginx.ErrInvalidConfig, "Test should not blame the configuration when it could not run")
				return
			default:
				require.NoError(t, err, "Test should not return an error")
			}
			require.Equal(t, tc.want, got, "Test returned an unexpected result")

			if tc.wantLogs != nil && !l.AssertLevels(t, tc.wantLogs) {
				l.OutputLogs(t)
			}
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mode string

		wantErr      bool
		wantMsg      string
		wantExitCode int
	}{
		"Reload": {mode: "ok"},

		"Error on reload failure":           {mode: "reload-fail", wantErr: true, wantMsg: "Job for nginx.service failed", wantExitCode: 1},
		"Error on reload of inactive nginx": {mode: "reload-inactive", wantErr: true, wantMsg: "nginx.service is not active", wantExitCode: 5},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := newController(t, nginx.WithReloadCmd(testutils.HelperCommand("TestMockNginx", tc.mode)))

			err := c.Reload(context.Background())
			if tc.wantErr {
				require.ErrorIs(t, err, nginx.ErrReloadFailed, "Reload should return an error")
				require.ErrorContains(t, err, tc.wantMsg, "Reload error should carry the service manager output")
				var exitErr *exec.ExitError
				require.ErrorAs(t, err, &exitErr, "Reload error should carry the exit status of the service manager")
				require.Equal(t, tc.wantExitCode, exitErr.ExitCode(), "Reload error should carry the exit status of the service manager")
				return
			}
			require.NoError(t, err, "Reload should not return an error")
		})
	}
}

func newController(t *testing.T, opts ...nginx.Options) nginx.Controller {
	t.Helper()

	tgt, err := target.NewLocal(t.TempDir())
	require.NoError(t, err, "Setup: could not create local target")
	return nginx.New(tgt, opts...)
}

func TestMockNginx(_ *testing.T) {
	args, ok := testutils.HelperArgs()
	if !ok {
		return
	}
	defer os.Exit(0)

	switch args[0] {
	case "ok":
		fmt.Fprintln(os.Stderr, "nginx: the configuration file /etc/nginx/nginx.conf syntax is ok")
		fmt.Fprintln(os.Stderr, "nginx: configuration file /etc/nginx/nginx.conf test is successful")
	case "warn":
		fmt.Fprintln(os.Stderr, `nginx: [warn] conflicting server name "erimkaur.com" on 0.0.0.0:80, ignored`)
		fmt.Fprintln(os.Stderr, "nginx: the configuration file /etc/nginx/nginx.conf syntax is ok")
		fmt.Fprintln(os.Stderr, "nginx: configuration file /etc/nginx/nginx.conf test is successful")
	case "invalid":
		fmt.Fprintln(os.Stderr, `nginx: [emerg] unknown directive "sever" in /etc/nginx/sites-enabled/erimkaur:1`)
		fmt.Fprintln(os.Stderr, "nginx: configuration file /etc/nginx/nginx.conf test failed")
		os.Exit(1)
	case "silent-fail":
		os.Exit(1)
	case "reload-fail":
		fmt.Fprintln(os.Stderr, `Job for nginx.service failed because the control process exited with error code.`)
		os.Exit(1)
	case "reload-inactive":
		fmt.Fprintln(os.Stderr, `nginx.service is not active, cannot reload.`)
		os.Exit(5)
	case "sleep":
		time.Sleep(10 * time.Second)
	}
}
