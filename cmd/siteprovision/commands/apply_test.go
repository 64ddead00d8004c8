package commands_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erimkaur/siteprovision/cmd/siteprovision/commands"
	"github.com/erimkaur/siteprovision/internal/provision"
	"github.com/erimkaur/siteprovision/internal/testutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	pageContent = "<html>erimkaur</html>"
	confContent = "server { listen 80; root /var/www/erimkaur; }"
)

func TestApply(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args        []string
		testMode    string
		missingPage bool

		wantErr       bool
		wantNoReport  bool
		wantLast      provision.StepResult
		wantInstalled bool
	}{
		"Apply provisions the site": {
			wantLast:      provision.StepResult{Step: provision.StepRecord, Status: provision.StatusChanged},
			wantInstalled: true,
		},
		"Apply in quiet mode prints nothing": {args: []string{"-q"}, wantNoReport: true, wantInstalled: true},
		"Dry run changes nothing": {
			args:     []string{"--dry-run"},
			testMode: "fail",
			wantLast: provision.StepResult{Step: provision.StepRecord, Status: provision.StatusPlanned},
		},

		"Error on invalid configuration rolls back": {
			testMode: "fail",
			wantErr:  true,
			wantLast: provision.StepResult{Step: provision.StepConfigTest, Status: provision.StatusFailed},
		},
		"Error on invalid configuration without rollback keeps changes": {
			args:          []string{"--no-rollback"},
			testMode:      "fail",
			wantErr:       true,
			wantLast:      provision.StepResult{Step: provision.StepConfigTest, Status: provision.StatusFailed},
			wantInstalled: true,
		},
		"Error on missing page at source": {
			missingPage: true,
			wantErr:     true,
			wantLast:    provision.StepResult{Step: provision.StepFetch, Status: provision.StatusFailed},
		},
		"Error on invalid site name":   {args: []string{"--site", "../etc"}, wantErr: true, wantNoReport: true},
		"Error on root used with host": {args: []string{"--host", "example.com"}, wantErr: true, wantNoReport: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.testMode == "" {
				tc.testMode = "ok"
			}
			root := setupHost(t)
			srv := newSourceServer(t, tc.missingPage)

			var out bytes.Buffer
			a, err := commands.New(commands.WithOutput(&out))
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(append(hostArgs(root, srv.URL, tc.testMode, "apply"), tc.args...)...)

			err = a.Run()
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
				require.False(t, a.UsageError(), "Runtime errors should not be usage errors")
			} else {
				require.NoError(t, err, "Run should not return an error")
			}

			_, statErr := os.Lstat(filepath.Join(root, "etc/nginx/sites-enabled/erimkaur"))
			require.Equal(t, tc.wantInstalled, statErr == nil, "Site should be enabled only when the changes are kept")
			_, statErr = os.Lstat(filepath.Join(root, "etc/nginx/sites-enabled/default"))
			require.Equal(t, tc.wantInstalled, os.IsNotExist(statErr), "Default site should be disabled only when the changes are kept")

			if tc.wantNoReport {
				require.Empty(t, out.String(), "No report should be printed")
				return
			}
			var rep provision.Report
			require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep), "Report should be valid YAML")
			require.NotEmpty(t, rep.Steps, "Report should list the steps")
			last := rep.Steps[len(rep.Steps)-1]
			require.Equal(t, tc.wantLast.Step, last.Step, "Unexpected last step")
			require.Equal(t, tc.wantLast.Status, last.Status, "Unexpected status of the last step")
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	root := setupHost(t)
	srv := newSourceServer(t, false)

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs(hostArgs(root, srv.URL, "ok", "apply")...)
	require.NoError(t, a.Run(), "Setup: apply should not return an error")

	var out bytes.Buffer
	a, err = commands.New(commands.WithOutput(&out))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs(hostArgs(root, srv.URL, "ok", "verify")...)
	require.NoError(t, a.Run(), "Verify should pass on a provisioned host")

	var rep provision.Report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep), "Report should be valid YAML")
	require.Empty(t, rep.Failed(), "No check should fail on a provisioned host")

	testutils.WriteFiles(t, root, map[string]string{"var/www/erimkaur/index.html": "<html>defaced</html>"})

	a, err = commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs(hostArgs(root, srv.URL, "ok", "verify")...)
	err = a.Run()
	require.ErrorIs(t, err, provision.ErrVerifyFailed, "Verify should fail on a modified page")
	require.False(t, a.UsageError(), "Failed checks should not be usage errors")
}

func TestApplyWritesMetrics(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args     []string
		testMode string

		wantErr     bool
		wantSuccess string
		wantNoFile  bool
	}{
		"Successful run":       {testMode: "ok", wantSuccess: "1"},
		"Failed run":           {testMode: "fail", wantErr: true, wantSuccess: "0"},
		"Dry run is not saved": {args: []string{"--dry-run"}, testMode: "ok", wantNoFile: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := setupHost(t)
			srv := newSourceServer(t, false)
			metricsFile := filepath.Join(t.TempDir(), "siteprovision.prom")

			a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(append(hostArgs(root, srv.URL, tc.testMode, "apply", "--metrics-file", metricsFile), tc.args...)...)

			err = a.Run()
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
			} else {
				require.NoError(t, err, "Run should not return an error")
			}

			got, err := os.ReadFile(metricsFile)
			if tc.wantNoFile {
				require.ErrorIs(t, err, os.ErrNotExist, "Metrics file should not be written")
				return
			}
			require.NoError(t, err, "Metrics file should be written")
			require.Contains(t, string(got), fmt.Sprintf(`siteprovision_last_run_success{site="erimkaur"} %s`, tc.wantSuccess),
				"Metrics file should contain the outcome of the run")
			require.Contains(t, string(got), "siteprovision_last_run_timestamp_seconds", "Metrics file should contain the time of the run")
		})
	}
}

// TestMockCommand is a fake nginx and systemctl.
func TestMockCommand(_ *testing.T) {
	args, ok := testutils.HelperArgs()
	if !ok {
		return
	}
	defer os.Exit(0)

	if args[0] == "fail" {
		fmt.Fprintln(os.Stderr, `nginx: [emerg] unknown directive "sever" in /etc/nginx/sites-enabled/erimkaur:1`)
		os.Exit(1)
	}
}

// hostArgs returns the arguments running command against a local tree at root, with files served at serverURL.
func hostArgs(root, serverURL, testMode, command string, extra ...string) []string {
	return append([]string{
		command,
		"--root", root,
		"--source-url", serverURL + "/site",
		"--config-test-cmd", strings.Join(testutils.HelperCommand("TestMockCommand", testMode), ","),
		"--reload-cmd", strings.Join(testutils.HelperCommand("TestMockCommand", "ok"), ","),
	}, extra...)
}

// setupHost creates a local tree with nginx installed and its default site enabled.
func setupHost(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	testutils.WriteFiles(t, root, map[string]string{
		"etc/os-release":                    "ID=ubuntu\nID_LIKE=debian\n",
		"etc/nginx/sites-available/default": "server { listen 80 default_server; }",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/nginx/sites-enabled"), 0750), "Setup: could not create sites-enabled")
	require.NoError(t, os.Symlink(filepath.Join(root, "etc/nginx/sites-available/default"), filepath.Join(root, "etc/nginx/sites-enabled/default")),
		"Setup: could not enable default site")
	return root
}

func newSourceServer(t *testing.T, missingPage bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	if !missingPage {
		mux.HandleFunc("/site/index.html", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, pageContent)
		})
	}
	mux.HandleFunc("/site/nginx.conf", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, confContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
