package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erimkaur/siteprovision/cmd/siteprovision/commands"
	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	c := a.Config()
	require.Equal(t, constants.DefaultSite, c.Site, "Site should default to the landing page")
	require.Equal(t, constants.DefaultSourceURL, c.SourceURL, "Source URL should have its default")
	require.Equal(t, constants.DefaultWebRoot, c.WebRoot, "Web root should have its default")
	require.Equal(t, constants.DefaultSitesAvailable, c.SitesAvailable, "sites-available should have its default")
	require.Equal(t, constants.DefaultSitesEnabled, c.SitesEnabled, "sites-enabled should have its default")
	require.Equal(t, constants.DefaultNginxSite, c.DefaultSite, "Default site should have its default")
	require.Equal(t, []string{"nginx", "-t"}, c.ConfigTestCmd, "Config test command should have its default")
	require.Equal(t, []string{"systemctl", "reload", "nginx"}, c.ReloadCmd, "Reload command should have its default")
	require.Equal(t, constants.DefaultCommandTimeout, c.CommandTimeout, "Command timeout should have its default")
	require.Empty(t, c.Host, "Host should default to the local machine")
}

func TestConfigArg(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	conf := `verbose: 1
web-root: /srv/www
reload-cmd: [systemctl, restart, nginx]
config-test-cmd: nginx,-T
command-timeout: 5s
`
	require.NoError(t, os.WriteFile(configPath, []byte(conf), 0600), "Setup: couldn't write config file")

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath, "--site", "other")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	c := a.Config()
	require.Equal(t, 1, c.Verbosity, "Verbosity should be read from the config file")
	require.Equal(t, "/srv/www", c.WebRoot, "Web root should be read from the config file")
	require.Equal(t, []string{"systemctl", "restart", "nginx"}, c.ReloadCmd, "Commands can be lists")
	require.Equal(t, []string{"nginx", "-T"}, c.ConfigTestCmd, "Commands can be comma separated")
	require.Equal(t, 5*time.Second, c.CommandTimeout, "Durations should be decoded")
	require.Equal(t, "other", c.Site, "Flags should be merged with the config file")
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("SITEPROVISION_WEB_ROOT", "/srv/www")
	t.Setenv("SITEPROVISION_CONFIG_TEST_CMD", "nginx,-T")
	t.Setenv("SITEPROVISION_COMMAND_TIMEOUT", "1m")
	t.Setenv("SITEPROVISION_SITE", "from-env")

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--site", "from-flag")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	c := a.Config()
	require.Equal(t, "/srv/www", c.WebRoot, "Web root should be read from the environment")
	require.Equal(t, []string{"nginx", "-T"}, c.ConfigTestCmd, "Commands should be split on commas")
	require.Equal(t, time.Minute, c.CommandTimeout, "Durations should be decoded")
	require.Equal(t, "from-flag", c.Site, "Flags should win over the environment")
}

func TestConfigBadArg(t *testing.T) {
	t.Parallel()

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", "/does/not/exist.yaml")

	err = a.Run()
	require.Error(t, err, "Run should return an error on config file")
}

func TestVersion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a, err := commands.New(commands.WithOutput(&out))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")
	require.Equal(t, "siteprovision\t"+constants.Version+"\n", out.String(), "Version should print the name and version")
}

func TestNoUsageError(t *testing.T) {
	t.Parallel()

	a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("completion", "bash")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")
	require.False(t, a.UsageError(), "No usage error is reported as such")
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string
	}{
		"Unknown command":               {args: []string{"doesnotexist"}},
		"Unknown flag":                  {args: []string{"apply", "--doesnotexist"}},
		"Arguments to apply":            {args: []string{"apply", "extra"}},
		"Apply flag on another command": {args: []string{"verify", "--dry-run"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := commands.New(commands.WithOutput(&bytes.Buffer{}))
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)

			err = a.Run()
			require.Error(t, err, "Run should return an error")
			require.True(t, a.UsageError(), "Usage error is reported as such")

			a.SetSilenceUsage(true)
			assert.False(t, a.UsageError())
		})
	}
}
