// Package commands implements the siteprovision command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/erimkaur/siteprovision/internal/cli"
	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/fetcher"
	"github.com/erimkaur/siteprovision/internal/nginx"
	"github.com/erimkaur/siteprovision/internal/provision"
	"github.com/erimkaur/siteprovision/internal/target"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	ctx    context.Context
	cancel context.CancelFunc

	out io.Writer
}

// appConfig holds the configuration for the application.
// The mapstructure keys are the flag names, which are also the keys of the configuration file.
type appConfig struct {
	Verbosity int  `mapstructure:"verbose"`
	JSONLogs  bool `mapstructure:"json-logs"`
	Quiet     bool `mapstructure:"quiet"`

	Site           string `mapstructure:"site"`
	SourceURL      string `mapstructure:"source-url"`
	PageFile       string `mapstructure:"page-file"`
	SiteConfigFile string `mapstructure:"site-config-file"`

	Root           string `mapstructure:"root"`
	WebRoot        string `mapstructure:"web-root"`
	SitesAvailable string `mapstructure:"sites-available"`
	SitesEnabled   string `mapstructure:"sites-enabled"`
	DefaultSite    string `mapstructure:"default-site"`
	StateDir       string `mapstructure:"state-dir"`

	ConfigTestCmd  []string      `mapstructure:"config-test-cmd"`
	ReloadCmd      []string      `mapstructure:"reload-cmd"`
	CommandTimeout time.Duration `mapstructure:"command-timeout"`

	Host       string `mapstructure:"host"`
	Identity   string `mapstructure:"identity"`
	KnownHosts string `mapstructure:"known-hosts"`

	FetchTimeout time.Duration `mapstructure:"fetch-timeout"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	Retry        bool          `mapstructure:"retry"`
	DryRun       bool          `mapstructure:"dry-run"`
	NoRollback   bool          `mapstructure:"no-rollback"`
	MetricsFile  string        `mapstructure:"metrics-file"`
}

type options struct {
	out io.Writer
}

// Options represents an optional function to override App default values.
type Options func(*options)

// New creates a new App instance with default values.
func New(args ...Options) (*App, error) {
	opts := options{out: os.Stdout}
	for _, opt := range args {
		opt(&opts)
	}

	a := App{out: opts.out}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.cmd = &cobra.Command{
		Use:   constants.CmdName,
		Short: "Serve the erimkaur landing page with nginx",
		Long: `Serve the erimkaur landing page with nginx.

siteprovision downloads the landing page and its nginx site configuration, installs them,
enables the site in place of the nginx default one, checks the nginx configuration and reloads nginx.
Running it again on a provisioned host changes nothing.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, cli.DecodeHook()); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			slog.Debug("Got app config", "config", a.config)
			return nil
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	if err := installRootCmd(&a); err != nil {
		return nil, err
	}
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	if err := installApplyCmd(&a); err != nil {
		return nil, err
	}
	installVerifyCmd(&a)
	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) error {
	cmd := app.cmd
	c := &app.config

	cmd.PersistentFlags().CountVarP(&c.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&c.JSONLogs, "json-logs", false, "write logs as JSON")
	cmd.PersistentFlags().BoolVarP(&c.Quiet, "quiet", "q", false, "do not print the report")

	cmd.PersistentFlags().StringVar(&c.Site, "site", constants.DefaultSite, "name of the site, used for its web directory and its nginx configuration")
	cmd.PersistentFlags().StringVar(&c.SourceURL, "source-url", constants.DefaultSourceURL, "base URL the static files are downloaded from")
	cmd.PersistentFlags().StringVar(&c.PageFile, "page-file", constants.DefaultPageFile, "name of the landing page")
	cmd.PersistentFlags().StringVar(&c.SiteConfigFile, "site-config-file", constants.DefaultSiteConfigFile, "name of the nginx site configuration at the source")

	cmd.PersistentFlags().StringVar(&c.Root, "root", "", "provision the local directory tree at this root instead of /")
	cmd.PersistentFlags().StringVar(&c.WebRoot, "web-root", constants.DefaultWebRoot, "directory holding the site web directory")
	cmd.PersistentFlags().StringVar(&c.SitesAvailable, "sites-available", constants.DefaultSitesAvailable, "nginx directory of available sites")
	cmd.PersistentFlags().StringVar(&c.SitesEnabled, "sites-enabled", constants.DefaultSitesEnabled, "nginx directory of enabled sites")
	cmd.PersistentFlags().StringVar(&c.DefaultSite, "default-site", constants.DefaultNginxSite, "name of the nginx default site to disable")
	cmd.PersistentFlags().StringVar(&c.StateDir, "state-dir", constants.DefaultStateDir, "directory of the record of the last successful run")

	cmd.PersistentFlags().StringSliceVar(&c.ConfigTestCmd, "config-test-cmd", constants.DefaultConfigTestCmd, "command validating the nginx configuration")
	cmd.PersistentFlags().StringSliceVar(&c.ReloadCmd, "reload-cmd", constants.DefaultReloadCmd, "command reloading nginx")
	cmd.PersistentFlags().DurationVar(&c.CommandTimeout, "command-timeout", constants.DefaultCommandTimeout, "timeout of each command run on the host, and of the ssh connection")

	cmd.PersistentFlags().StringVar(&c.Host, "host", "", "provision [user@]host[:port] over ssh instead of the local machine")
	cmd.PersistentFlags().StringVar(&c.Identity, "identity", "", "ssh private key file, the ssh agent is used when unset")
	cmd.PersistentFlags().StringVar(&c.KnownHosts, "known-hosts", constants.GetDefaultKnownHostsPath(), "OpenSSH known_hosts file the host key is checked against")

	if err := cmd.PersistentFlags().MarkHidden("root"); err != nil {
		return err
	}
	for _, f := range []string{"identity", "known-hosts"} {
		if err := cmd.MarkPersistentFlagFilename(f); err != nil {
			return fmt.Errorf("failed to mark %s flag as filename: %v", f, err)
		}
	}
	for _, f := range []string{"root", "web-root", "sites-available", "sites-enabled", "state-dir"} {
		if err := cmd.MarkPersistentFlagDirname(f); err != nil {
			return fmt.Errorf("failed to mark %s flag as dirname: %v", f, err)
		}
	}
	return nil
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	defer a.cancel()
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Quit cancels the running command.
func (a *App) Quit() {
	a.cancel()
}

// newTarget returns the host to provision: the local machine, or a remote one when a host is set.
func (a App) newTarget() (target.Target, error) {
	c := a.config
	if c.Host == "" {
		l, err := target.NewLocal(c.Root)
		if err != nil {
			return nil, err
		}
		return l, nil
	}

	if c.Root != "" {
		return nil, fmt.Errorf("--root cannot be used with --host")
	}
	r, err := target.Dial(target.RemoteConfig{
		Host:           c.Host,
		IdentityFile:   c.Identity,
		KnownHostsFile: c.KnownHosts,
		Timeout:        c.CommandTimeout,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// newProvisioner connects to the host and returns a Provisioner for it, with the function releasing the host.
func (a App) newProvisioner() (provision.Provisioner, func(), error) {
	c := a.config

	tgt, err := a.newTarget()
	if err != nil {
		return provision.Provisioner{}, nil, err
	}
	release := func() {
		if err := tgt.Close(); err != nil {
			slog.Warn("Failed to close connection to host", "host", tgt, "error", err)
		}
	}

	f := fetcher.New(fetcher.WithTimeout(c.FetchTimeout), fetcher.WithMaxAttempts(c.MaxAttempts))
	n := nginx.New(tgt,
		nginx.WithTestCmd(c.ConfigTestCmd),
		nginx.WithReloadCmd(c.ReloadCmd),
		nginx.WithTimeout(c.CommandTimeout),
	)

	p, err := provision.New(tgt, f, n, provision.Config{
		Layout: provision.Layout{
			Site:           c.Site,
			PageFile:       c.PageFile,
			WebRoot:        c.WebRoot,
			SitesAvailable: c.SitesAvailable,
			SitesEnabled:   c.SitesEnabled,
			DefaultSite:    c.DefaultSite,
			StateDir:       c.StateDir,
		},
		Sources: provision.Sources{
			BaseURL:        c.SourceURL,
			PageFile:       c.PageFile,
			SiteConfigFile: c.SiteConfigFile,
		},
		Retry:      c.Retry,
		DryRun:     c.DryRun,
		NoRollback: c.NoRollback,
	})
	if err != nil {
		release()
		return provision.Provisioner{}, nil, err
	}

	return p, release, nil
}

// printReport writes rep as YAML, unless the app is quiet.
func (a App) printReport(rep provision.Report) {
	if a.config.Quiet {
		return
	}

	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		slog.Warn("Failed to print report", "error", err)
	}
	if err := enc.Close(); err != nil {
		slog.Warn("Failed to print report", "error", err)
	}
}
