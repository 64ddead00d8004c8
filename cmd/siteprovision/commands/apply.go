package commands

import (
	"log/slog"
	"time"

	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/metrics"
	"github.com/erimkaur/siteprovision/internal/provision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func installApplyCmd(app *App) error {
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision the site and reload nginx",
		Long: `Provision the site and reload nginx.

Both files are downloaded before anything is changed on the host.
If nginx rejects the resulting configuration, the changes are rolled back, unless --no-rollback is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running apply command")
			return app.applyRun()
		},
	}

	applyCmd.Flags().BoolVarP(&app.config.DryRun, "dry-run", "d", false, "report the changes without making them, and without running any command on the host")
	applyCmd.Flags().BoolVarP(&app.config.Retry, "retry", "r", false, "retry downloads failing on network or server errors")
	applyCmd.Flags().IntVar(&app.config.MaxAttempts, "max-attempts", constants.DefaultMaxAttempts, "maximum number of attempts of each download when retrying")
	applyCmd.Flags().DurationVar(&app.config.FetchTimeout, "fetch-timeout", constants.DefaultFetchTimeout, "timeout of each download")
	applyCmd.Flags().BoolVar(&app.config.NoRollback, "no-rollback", false, "keep the changes in place when the nginx configuration test fails")
	applyCmd.Flags().StringVar(&app.config.MetricsFile, "metrics-file", "", "write the outcome of the run to this Prometheus textfile on the local machine")

	if err := applyCmd.MarkFlagFilename("metrics-file", "prom"); err != nil {
		return err
	}

	if err := app.viper.BindPFlags(applyCmd.Flags()); err != nil {
		return err
	}

	app.cmd.AddCommand(applyCmd)
	return nil
}

// applyRun runs the apply command.
func (a App) applyRun() error {
	p, release, err := a.newProvisioner()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	rep, err := p.Apply(a.ctx)
	a.printReport(rep)
	a.writeMetrics(rep, err, start)
	return err
}

// writeMetrics exports the outcome of a run to the metrics file, if any.
// Dry runs are not exported. Failing to write the file does not fail the run.
func (a App) writeMetrics(rep provision.Report, runErr error, start time.Time) {
	if a.config.MetricsFile == "" || a.config.DryRun {
		return
	}

	reg := prometheus.NewRegistry()
	metrics.New(reg, a.config.Site).Observe(rep, runErr, start, time.Since(start))
	if err := prometheus.WriteToTextfile(a.config.MetricsFile, reg); err != nil {
		slog.Warn("Failed to write metrics file", "path", a.config.MetricsFile, "error", err)
	}
}
