package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func installVerifyCmd(app *App) {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the site is provisioned, without changing anything",
		Long: `Check the site is provisioned, without changing anything.

The page and the site configuration must be installed and unmodified since the last run,
the site must be enabled, the default site disabled and the nginx configuration valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running verify command")
			return app.verifyRun()
		},
	}

	app.cmd.AddCommand(verifyCmd)
}

// verifyRun runs the verify command.
func (a App) verifyRun() error {
	p, release, err := a.newProvisioner()
	if err != nil {
		return err
	}
	defer release()

	rep, err := p.Verify(a.ctx)
	a.printReport(rep)
	return err
}
