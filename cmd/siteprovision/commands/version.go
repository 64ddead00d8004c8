package commands

import (
	"fmt"

	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/spf13/cobra"
)

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns the running version of " + constants.CmdName + " and exits",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return a.getVersion() },
	}
	a.cmd.AddCommand(cmd)
}

// getVersion prints the current version.
func (a App) getVersion() (err error) {
	_, err = fmt.Fprintf(a.out, "%s\t%s\n", constants.CmdName, constants.Version)
	return err
}
