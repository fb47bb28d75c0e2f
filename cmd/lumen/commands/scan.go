package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Populate the cache store for an image folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			noWait, err := cmd.Flags().GetBool("no-wait")
			if err != nil {
				return err
			}
			_, err = c.app.Scan(cmd.Context(), dir, !noWait)
			return err
		},
	}
	cmd.Flags().Bool("no-wait", false, "Record the backlog without waiting for decodes to finish")
	return cmd
}
