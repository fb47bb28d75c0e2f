// Package commands implements the CLI commands for the lumenstore
// offline store utility.
package commands

import (
	"context"

	"github.com/lumenview/lumen/internal/build"
	"github.com/spf13/cobra"
)

// CLI represents the command line interface for lumenstore.
type CLI struct {
	rootCmd *cobra.Command
}

// New creates a new CLI instance.
func New() *CLI {
	rootCmd := &cobra.Command{
		Use:           "lumenstore",
		Short:         "Offline maintenance for lumen cache store files",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	c := &CLI{rootCmd: rootCmd}

	rootCmd.AddCommand(c.newMigrateCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}
