package commands

import (
	"os"

	"github.com/lumenview/lumen/internal/adapters/procpool"
	"github.com/spf13/cobra"
)

// newWorkerCmd is the isolated decode worker loop. The pool spawns the
// running binary with this subcommand and speaks the framed protocol over
// the child's stdin/stdout, so the command must never print there.
func (c *CLI) newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    procpool.WorkerArg,
		Short:  "Run the decode worker loop (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.app.RunWorker(os.Stdin, os.Stdout)
		},
	}
}
