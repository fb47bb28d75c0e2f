package commands

import (
	"fmt"

	"github.com/lumenview/lumen/internal/adapters/storage/sqlite"
	"github.com/spf13/cobra"
)

func (c *CLI) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <store-file>",
		Short: "Apply pending schema migrations to a store file",
		Long: "Applies every pending schema migration to the given store file,\n" +
			"holding its advisory lock for the duration. With --to the schema is\n" +
			"downgraded to the given version instead; downgrades never happen\n" +
			"implicitly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := cmd.Flags().GetInt("to")
			if err != nil {
				return err
			}

			db, release, err := sqlite.OpenRaw(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("to") {
				from, err := sqlite.SchemaVersion(ctx, db)
				if err != nil {
					return err
				}
				if err := sqlite.Downgrade(ctx, db, target); err != nil {
					return err
				}
				fmt.Fprintf(out, "schema version %d -> %d\n", from, target)
				return nil
			}

			pending, err := sqlite.Pending(ctx, db)
			if err != nil {
				return err
			}
			from, to, err := sqlite.Apply(ctx, db)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintf(out, "schema version %d, nothing to apply\n", from)
			} else {
				fmt.Fprintf(out, "schema version %d -> %d (%d step(s))\n", from, to, len(pending))
			}
			return nil
		},
	}
	cmd.Flags().Int("to", 0, "Downgrade the schema to this version")
	return cmd
}
