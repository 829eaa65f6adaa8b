package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enrollkit/chargeonce/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Database string
}

// NewMigrateCommand creates the migrate command: the explicit version
// of the store's opportunistic schema repair, for operators who want
// the ALTER to happen on their schedule rather than under traffic.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Add the idempotency column and index to an older database",
		Long: `Bring an older database up to the current checkout schema.

Adds the idempotency_key column and its partial unique index when they
are missing. Runs the same repair the store performs opportunistically,
so the command is safe to re-run.

Example:
  chargeonce migrate --db ./chargeonce.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	// The explicit migration path: no opportunistic repair racing it.
	st, err := store.Open(opts.Database, store.WithAutoRepair(false))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	before := st.IdempotencyKeySupported()
	if err := st.RepairIdempotencySchema(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "schema repair failed", err)
	}

	report := map[string]any{
		"idempotency_keys_before": before,
		"idempotency_keys_after":  true,
	}
	if opts.Format == "json" {
		return formatter.Success(report)
	}
	if before {
		return formatter.Success("schema already current, nothing to do")
	}
	return formatter.Success(fmt.Sprintf("schema repaired: idempotency keys enabled on %s", opts.Database))
}
