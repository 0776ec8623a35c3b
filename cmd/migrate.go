package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kr-car-crawler/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed the source sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close() //nolint:errcheck // pool close has nothing to report
			return a.Migrate(cmd.Context())
		},
	}
}
