package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kr-car-crawler/internal/app"
)

const defaultServeAddr = ":8080"

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status server (health, metrics, monitoring rows)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.Server.Addr
			}
			if addr == "" {
				addr = defaultServeAddr
			}
			a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close() //nolint:errcheck // pool close has nothing to report
			return a.StatusServer().Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr, then :8080)")
	return cmd
}
