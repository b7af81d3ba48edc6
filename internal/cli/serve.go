package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/baseline/internal/control"
	"github.com/mesh-intelligence/baseline/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture the baseline and serve the control channel",
		Long: "serve runs the schema and init scripts, captures the baseline and listens\n" +
			"for boundary signals and access reports until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New(nil)
			eng, cfg, log, err := openEngine(ctx, m)
			if err != nil {
				return err
			}
			defer eng.Close()

			if listen == "" {
				listen = cfg.Listen
			}
			srv := control.NewServer(listen, eng,
				control.WithLogger(log),
				control.WithMetricsHandler(m.Handler()),
			)
			if err := srv.Start(ctx); err != nil {
				return sysError("%w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "baseline listening on %s\n", srv.Addr())

			<-ctx.Done()
			return srv.Stop(context.Background())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "control channel address (overrides config)")
	return cmd
}
