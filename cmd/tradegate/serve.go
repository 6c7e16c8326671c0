package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/tradegate/internal/interfaces/http"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, metrics and the decision stream",
		Long: `Starts the HTTP server on the configured host and port. Decisions made
through the API are stored and pushed to websocket clients on /ws/decisions.
SIGINT or SIGTERM drains in-flight requests before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			server, err := httpapi.NewServer(a.cfg.Server, httpapi.Deps{
				Pipeline:  a.pipeline,
				Decisions: a.decisions,
				Health:    a.db.Health(),
				Metrics:   a.metrics,
				Hub:       a.hub,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()
			log.Info().Str("address", server.Address()).Bool("mock", flags.mock).Msg("tradegate serving")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "Listen port (overrides config and HTTP_PORT)")
	return cmd
}
