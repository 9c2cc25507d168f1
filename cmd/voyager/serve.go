package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voyager-travel/voyager"
	"github.com/voyager-travel/voyager/pkg/httpapi"
	"github.com/voyager-travel/voyager/pkg/observability"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			observability.InitMetrics()

			assistant, err := voyager.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer assistant.Close()

			server := httpapi.NewServer(assistant, httpapi.ServerConfig{
				Addr:          cfg.Server.Addr,
				RatePerSecond: cfg.Server.RatePerSecond,
				RateBurst:     cfg.Server.RateBurst,
				EnableMetrics: cfg.Server.EnableMetrics,
				Logger:        log,
				Health:        assistant.Health(),
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(server.ListenAndServe)
			g.Go(func() error {
				<-ctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
