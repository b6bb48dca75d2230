package cmd

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/windmill-git-sync/windmill-git-sync/internal/server"
	"github.com/windmill-git-sync/windmill-git-sync/internal/service"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	shutdownTimeout          = 30 * time.Second
)

func newRunCommand(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the sync webhook",
		Long: `Serve the sync webhook.

POST <prefix>/sync runs one sync with the JSON request in the body and
responds with its result. GET <prefix>/health and GET <prefix>/metrics serve
the liveness probe and the Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			log := g.logger(cfg, cmd.ErrOrStderr())

			syncer, err := service.New(cfg, nil, log)
			if err != nil {
				return err
			}

			srv := server.New().
				WithSyncer(syncer).
				WithApiPrefix(cfg.Server.ApiPrefix).
				WithApiKey(cfg.Server.ApiKey).
				WithSyncTimeout(time.Duration(cfg.Server.SyncTimeout)).
				WithReadyFn(func(context.Context) error { return os.MkdirAll(syncer.Dir(), 0755) }).
				WithLogger(log).
				Init()

			httpServer := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: cmp.Or(time.Duration(cfg.Server.ReadHeaderTimeout), defaultReadHeaderTimeout),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				log.Infof("listening on %s, working directory %s", cfg.Server.Address, syncer.Dir())
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				log.Infof("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")

	return cmd
}
