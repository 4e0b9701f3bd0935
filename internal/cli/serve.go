package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/dashboard"
	"github.com/Martian-dev/watchlane/internal/events"
	"github.com/Martian-dev/watchlane/internal/httpapi"
	"github.com/Martian-dev/watchlane/internal/sync"
)

func newServeCmd(configPath *string) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the periodic sync scheduler and the event dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := config.ValidateServer(a.cfg); err != nil {
				return err
			}
			return serve(ctx, a, !noScheduler)
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve HTTP only, without periodic sync")

	return cmd
}

func serve(ctx context.Context, a *app, withScheduler bool) error {
	manager, err := a.syncManager(ctx)
	if err != nil {
		return err
	}
	verifier, err := a.verifier(ctx)
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher(ctx, a.cfg.Events)
	if err != nil {
		return err
	}
	if publisher != nil {
		a.onClose(publisher.Close)
	}

	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Store:      a.store,
		Syncer:     manager,
		Dashboard:  dashboard.NewEngine(a.store, a.logger),
		Verifier:   verifier,
		CookieName: a.cfg.Auth.CookieName,
	}, a.logger)
	server := httpapi.NewServer(a.cfg.Server.Addr, router, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })

	if withScheduler {
		scheduler := sync.NewScheduler(manager.SyncAllAccounts, a.cfg.Sync.Interval, a.logger)
		g.Go(func() error {
			scheduler.Run(ctx)
			return nil
		})
	}

	if publisher != nil {
		dispatcher := events.NewDispatcher(a.store, publisher, a.logger)
		g.Go(func() error {
			dispatcher.Run(ctx)
			return nil
		})
	}

	a.logger.Info("Watchlane started",
		zap.String("addr", a.cfg.Server.Addr),
		zap.Bool("scheduler", withScheduler),
		zap.String("events", a.cfg.Events.Backend),
	)
	return g.Wait()
}
