package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sales-assistant/internal/common/config"
	"sales-assistant/internal/transport/httpapi"
	"sales-assistant/internal/transport/matrix"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the Matrix bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := buildStack(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			s.startBackground(ctx)

			api := httpapi.New(s.orchestrator, s.checks(), log)
			srv := &http.Server{
				Addr:         cfg.HTTP.Address,
				Handler:      api.Handler(),
				ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeout),
				WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeout),
			}

			var bot *matrix.Bot
			if cfg.Matrix.Enabled {
				var closeBot func()
				bot, closeBot, err = newMatrixBot(ctx, cfg, s)
				if err != nil {
					return err
				}
				defer closeBot()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpapi.Serve(gctx, srv, config.GetDuration(cfg.HTTP.ShutdownTimeout), log)
			})
			if bot != nil {
				g.Go(func() error { return bot.Run(gctx) })
			}

			err = g.Wait()
			log.Info("Sales assistant stopped", nil)
			return err
		},
	}
}

func newMatrixBot(ctx context.Context, cfg *config.Config, s *stack) (*matrix.Bot, func(), error) {
	mcfg := matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		Rooms:       cfg.Matrix.Rooms,
	}
	closeStore := func() {}
	if cfg.Matrix.SyncStoreDSN != "" {
		store, err := matrix.OpenSyncStore(ctx, cfg.Matrix.SyncStoreDSN)
		if err != nil {
			return nil, nil, err
		}
		mcfg.SyncStore = store
		closeStore = func() { store.Close() }
	}

	bot, err := matrix.New(mcfg, s.orchestrator, s.log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return bot, closeStore, nil
}
