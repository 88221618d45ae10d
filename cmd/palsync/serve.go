package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/palss/palsync/internal/config"
	"github.com/palss/palsync/internal/httpapi"
	"github.com/palss/palsync/internal/palsync"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			store, err := palsync.BuildLocalStoreFromDSN(cfg.LocalStoreDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			if cfg.WatchLocalStore {
				if watcher, ok := store.(interface {
					Watch(context.Context, zerolog.Logger) error
				}); ok {
					go func() {
						if err := watcher.Watch(cmd.Context(), logger); err != nil && !errors.Is(err, context.Canceled) {
							logger.Warn().Err(err).Msg("local store watcher stopped")
						}
					}()
				}
			}

			mode, err := palsync.ParseDataMode(cfg.DataMode)
			if err != nil {
				return fmt.Errorf("data mode %q: %w", cfg.DataMode, err)
			}

			var remote palsync.RemoteRepository
			if mode == palsync.DataModeRemote {
				remote, err = palsync.BuildRemoteRepository(cfg.RemoteDSN, cfg.RemoteToken)
				if err != nil {
					return err
				}
				defer remote.Close()
			}

			catalog := palsync.NewCatalog(store)
			outbox := palsync.NewOutbox(store)
			reconciler := palsync.NewReconciler(palsync.ReconcilerOptions{
				Mode:        mode,
				Catalog:     catalog,
				Outbox:      outbox,
				Remote:      remote,
				Logger:      logger,
				CallTimeout: cfg.CallTimeout,
			})
			defer reconciler.Close()

			normalizer := palsync.HashNormalizer{}
			signals := palsync.NewSignalEngine(catalog, normalizer)

			server, err := httpapi.NewServer(httpapi.ServerOptions{
				Catalog:    catalog,
				Outbox:     outbox,
				Reconciler: reconciler,
				Signals:    signals,
				Normalizer: normalizer,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			logger.Info().
				Str("mode", string(mode)).
				Str("local_store", cfg.LocalStoreDSN).
				Msg("starting")
			return server.Run(cfg.Addr, cfg.ShutdownTimeout)
		},
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
