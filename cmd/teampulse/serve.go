package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"teampulse/internal/config"
	"teampulse/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, store, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server.New(a, store, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Live-reload the config file so credential rotation does not need
		// a restart. A reload rebuilds nothing in flight; it only logs the
		// change until the next restart picks it up fully.
		if configPath != "" {
			watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
				logger.Info("config file changed; restart to apply connection settings")
			})
			if err != nil {
				logger.Warn("config watcher unavailable", zap.Error(err))
			} else if err := watcher.Start(); err != nil {
				logger.Warn("config watcher unavailable", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", zap.String("addr", addr))
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}
