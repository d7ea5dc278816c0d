// cmd/sql-assistant/serve.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/server"
)

func serveCmd(cfgPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := bootstrap(ctx, *cfgPath, "sql-assistant-http")
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Address = addr
			}

			orch, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			store, err := a.sessions()
			if err != nil {
				return err
			}

			srv := server.New(a.cfg.Server, a.cfg.Session, orch, store, a.db, a.log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
			}

			a.zapLog.Info("Shutdown signal received, stopping http server...")
			timeout := config.Millis(a.cfg.Server.ShutdownTimeout)
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.zapLog.Error("Error shutting down http server", zap.Error(err))
				return err
			}
			a.zapLog.Info("http server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}
