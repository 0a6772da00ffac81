package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/github-community-projects/internal-contribution-forks/bootstrap"
	"github.com/github-community-projects/internal-contribution-forks/config"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and RPC server",
	PreRun: func(cmd *cobra.Command, args []string) {
		_ = cfg.BindPFlag("port", cmd.Flags().Lookup("port"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		appEnv, err := config.LoadAppEnv()
		if err != nil {
			return err
		}
		app, err := bootstrap.NewApp(cfg, appEnv)
		if err != nil {
			slog.Error("Failed to create application", "error", err)
			return err
		}
		r := bootstrap.Bootstrap(app)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.GetInt("port")),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Starting server", "addr", srv.Addr, "version", bootstrap.Version)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 3000, "Port to listen on")
}
