package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MEKXH/familiar/internal/app"
	"github.com/MEKXH/familiar/internal/gateway"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Familiar sidecar",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "Override gateway host")
	cmd.Flags().Int("port", 0, "Override gateway port")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}

	a, err := app.New(app.Options{Config: cfg, Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("failed to start sidecar: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("sidecar close failed", "error", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	if health := a.Health(); health.Status != app.HealthReady {
		slog.Warn("claude cli prerequisites missing", "missing", health.Missing)
	}

	errCh := make(chan error, 1)
	gatewayServer := gateway.New(cfg.Gateway, a)
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Familiar running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}
	return runErr
}
