package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	server "github.com/stacklok/pkgpulse/internal/app"
	"github.com/stacklok/pkgpulse/internal/config"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pkgpulse server",
		Long: `Start the HTTP server. Clients connect to /socket and send a trackPackage
event naming an npm package; the server then emits packageUpdate every tick.

Configuration comes from the defaults, the optional YAML file (--config),
PKGPULSE_* environment variables (PORT is also honoured) and flags, in
increasing precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v)
		},
	}

	cmd.Flags().Int("port", config.DefaultPort, "Port to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, optional)")
	cmd.Flags().String("allowed-origin", "", "Browser origin allowed to connect, \"*\" for any")

	for _, name := range []string{"port", "config", "allowed-origin"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
		}
	}

	return cmd
}

// runServe serves until ctx ends or the server fails
func runServe(ctx context.Context, v *viper.Viper) error {
	opts := []config.Option{config.WithViper(v)}
	if path := v.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Starting pkgpulse server",
		"port", cfg.Port,
		"allowed_origin", cfg.AllowedOrigin,
		"config", v.GetString("config"),
	)

	application, err := server.NewApp(ctx, server.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Start()
	}()

	select {
	case err := <-errChan:
		_ = application.Stop(defaultGracefulTimeout)
		return err
	case <-ctx.Done():
	}

	if err := application.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	return <-errChan
}
