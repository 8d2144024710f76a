package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/brizzai/loopback-login/internal/server"
)

const stopTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the login API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Interface to listen on")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("storage", "", "User storage driver (memory, sqlite)")
	serveCmd.Flags().String("sessions", "", "State session backend (memory, redis)")
}

func newApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.GetLogger()}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		server.Module,
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	app := newApp(cfg)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sig := <-app.Wait()
	logger.Info("Shutting down", zap.String("signal", fmt.Sprint(sig.Signal)))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}
