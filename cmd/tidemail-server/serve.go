package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidemail/tidemail/internal/campserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign service",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := campserver.LoadConfig(configFile)
	if err != nil {
		return err
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	storage, err := campserver.NewStorage(cfg.DBPath)
	if err != nil {
		return err
	}
	defer storage.Close()

	hub := campserver.NewHub()
	sender := campserver.NewSandboxSender(logger)
	worker := campserver.NewWorker(storage, sender, hub, logger)
	srv := campserver.NewServer(storage, worker, hub, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		return err
	}

	return srv.Shutdown(context.Background())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
