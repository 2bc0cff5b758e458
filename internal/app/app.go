package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tidemail/tidemail/internal/api"
	"github.com/tidemail/tidemail/internal/config"
	"github.com/tidemail/tidemail/internal/connectivity"
	"github.com/tidemail/tidemail/internal/metrics"
	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/notify"
	"github.com/tidemail/tidemail/internal/orchestrator"
	"github.com/tidemail/tidemail/internal/poller"
	"github.com/tidemail/tidemail/internal/remote"
)

// App is the orchestration agent. It wires the remote client, the
// orchestrator state machine, the worker trigger poller, the
// connectivity monitor, and the local HTTP API.
type App struct {
	config    *config.Config
	client    *remote.Client
	orch      *orchestrator.Orchestrator
	poller    *poller.Poller
	monitor   *connectivity.Monitor
	apiServer *api.Server
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey)

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, logger))
		logger.Info("webhook notifications enabled", "url", cfg.Notify.WebhookURL)
	}

	m := metrics.New()

	orch := orchestrator.New(client, notifiers, m, orchestrator.Config{
		AccountID:   cfg.Account.ID,
		SenderName:  cfg.Account.SenderName,
		SettleDelay: cfg.Connectivity.SettleDelay,
	}, logger)

	p := poller.New(client, cfg.Poller.Interval, m, logger)

	monitor := connectivity.New(
		connectivity.ProbeFunc(func(ctx context.Context) error {
			_, err := client.Health(ctx)
			return err
		}),
		connectivity.Config{
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
		},
		orch.HandleOnline,
		orch.HandleOffline,
		logger,
	)

	apiServer := api.NewServer(orch, m, cfg.API.ListenAddr, logger)

	return &App{
		config:    cfg,
		client:    client,
		orch:      orch,
		poller:    p,
		monitor:   monitor,
		apiServer: apiServer,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Run starts all components and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting tidemail",
		"account_id", a.config.Account.ID,
		"remote", a.config.Remote.BaseURL,
		"api_addr", a.config.API.ListenAddr,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Recover an in-flight campaign before serving traffic. Failure is
	// not fatal: the service may be down and the monitor will reconcile
	// once it comes back.
	if err := a.orch.Bootstrap(ctx); err != nil {
		a.logger.Warn("bootstrap failed, starting without recovered state", "error", err)
	}

	a.monitor.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runLifecycle(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	wg.Wait()
	return a.Shutdown(context.Background())
}

// runLifecycle consumes orchestrator state changes and keeps the poller
// and the delta sources aligned with them. The delta sources follow the
// campaign id: they stay up for as long as a campaign exists, paused or
// not, so resumes and completions from other devices still arrive. Two
// independent sources feed the same reducer: the push stream and a
// status-poll fallback that covers stream gaps. The worker trigger
// poller runs only while the campaign is running.
func (a *App) runLifecycle(ctx context.Context) {
	var (
		active string
		stop   func()
	)

	start := func(campaignID string) {
		cctx, cancel := context.WithCancel(ctx)
		sub := a.client.Subscribe(cctx, campaignID, a.logger)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for delta := range sub.Events() {
				a.orch.ApplyDelta(delta)
			}
		}()
		go func() {
			defer wg.Done()
			a.pollStatus(cctx, campaignID)
		}()

		active = campaignID
		stop = func() {
			cancel()
			sub.Close()
			wg.Wait()
			active, stop = "", nil
		}
	}

	teardown := func() {
		if stop != nil {
			stop()
		}
	}

	reconcile := func(status model.Status, campaignID string) {
		if status == model.StatusRunning && campaignID != "" {
			a.poller.Start(ctx)
		} else {
			a.poller.Stop()
		}

		if campaignID == "" {
			teardown()
			return
		}
		if active != campaignID {
			teardown()
			start(campaignID)
		}
	}

	defer teardown()
	defer a.poller.Stop()

	// Align with whatever state bootstrap recovered.
	view := a.orch.View()
	reconcile(view.Status, view.CampaignID)

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-a.orch.Changes():
			reconcile(ch.Status, ch.CampaignID)
		}
	}
}

// pollStatus periodically re-fetches the authoritative status and feeds
// it through the same reducer the push stream uses.
func (a *App) pollStatus(ctx context.Context, campaignID string) {
	ticker := time.NewTicker(a.config.Poller.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := a.client.GetStatus(ctx, campaignID)
			if err != nil {
				a.logger.Debug("status poll failed", "campaign_id", campaignID, "error", err)
				continue
			}
			a.orch.ApplyDelta(st.Delta())
		}
	}
}

// Shutdown stops all components gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	a.monitor.Stop()
	a.poller.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
