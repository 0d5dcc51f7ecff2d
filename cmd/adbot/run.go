package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/bot"
	"admin-activead/internal/cfg"
	"admin-activead/internal/dashboard"
	"admin-activead/internal/db"
	"admin-activead/internal/mail"
	"admin-activead/internal/metrics"
	"admin-activead/internal/scheduler"
	"admin-activead/internal/storage"
	"admin-activead/internal/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (default)",
	RunE:  runBot,
}

func runBot(_ *cobra.Command, _ []string) error {
	c, err := cfg.Load()
	if err != nil {
		_, _ = setupLogging(logLevel, "")
		log.Error().Err(err).Msg("config load failed")
		return err
	}

	closeLog, err := setupLogging(c.LogLevel, c.LogPath)
	defer closeLog()
	if err != nil {
		log.Warn().Err(err).Msg("File logging unavailable, logging to console only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	store, err := db.Open(c.DBPath, c.Location, c.SuperAdminID)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := storage.New(c.SessionPath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	runner, err := ad.NewRunner(c.AD)
	if err != nil {
		return err
	}
	directory := ad.New(runner, c.AD.SearchBase, c.AD.Timeout, m)

	sched := scheduler.New(store, directory, c.Location, m)
	defer sched.Stop()

	tg := telegram.NewClient(c.TelegramAPIURL, c.TelegramToken, c.PollTimeout+c.RequestTimeout)
	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Telegram token check failed")
		return err
	}
	log.Info().Str("username", me.Username).Int64("superadmin", c.SuperAdminID).Msg("Bot authorized")

	b := bot.New(bot.Options{
		Messenger:      tg,
		DB:             store,
		Sessions:       sessions,
		Directory:      directory,
		Scheduler:      sched,
		Metrics:        m,
		Location:       c.Location,
		DisableHour:    c.DisableHour,
		PasswordLength: c.PasswordLength,
		RevealTTL:      c.RevealTTL,
		Workers:        c.UpdateWorkers,
	})
	sched.SetNotifier(b.NotifyJob)

	if n, err := sched.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to restore scheduled jobs")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("Pending blocks re-armed")
	}

	stopDashboard, err := startDashboard(c, store, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer stopDashboard()

	var dial mail.Dialer
	if c.IMAP.Enabled() {
		dial = mail.IMAPDialer(c.IMAP)
	}
	checker := mail.NewChecker(mail.Options{
		Dial:         dial,
		Scheduler:    sched,
		Directory:    directory,
		Location:     c.Location,
		DisableHour:  c.DisableHour,
		SuperAdminID: c.SuperAdminID,
		Interval:     c.IMAP.PollInterval,
		Metrics:      m,
	})

	var wg sync.WaitGroup
	startBackground(ctx, &wg, "mail checker", checker.Run)
	startBackground(ctx, &wg, "bot", func(ctx context.Context) error {
		return b.Run(ctx, telegram.NewPoller(tg, c.PollTimeout, m))
	})

	waitForShutdown(ctx, cancel, &wg)
	return nil
}

// startDashboard serves the ops endpoints unless METRICS_PORT is 0. The
// returned func stops the server.
func startDashboard(c cfg.Settings, source dashboard.Source, gatherer prometheus.Gatherer) (func(), error) {
	if c.MetricsPort == 0 {
		log.Info().Msg("Dashboard disabled (METRICS_PORT=0)")
		return func() {}, nil
	}
	dash := dashboard.New(source, gatherer, c.MetricsPort, c.DashboardToken)
	if err := dash.Start(); err != nil {
		return nil, err
	}
	return func() {
		if err := dash.Stop(); err != nil {
			log.Error().Err(err).Msg("Dashboard shutdown failed")
		}
	}, nil
}

// startBackground runs fn on its own goroutine tracked by wg.
func startBackground(ctx context.Context, wg *sync.WaitGroup, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("component", name).Msg("background component failed")
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
