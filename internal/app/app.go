// Package app wires the pieces together: config manager, logging service,
// telegram adapter, history store, and the monitor. It owns startup order,
// config fan-out, and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"usagewatch/internal/config"
	"usagewatch/internal/history"
	"usagewatch/internal/monitor"
	rtsup "usagewatch/internal/runtime/supervisor"
	kit "usagewatch/internal/transport"
	"usagewatch/internal/transport/telegram"
	logx "usagewatch/pkg/logx"
)

// lazySender defers the logx telegram sink to an adapter that is built
// after the logging service (the adapter itself wants a logger).
type lazySender struct {
	v atomic.Value // stores logx.Sender
}

func (l *lazySender) set(s logx.Sender) { l.v.Store(s) }

func (l *lazySender) SendPlain(ctx context.Context, chatID int64, text string) error {
	s, _ := l.v.Load().(logx.Sender)
	if s == nil {
		return nil
	}
	return s.SendPlain(ctx, chatID, text)
}

type App struct {
	mgr     *config.Manager
	logSvc  *logx.Service
	log     logx.Logger
	sender  *lazySender
	adapter *telegram.Adapter
	store   history.Store
	mon     *monitor.Service

	owners atomic.Value // stores []int64
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sender := &lazySender{}
	logSvc, log := logx.New(logxConfig(cfg.Logging), sender)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	sender.set(adapter)
	if id, err := cfg.Telegram.ParsedChatID(); err == nil {
		logSvc.SetChatTarget(id)
	}

	store, err := history.Open(cfg.Storage, log.With(logx.String("comp", "history")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	mon, err := monitor.New(*cfg, monitor.Deps{
		Log:    log.With(logx.String("comp", "monitor")),
		Store:  store,
		Sender: adapter,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		mgr:     mgr,
		logSvc:  logSvc,
		log:     log,
		sender:  sender,
		adapter: adapter,
		store:   store,
		mon:     mon,
	}
	a.owners.Store(append([]int64(nil), cfg.Telegram.OwnerUserIDs...))
	return a, nil
}

// Monitor exposes the orchestrator for one-shot CLI commands.
func (a *App) Monitor() *monitor.Service { return a.mon }

// Close releases resources for one-shot invocations that never call Run.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	_ = a.logSvc.Close()
	return err
}

// Run starts everything and blocks until ctx is cancelled, then performs a
// bounded shutdown.
func (a *App) Run(ctx context.Context) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	updates := make(chan kit.Update, 64)
	if err := a.adapter.Start(sup.Context(), updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	if err := a.mon.Start(sup.Context()); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	a.log.Info("started",
		logx.String("bot", a.adapter.BotUsername()),
		logx.Int("interval_min", a.mgr.Get().Monitor.IntervalMinutes()),
	)

	sup.Go("config.watch", a.mgr.Watch)

	sub := a.mgr.Subscribe(4)
	sup.Go0("config.fanout", func(c context.Context) {
		defer a.mgr.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	sup.Go0("commands", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-updates:
				a.handleUpdate(c, up)
			}
		}
	})

	<-sup.Context().Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.adapter.Stop(shutdownCtx)
	if err := a.mon.Stop(shutdownCtx); err != nil {
		a.log.Warn("monitor stop", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	sup.Cancel()
	if err := sup.Wait(shutdownCtx); err != nil && ctx.Err() == nil {
		a.log.Warn("shutdown incomplete", logx.Err(err))
	}
	_ = a.logSvc.Close()
	return sup.Err()
}

// applyConfig is the reload fan-out: logging sinks, monitor schedule and
// tracking flags, owner list, log chat target. A token change cannot be
// applied live; it needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg.Logging))
	if id, err := cfg.Telegram.ParsedChatID(); err == nil {
		a.logSvc.SetChatTarget(id)
	}
	a.owners.Store(append([]int64(nil), cfg.Telegram.OwnerUserIDs...))

	if err := a.mon.Apply(*cfg); err != nil {
		a.log.Error("config reload rejected by monitor", logx.Err(err))
		return
	}
	a.log.Info("config reloaded", logx.Int("interval_min", cfg.Monitor.IntervalMinutes()))
}

func (a *App) isOwner(userID int64) bool {
	owners, _ := a.owners.Load().([]int64)
	if len(owners) == 0 {
		return true
	}
	for _, id := range owners {
		if id == userID {
			return true
		}
	}
	return false
}
