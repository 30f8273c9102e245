// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"repbot/internal/bot"
	"repbot/internal/config"
	"repbot/internal/eventbus"
	"repbot/internal/ledger"
	"repbot/internal/logging"
	"repbot/internal/metrics"
	"repbot/internal/notify"
	"repbot/internal/ops"
	"repbot/internal/reminder"
	"repbot/internal/schedule"
	"repbot/internal/supervisor"
	"repbot/internal/transport"
	"repbot/internal/transport/telegram"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log      zerolog.Logger
	logClose func() error

	bus      eventbus.Bus
	adapter  transport.Adapter
	led      *ledger.SQLite
	registry *schedule.Registry
	engine   *reminder.Engine
	notifier *notify.Service
	ctrl     *bot.Controller
	opsSrv   *ops.Server

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logClose, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	cfgm.SetLogger(log.With().Str("comp", "config").Logger())

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With().Str("comp", "telegram").Logger())
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(ledger.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With().Str("comp", "ledger").Logger())
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	bus := eventbus.New()

	notifier := notify.New(notifierConfig(cfg), adapter, bus,
		log.With().Str("comp", "notifier").Logger())

	engine := reminder.New(cfg.Reminder.AllowedCounts, notifier,
		log.With().Str("comp", "reminder").Logger())

	slots, err := schedule.SlotsFromConfig(cfg.Schedule.Slots)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	loc, err := loadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}
	registry := schedule.NewRegistry(slots, loc, engine.OnFire,
		log.With().Str("comp", "schedule").Logger())

	ctrl := bot.NewController(adapter, led, registry, cfg.Reminder.AllowedCounts, bus,
		log.With().Str("comp", "bot").Logger())

	var opsSrv *ops.Server
	if cfg.Ops.Enabled {
		opsSrv = ops.New(cfg.Ops.Addr, log.With().Str("comp", "ops").Logger())
	}

	return &App{
		cfgm:     cfgm,
		log:      log.With().Str("comp", "app").Logger(),
		logClose: logClose,
		bus:      bus,
		adapter:  adapter,
		led:      led,
		registry: registry,
		engine:   engine,
		notifier: notifier,
		ctrl:     ctrl,
		opsSrv:   opsSrv,
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	a.notifier.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	// Install triggers for every already-registered user before the cron
	// starts ticking, then start firing.
	if err := a.ctrl.Rehydrate(runCtx); err != nil {
		return err
	}
	a.registry.Start()

	if cmu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		if err := cmu.UpdateMenuCommands(mctx, a.ctrl.Commands()); err != nil {
			a.log.Warn().Err(err).Msg("command menu update failed")
		}
		cancel()
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.ctrl.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("events.observe", a.observeEvents)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.opsSrv != nil {
		a.sup.Go("ops.http", func(c context.Context) error {
			return a.opsSrv.Run(c)
		})
	}

	a.log.Info().Msg("repbot started")
	return nil
}

// applyConfig pushes a validated hot-reloaded config into the running
// components. Telegram token and storage path changes require a restart
// and are intentionally not applied here.
func (a *App) applyConfig(cfg *config.Config) {
	logging.SetLevel(cfg.Logging.Level)

	a.notifier.Apply(notifierConfig(cfg))
	a.engine.Apply(cfg.Reminder.AllowedCounts)
	a.ctrl.Apply(cfg.Reminder.AllowedCounts)

	slots, err := schedule.SlotsFromConfig(cfg.Schedule.Slots)
	if err != nil {
		// Validate() gates reloads, so this should not happen.
		a.log.Warn().Err(err).Msg("reloaded slots invalid; keeping previous")
		return
	}
	loc, err := loadLocation(cfg.Schedule.Timezone)
	if err != nil {
		a.log.Warn().Err(err).Msg("reloaded timezone invalid; keeping previous")
		return
	}
	a.registry.Apply(slots, loc)

	a.log.Info().Msg("config applied")
}

// observeEvents bridges core events to metrics and debug logs.
func (a *App) observeEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ue, _ := ev.Data.(eventbus.UserEvent)
			switch ev.Type {
			case eventbus.TypeUserRegistered:
				metrics.IncUserRegistered()
				a.log.Debug().Int64("user_id", ue.UserID).Msg("user registered")
			case eventbus.TypeReminderSent:
				metrics.IncReminderSent(ue.Slot)
				a.log.Debug().Int64("user_id", ue.UserID).Str("slot", ue.Slot).Msg("reminder sent")
			case eventbus.TypeReminderFailed:
				metrics.IncReminderFailed(ue.Slot)
			case eventbus.TypeCountRecorded:
				metrics.IncCountRecorded(ue.Amount)
				a.log.Debug().Int64("user_id", ue.UserID).Int("amount", ue.Amount).Int64("total", ue.Total).Msg("count recorded")
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info().Msg("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so no single component stalls the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn().Err(err).Str("step", name).Msg("stop step error")
		}
		a.log.Debug().Str("step", name).Dur("took", time.Since(start)).Msg("stop step done")
	}

	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("schedule", 2*time.Second, func(c context.Context) error { a.registry.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notifier.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("ledger", time.Second, func(context.Context) error { return a.led.Close() })

	a.log.Info().Msg("stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return nil
}

func notifierConfig(cfg *config.Config) notify.Config {
	retryBase, _ := config.ParseDurationField("notifier.retry_base", cfg.Notifier.RetryBase)
	retryMaxDelay, _ := config.ParseDurationField("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	return notify.Config{
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}
