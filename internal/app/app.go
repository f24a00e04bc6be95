// Package app wires configuration, transport, storage and the check loop into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigwatch/internal/catalog"
	"gigwatch/internal/checker"
	"gigwatch/internal/config"
	"gigwatch/internal/dispatcher"
	"gigwatch/internal/geo"
	"gigwatch/internal/metrics"
	"gigwatch/internal/observability"
	rtsup "gigwatch/internal/runtime/supervisor"
	"gigwatch/internal/spotify"
	"gigwatch/internal/storage"
	"gigwatch/internal/subscribers"
	kit "gigwatch/internal/transport"
	telegram "gigwatch/internal/transport/telegram/adapter"
	"gigwatch/internal/trigger"
	"gigwatch/pkg/logx"
)

// StopReason is recorded in the shutdown log line.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	metrics *metrics.Metrics
	ledger  storage.Ledger
	catalog *catalog.Client
	disp    *dispatcher.Dispatcher
	checker *checker.Checker
	obs     *observability.Server

	trig triggerSettings
}

// New loads the config file at cfgPath and builds every component.
// Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(tcfg, bootLog)
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, ad)
}

// build assembles the app around sender. Split from New so tests can supply their own sender.
func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config, sender kit.Sender) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)
	appLog := log.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	m := metrics.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	ledger, err := storage.Open(ctx, sc, log.With(logx.String("comp", "ledger")))
	if err != nil {
		return fail(err)
	}
	appLog.Info("ledger opened", logx.String("driver", sc.Driver))

	closeLedger := func(err error) (*App, error) {
		_ = ledger.Close()
		return fail(err)
	}

	ccfg, err := mapCatalogConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}
	ccfg.Metrics = m
	cat := catalog.New(ccfg, log.With(logx.String("comp", "catalog")))

	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}
	disp := dispatcher.New(dcfg, sender, log.With(logx.String("comp", "dispatcher")), m)

	scfg, err := mapSpotifyConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}
	fav := spotify.New(scfg, log.With(logx.String("comp", "spotify")))

	deps := checker.Deps{
		Subscribers: subscribers.NewFileStore(subscribersPath(cfg)),
		Favorites:   fav,
		Catalog:     cat,
		Ledger:      ledger,
		Queue:       disp,
		Metrics:     m,
	}
	gcfg, geoEnabled, err := mapGeocoderConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}
	if geoEnabled {
		deps.Geocoder = geo.NewNominatim(gcfg, log.With(logx.String("comp", "geocoder")))
	}

	trig, err := mapTriggerConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}

	ocfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return closeLedger(err)
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		metrics: m,
		ledger:  ledger,
		catalog: cat,
		disp:    disp,
		checker: checker.New(deps, log.With(logx.String("comp", "checker"))),
		trig:    trig,
	}
	a.obs = observability.New(ocfg, m.Registry(), a.Healthy, log.With(logx.String("comp", "observability")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// Healthy reports nil while the app is running without a fatal error.
func (a *App) Healthy() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return a.sup.Context().Err()
}

// runCheck is the job driven by the trigger loop.
func (a *App) runCheck(ctx context.Context) error {
	rep, err := a.checker.Run(ctx)
	u := a.catalog.Usage()
	a.log.Debug("catalog quota",
		logx.String("run_id", rep.RunID),
		logx.Int("used", u.PeriodCount),
		logx.Int("limit", u.PeriodLimit),
		logx.Time("period_start", u.PeriodStart),
	)
	if err != nil {
		return fmt.Errorf("run %s: %w", rep.RunID, err)
	}
	if rep.Aborted {
		a.log.Warn("check run ended early: catalog quota exhausted",
			logx.String("run_id", rep.RunID), logx.Int("notified", rep.Notified))
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	if err := a.metrics.Tasks(func() (int64, uint64) {
		c := a.sup.Counters()
		return c.Active, c.Started
	}); err != nil {
		return fmt.Errorf("register task metrics: %w", err)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTriggerConfig(cfg); err != nil {
			return err
		}
		_, err := mapObservabilityConfig(cfg)
		return err
	})

	// The queue outlives the run context so Stop can drain it.
	a.disp.Start(context.WithoutCancel(ctx))
	a.obs.Start(a.sup.Context())

	loop := &trigger.Loop{
		Schedule:   a.trig.schedule,
		Cooldown:   a.trig.cooldown,
		RunOnStart: a.trig.runOnStart,
		Job:        a.runCheck,
		Log:        a.log.With(logx.String("comp", "trigger")),
	}
	a.sup.Go("check.trigger", loop.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("schedule", a.trig.spec.String()),
		logx.Duration("cooldown", a.trig.cooldown),
		logx.Bool("run_on_start", a.trig.runOnStart),
	)
	return nil
}

// reloadLoop applies the live-reloadable sections of each published config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ocfg, err := mapObservabilityConfig(newCfg); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.obs.Reconfigure(ctx, ocfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order: trigger first, then the queue drain,
// then the ledger, and the log sinks last.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	tasks := a.sup.Counters()
	a.log.Info("stopping", logx.String("reason", string(reason)),
		logx.Int("queued", a.disp.Len()), logx.Int64("tasks_active", tasks.Active))

	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("dispatcher", 0, a.disp.Stop)
	step("ledger", time.Second, func(context.Context) error { return a.ledger.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
