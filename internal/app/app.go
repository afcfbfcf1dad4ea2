// Package app wires the notification pipeline: sources feed the queue, the
// queue feeds the notifier, outcomes go to the log, metrics and the delivery
// log. Config reloads are applied live.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"procnotify/internal/config"
	"procnotify/internal/eventbus"
	"procnotify/internal/ingest"
	"procnotify/internal/metrics"
	"procnotify/internal/notifier"
	"procnotify/internal/queue"
	"procnotify/internal/retention"
	rtsup "procnotify/internal/runtime/supervisor"
	systemdsrc "procnotify/internal/source/systemd"
	"procnotify/internal/storage"
	"procnotify/internal/transport/webhook"
	logx "procnotify/pkg/logx"
)

// ShutdownGrace bounds how long Stop waits for in-flight sends.
const ShutdownGrace = 10 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store

	client  *webhook.Client
	notif   *notifier.Service
	queue   *queue.Queue
	ingest  *ingest.Service
	systemd *systemdsrc.Watcher
	keeper  *retention.Service

	busEvents <-chan eventbus.Event
	busUnsub  func()
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	notifierOpts []notifier.Option
}

// WithNotifierOptions passes options to the notifier (host identity, clock).
func WithNotifierOptions(opts ...notifier.Option) Option {
	return func(o *options) { o.notifierOpts = append(o.notifierOpts, opts...) }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := mapConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(st.logging)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	var store storage.Store
	if st.storageOn {
		store, err = storage.Open(st.storage, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", st.storage.Driver))
	}

	client := webhook.New(st.webhook)
	notif := notifier.New(st.notifier, client, log.With(logx.String("comp", "notifier")), bus, m, o.notifierOpts...)
	q := queue.New(st.queue, notif, log.With(logx.String("comp", "queue")), m)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		metrics: m,
		store:   store,
		client:  client,
		notif:   notif,
		queue:   q,
		systemd: systemdsrc.New(st.systemd, q, log.With(logx.String("comp", "systemd"))),
	}

	deps := ingest.Deps{Submit: q, Metrics: m.Handler(), Log: log.With(logx.String("comp", "ingest"))}
	if store != nil {
		deps.Deliveries = store
		a.keeper = retention.New(st.retention, store, log.With(logx.String("comp", "retention")))
	}
	a.ingest = ingest.New(st.ingest, deps, log.With(logx.String("comp", "ingest")))

	if strings.TrimSpace(st.notifier.DestinationURL) == "" {
		log.Warn("notify.destination_url is empty; notifications will be dropped until it is set")
	}
	return a, nil
}

// Queue is the submission point for events.
func (a *App) Queue() *queue.Queue { return a.queue }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapConfig(cfg)
		return err
	})

	if a.keeper != nil {
		if err := a.keeper.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Subscribe before any source can produce an outcome.
	a.busEvents, a.busUnsub = a.bus.Subscribe(256)
	recLog := a.log.With(logx.String("comp", "deliveries"))
	a.sup.Go0("deliveries.record", func(c context.Context) {
		recordDeliveries(c, a.busEvents, a.store, recLog)
	})

	a.ingest.Start(a.sup.Context())
	a.systemd.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.Bool("ingest", a.ingest.Enabled()),
		logx.Bool("systemd", a.systemd.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	st, err := mapConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(st.logging)
	a.client.Apply(st.webhook)
	a.notif.Apply(st.notifier)
	a.queue.Apply(st.queue)
	a.ingest.Reconfigure(ctx, st.ingest)
	a.systemd.Reconfigure(ctx, st.systemd)

	for _, s := range sections {
		if s != "storage" {
			continue
		}
		oldSt, _ := mapConfig(oldCfg)
		if oldSt.storage != st.storage || oldSt.storageOn != st.storageOn {
			a.log.Warn("storage driver/path changed; restart required for changes to take effect")
		}
		if a.keeper != nil {
			if err := a.keeper.Apply(st.retention); err != nil {
				a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
			}
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop shuts down in pipeline order: sources first so nothing new arrives,
// then the queue flushes, then in-flight sends are awaited.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("systemd", 2*time.Second, func(c context.Context) error { a.systemd.Stop(c); return nil })
	step("ingest", 3*time.Second, func(c context.Context) error { a.ingest.Stop(c); return nil })
	step("queue", time.Second, func(context.Context) error {
		if n := a.queue.Len(); n > 0 {
			a.log.Info("flushing pending events", logx.Int("pending", n))
		}
		a.queue.Close()
		return nil
	})
	step("notifier", ShutdownGrace, a.notif.Stop)
	step("retention", time.Second, func(c context.Context) error {
		if a.keeper != nil {
			a.keeper.Stop(c)
		}
		return nil
	})

	// Cancel last so the delivery recorder sees every outcome.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	if a.busUnsub != nil {
		a.busUnsub()
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
