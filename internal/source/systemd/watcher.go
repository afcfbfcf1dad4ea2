// Package systemd turns systemd unit state changes into lifecycle events.
//
// Units are polled over D-Bus; only ActiveState transitions are reported.
// On non-linux platforms the watcher reports ErrUnsupported and stays idle.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"procnotify/internal/event"
	rtsup "procnotify/internal/runtime/supervisor"
	logx "procnotify/pkg/logx"
)

var ErrUnsupported = errors.New("systemd source: unsupported OS (linux only)")

const DefaultInterval = 5 * time.Second

type Config struct {
	Enabled  bool
	Units    []string
	Interval time.Duration
}

// Submitter accepts one event; the notification queue implements it.
type Submitter interface {
	Add(e event.Event)
}

// unitLister reads the current state of the given units.
type unitLister interface {
	States(ctx context.Context, units []string) ([]UnitState, error)
	Close()
}

// Watcher polls units and submits transitions. It survives D-Bus failures by
// reconnecting under its supervisor; baselines are kept across reconnects.
type Watcher struct {
	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor

	sink Submitter
	log  logx.Logger
	dial func(ctx context.Context) (unitLister, error)
	now  func() time.Time

	tmu     sync.Mutex
	tracker *tracker
}

func New(cfg Config, sink Submitter, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		cfg:     normalize(cfg),
		sink:    sink,
		log:     log,
		dial:    dialSystemd,
		now:     time.Now,
		tracker: newTracker(),
	}
}

func normalize(cfg Config) Config {
	cfg.Units = normalizeUnits(cfg.Units)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return cfg
}

func (w *Watcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Enabled
}

// Start is idempotent. It does nothing when disabled or no units are set.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sup != nil || !w.cfg.Enabled {
		return
	}
	if len(w.cfg.Units) == 0 {
		w.log.Warn("systemd source enabled without units; not starting")
		return
	}
	w.sup = rtsup.New(ctx,
		rtsup.WithLogger(w.log),
		rtsup.WithCancelOnError(false),
	)
	cfg := w.cfg
	w.sup.GoRestart("systemd.watch", func(c context.Context) error {
		return w.run(c, cfg)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
}

func (w *Watcher) Stop(ctx context.Context) {
	w.mu.Lock()
	sup := w.sup
	w.sup = nil
	w.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Debug("systemd source stop", logx.Err(err))
	}
}

// Reconfigure applies cfg, restarting the poll loop when anything changed.
func (w *Watcher) Reconfigure(ctx context.Context, cfg Config) {
	cfg = normalize(cfg)
	w.mu.Lock()
	prev := w.cfg
	running := w.sup != nil
	w.cfg = cfg
	w.mu.Unlock()

	if running && sameConfig(prev, cfg) {
		return
	}
	w.tmu.Lock()
	w.tracker.forget(cfg.Units)
	w.tmu.Unlock()
	if running {
		w.Stop(ctx)
	}
	w.Start(ctx)
}

func sameConfig(a, b Config) bool {
	if a.Enabled != b.Enabled || a.Interval != b.Interval || len(a.Units) != len(b.Units) {
		return false
	}
	for i := range a.Units {
		if a.Units[i] != b.Units[i] {
			return false
		}
	}
	return true
}

// run is one connection lifetime. Returning nil ends the restart loop.
func (w *Watcher) run(ctx context.Context, cfg Config) error {
	lister, err := w.dial(ctx)
	if errors.Is(err, ErrUnsupported) {
		w.log.Warn("systemd source unavailable on this platform", logx.Err(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("connect systemd: %w", err)
	}
	defer lister.Close()

	w.log.Info("systemd source started", logx.Strings("units", cfg.Units), logx.Duration("interval", cfg.Interval))
	if err := w.poll(ctx, lister, cfg.Units); err != nil {
		return err
	}

	t := time.NewTicker(cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := w.poll(ctx, lister, cfg.Units); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context, l unitLister, units []string) error {
	states, err := l.States(ctx, units)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("list units: %w", err)
	}

	w.tmu.Lock()
	evs := w.tracker.observe(states, w.now())
	w.tmu.Unlock()

	for _, e := range evs {
		w.log.Debug("unit state changed", logx.String("unit", e.Name), logx.String("event", e.Event), logx.String("desc", e.Description))
		w.sink.Add(e)
	}
	return nil
}
