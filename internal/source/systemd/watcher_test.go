package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"procnotify/internal/event"
	logx "procnotify/pkg/logx"
)

type sink struct {
	mu  sync.Mutex
	evs []event.Event
}

func (s *sink) Add(e event.Event) {
	s.mu.Lock()
	s.evs = append(s.evs, e)
	s.mu.Unlock()
}

func (s *sink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.evs...)
}

// scriptLister returns scripted states, then repeats the last one.
type scriptLister struct {
	mu     sync.Mutex
	script [][]UnitState
	calls  int
	closed bool
}

func (l *scriptLister) States(context.Context, []string) ([]UnitState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	if i >= len(l.script) {
		i = len(l.script) - 1
	}
	l.calls++
	return l.script[i], nil
}

func (l *scriptLister) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherReportsTransitions(t *testing.T) {
	l := &scriptLister{script: [][]UnitState{
		{{Unit: "api", Active: "active", SubState: "running"}},
		{{Unit: "api", Active: "deactivating", SubState: "stop-sigterm"}},
		{{Unit: "api", Active: "inactive", SubState: "dead"}},
	}}
	s := &sink{}
	w := New(Config{Enabled: true, Units: []string{"api"}, Interval: 20 * time.Millisecond}, s, logx.Nop())
	w.dial = func(context.Context) (unitLister, error) { return l, nil }

	w.Start(context.Background())
	waitFor(t, "two events", func() bool { return len(s.snapshot()) >= 2 })
	w.Stop(context.Background())

	evs := s.snapshot()
	if evs[0].Event != "stopping" || evs[1].Event != "stopped" {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs[1].Description != "deactivating -> inactive (dead)" {
		t.Fatalf("unexpected description %q", evs[1].Description)
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if !closed {
		t.Fatalf("lister not closed on stop")
	}
}

func TestWatcherUnsupportedStaysIdle(t *testing.T) {
	var dials int
	var mu sync.Mutex
	w := New(Config{Enabled: true, Units: []string{"api"}, Interval: 10 * time.Millisecond}, &sink{}, logx.Nop())
	w.dial = func(context.Context) (unitLister, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, ErrUnsupported
	}
	w.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	w.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("unsupported platform must not be retried, dials=%d", dials)
	}
}

func TestWatcherReconnectsAfterDialError(t *testing.T) {
	var mu sync.Mutex
	var dials int
	l := &scriptLister{script: [][]UnitState{{{Unit: "api", Active: "active"}}}}
	w := New(Config{Enabled: true, Units: []string{"api"}, Interval: 10 * time.Millisecond}, &sink{}, logx.Nop())
	w.dial = func(context.Context) (unitLister, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return nil, errors.New("bus down")
		}
		return l, nil
	}
	w.Start(context.Background())
	defer w.Stop(context.Background())

	waitFor(t, "reconnect", func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.calls > 0
	})
}

func TestWatcherDisabledOrNoUnits(t *testing.T) {
	called := false
	for _, cfg := range []Config{{Enabled: false, Units: []string{"a"}}, {Enabled: true}} {
		w := New(cfg, &sink{}, logx.Nop())
		w.dial = func(context.Context) (unitLister, error) { called = true; return nil, ErrUnsupported }
		w.Start(context.Background())
		w.Stop(context.Background())
	}
	if called {
		t.Fatalf("watcher must not dial when disabled or without units")
	}
}
