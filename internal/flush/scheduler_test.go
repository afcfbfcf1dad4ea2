package flush

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitReason(t *testing.T, ch <-chan Reason, within time.Duration) Reason {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(within):
		t.Fatalf("no flush within %v", within)
		return ""
	}
}

func TestDebounceFiresOnceAfterQuietPeriod(t *testing.T) {
	t.Parallel()
	s := New(40*time.Millisecond, time.Second)
	fired := make(chan Reason, 4)

	start := time.Now()
	s.Schedule(func(r Reason) { fired <- r })
	s.Schedule(func(r Reason) { fired <- r })

	if r := waitReason(t, fired, time.Second); r != ReasonDebounce {
		t.Fatalf("reason = %s, want %s", r, ReasonDebounce)
	}
	if el := time.Since(start); el < 40*time.Millisecond {
		t.Fatalf("flushed after %v, before the quiet period", el)
	}
	select {
	case r := <-fired:
		t.Fatalf("second flush in one episode: %s", r)
	case <-time.After(100 * time.Millisecond):
	}
	if s.Pending() {
		t.Fatal("scheduler should be idle after flush")
	}
}

func TestCeilingBoundsSustainedPressure(t *testing.T) {
	t.Parallel()
	s := New(60*time.Millisecond, 150*time.Millisecond)
	fired := make(chan Reason, 8)
	action := func(r Reason) { fired <- r }

	stop := make(chan struct{})
	go func() {
		tk := time.NewTicker(15 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				s.Schedule(action)
			}
		}
	}()
	defer close(stop)

	start := time.Now()
	s.Schedule(action)
	r := waitReason(t, fired, time.Second)
	if r != ReasonCeiling {
		t.Fatalf("reason = %s, want %s", r, ReasonCeiling)
	}
	if el := time.Since(start); el < 150*time.Millisecond || el > 600*time.Millisecond {
		t.Fatalf("ceiling flush after %v, want about 150ms", el)
	}
}

func TestScheduleAfterFlushStartsNewEpisode(t *testing.T) {
	t.Parallel()
	s := New(20*time.Millisecond, time.Second)
	var n atomic.Int32
	done := make(chan Reason, 4)
	action := func(r Reason) { n.Add(1); done <- r }

	s.Schedule(action)
	waitReason(t, done, time.Second)
	s.Schedule(action)
	waitReason(t, done, time.Second)

	if got := n.Load(); got != 2 {
		t.Fatalf("flushes = %d, want 2", got)
	}
}

func TestLatestActionWins(t *testing.T) {
	t.Parallel()
	s := New(20*time.Millisecond, time.Second)
	got := make(chan string, 4)
	s.Schedule(func(Reason) { got <- "first" })
	s.Schedule(func(Reason) { got <- "second" })

	select {
	case v := <-got:
		if v != "second" {
			t.Fatalf("ran %q, want second", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no flush")
	}
	select {
	case v := <-got:
		t.Fatalf("extra action ran: %q", v)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestForcedFlush(t *testing.T) {
	t.Parallel()
	s := New(time.Hour, time.Hour)
	if s.Flush() {
		t.Fatal("Flush on idle scheduler reported an action")
	}
	fired := make(chan Reason, 2)
	s.Schedule(func(r Reason) { fired <- r })
	if !s.Flush() {
		t.Fatal("Flush did not close the episode")
	}
	if r := waitReason(t, fired, 100*time.Millisecond); r != ReasonForced {
		t.Fatalf("reason = %s, want %s", r, ReasonForced)
	}
	if s.Pending() {
		t.Fatal("still pending after Flush")
	}
}

func TestTimingsClampCeiling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		debounce, maxWait, wantMax time.Duration
	}{
		{2 * time.Second, 20 * time.Second, 20 * time.Second},
		{2 * time.Second, 0, 2 * time.Second},
		{2 * time.Second, time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		s := New(tt.debounce, tt.maxWait)
		d, m := s.Timings()
		if d != tt.debounce || m != tt.wantMax {
			t.Fatalf("New(%v, %v) timings = %v, %v; want %v, %v", tt.debounce, tt.maxWait, d, m, tt.debounce, tt.wantMax)
		}
	}

	s := New(time.Second, time.Second)
	s.Reconfigure(3*time.Second, time.Second)
	if d, m := s.Timings(); d != 3*time.Second || m != 3*time.Second {
		t.Fatalf("Reconfigure timings = %v, %v", d, m)
	}
}
