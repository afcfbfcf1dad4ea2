// Package queue buffers lifecycle events and hands them to the delivery path
// in batches.
//
// With buffering disabled every event is dispatched on its own. With
// buffering enabled events accumulate in a pending batch and one debounced
// flush (bounded by a ceiling) drains the whole batch at once.
package queue

import (
	"sync"
	"time"

	"procnotify/internal/event"
	"procnotify/internal/flush"
	"procnotify/internal/metrics"
	logx "procnotify/pkg/logx"
)

// ReasonImmediate marks single-event batches sent without buffering.
const ReasonImmediate = "immediate"

// Config is the buffering policy.
type Config struct {
	Buffer bool
	// Debounce is the quiet period after the latest event.
	Debounce time.Duration
	// MaxWait bounds the delay from the first event of an episode.
	MaxWait time.Duration
}

func (c Config) buffering() bool { return c.Buffer && c.Debounce > 0 }

// Dispatcher receives drained batches. Dispatch must not block on delivery.
type Dispatcher interface {
	Dispatch(batch []event.Event, reason string)
}

// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	closed  bool
	pending []event.Event

	sched   *flush.Scheduler
	out     Dispatcher
	log     logx.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, out Dispatcher, log logx.Logger, m *metrics.Metrics) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		cfg:     cfg,
		sched:   flush.New(cfg.Debounce, cfg.MaxWait),
		out:     out,
		log:     log,
		metrics: m,
	}
}

// Add accepts one event. It never blocks on delivery and never fails;
// delivery problems are reported by the delivery path.
func (q *Queue) Add(e event.Event) {
	q.mu.Lock()
	if q.closed || !q.cfg.buffering() {
		q.mu.Unlock()
		q.metrics.EventReceived(ReasonImmediate)
		q.out.Dispatch([]event.Event{e}, ReasonImmediate)
		return
	}
	q.pending = append(q.pending, e)
	n := len(q.pending)
	q.metrics.SetPending(n)
	// Lock order is q.mu then scheduler; the scheduler runs its action
	// without holding its own lock.
	q.sched.Schedule(q.flushPending)
	q.mu.Unlock()

	q.metrics.EventReceived("buffered")
	q.log.Trace("event buffered", logx.String("name", e.Name), logx.String("event", e.Event), logx.Int("pending", n))
}

// take atomically swaps the pending batch for an empty one. The pending gauge
// is only written under q.mu.
func (q *Queue) take() []event.Event {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.metrics.SetPending(0)
	q.mu.Unlock()
	return batch
}

func (q *Queue) flushPending(reason flush.Reason) {
	batch := q.take()
	if len(batch) == 0 {
		q.log.Debug("flush found no pending events", logx.String("reason", string(reason)))
		return
	}
	q.metrics.Flushed(string(reason))
	q.log.Debug("flushing batch", logx.Int("events", len(batch)), logx.String("reason", string(reason)))
	q.out.Dispatch(batch, string(reason))
}

// Apply swaps the buffering policy. New timings apply from the next
// episode; switching buffering off flushes what is pending.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg
	q.sched.Reconfigure(cfg.Debounce, cfg.MaxWait)
	flushNow := !cfg.buffering() && len(q.pending) > 0
	q.mu.Unlock()

	if flushNow {
		q.Flush()
	}
}

// Flush drains the pending batch now.
func (q *Queue) Flush() {
	if !q.sched.Flush() {
		q.flushPending(flush.ReasonForced)
	}
}

// Close flushes pending events and switches to immediate delivery, so events
// arriving during shutdown are not stranded in the buffer.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Flush()
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
