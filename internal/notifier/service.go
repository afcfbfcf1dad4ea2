package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	"procnotify/internal/format"
	"procnotify/internal/metrics"
	rtsup "procnotify/internal/runtime/supervisor"
	"procnotify/internal/transport"
	logx "procnotify/pkg/logx"
)

var ErrStopped = errors.New("notifier stopped")

// DefaultQueueSize is the number of batches that may wait for the worker.
const DefaultQueueSize = 256

type job struct {
	batch  []event.Event
	reason string
}

// Service delivers batches in the order they were dispatched. It is safe for
// concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	stopped   bool
	queue     chan job
	queueSize int

	sender  transport.Sender
	host    format.HostIdentity
	now     func() time.Time
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	sup     *rtsup.Supervisor
}

type Option func(*Service)

// WithHost replaces the host name lookup used for the sender identity.
func WithHost(h format.HostIdentity) Option { return func(s *Service) { s.host = h } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithQueueSize sets how many batches may wait for delivery before new ones
// are dropped.
func WithQueueSize(n int) Option { return func(s *Service) { s.queueSize = n } }

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:    sender,
		host:      format.OSHostname,
		now:       time.Now,
		log:       log,
		bus:       bus,
		metrics:   m,
		queueSize: DefaultQueueSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}
	s.applyLocked(cfg)
	s.queue = make(chan job, s.queueSize)

	// Sends must outlive the caller's context; Stop decides when to give up.
	s.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(log),
		rtsup.WithCancelOnError(false),
	)
	// A single worker keeps batches in dispatch order.
	q := s.queue
	s.sup.GoRestart("deliver.worker", func(ctx context.Context) error {
		return s.workerLoop(ctx, q)
	})
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg = cfg
}

// Dispatch enqueues batch for the delivery worker and returns immediately.
// When the queue is full the batch is dropped and counted as lost.
func (s *Service) Dispatch(batch []event.Event, reason string) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Warn("dispatch after stop; batch dropped", logx.Int("lost", len(batch)), logx.String("reason", reason))
		s.metrics.Dropped(len(batch))
		return
	}
	select {
	case s.queue <- job{batch: batch, reason: reason}:
	default:
		s.log.Warn("delivery queue full; batch dropped",
			logx.Int("lost", len(batch)),
			logx.String("reason", reason),
			logx.Int("queue_size", s.queueSize),
		)
		s.metrics.Dropped(len(batch))
	}
}

// workerLoop delivers queued batches one at a time. It returns nil once the
// queue is closed and drained.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.Deliver(ctx, j.batch, j.reason)
		}
	}
}

// Deliver renders and sends batch synchronously and reports the outcome.
// An empty batch is a no-op.
func (s *Service) Deliver(ctx context.Context, batch []event.Event, reason string) Outcome {
	if len(batch) == 0 {
		return Outcome{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	out := Outcome{
		BatchID: uuid.NewString(),
		Reason:  reason,
		At:      s.now(),
		Events:  len(batch),
	}
	log := s.log.With(logx.String("batch_id", out.BatchID), logx.String("reason", reason))

	url := strings.TrimSpace(cfg.DestinationURL)
	if url == "" {
		out.Error = transport.ErrNoDestination.Error()
		log.Error("no destination url set; set notify.destination_url in the config file", logx.Int("lost", len(batch)))
		s.metrics.Skipped(len(batch))
		s.publish(eventbus.TopicSkipped, out)
		return out
	}

	res := format.Build(batch, format.Options{
		QueueMax:        cfg.QueueMax,
		Username:        cfg.Username,
		ServerName:      cfg.ServerName,
		EscapeFirstOnly: cfg.EscapeFirstOnly,
		Host:            s.host,
	}, out.At)
	out.Rendered = res.Rendered
	out.Suppressed = res.Suppressed
	out.Titles = make([]string, 0, len(res.Payload.Attachments))
	for _, a := range res.Payload.Attachments {
		out.Titles = append(out.Titles, a.Title)
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	start := time.Now()
	err := s.sender.Send(sctx, url, res.Payload)
	cancel()
	out.Took = time.Since(start)

	if err != nil {
		out.Error = err.Error()
		log.Error("error sending notification; verify notify.destination_url",
			logx.Err(err),
			logx.Int("lost", len(batch)),
			logx.Duration("took", out.Took),
		)
		s.metrics.Delivered(false, len(batch), res.Suppressed, out.Took.Seconds())
		s.publish(eventbus.TopicFailed, out)
		return out
	}

	out.OK = true
	log.Info("notification delivered",
		logx.Int("events", len(batch)),
		logx.Int("attachments", len(res.Payload.Attachments)),
		logx.Int("suppressed", res.Suppressed),
		logx.Duration("took", out.Took),
	)
	s.metrics.Delivered(true, 0, res.Suppressed, out.Took.Seconds())
	s.publish(eventbus.TopicDelivered, out)
	return out
}

func (s *Service) publish(topic string, out Outcome) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: out.At, Data: out})
}

// Stop refuses new batches and waits for queued and in-flight deliveries
// until ctx expires; then the worker is canceled.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	err := s.sup.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		s.sup.Cancel()
		queued := 0
		for j := range s.queue {
			queued += len(j.batch)
		}
		s.log.Warn("deliveries abandoned at shutdown", logx.Int("lost", queued))
		s.metrics.Dropped(queued)
		return ctx.Err()
	}
	return nil
}
