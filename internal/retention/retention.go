// Package retention prunes old delivery-log records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "procnotify/pkg/logx"
)

const (
	DefaultSchedule = "@hourly"
	DefaultMaxAge   = 168 * time.Hour
)

// Pruner deletes records older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int, error)
}

type Config struct {
	// Schedule is a cron spec (5 or 6 fields, or a descriptor like "@hourly").
	Schedule string
	MaxAge   time.Duration
}

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	store Pruner
	log   logx.Logger
	now   func() time.Time
	c     *cron.Cron
	ctx   context.Context
}

func New(cfg Config, store Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: withDefaults(cfg), store: store, log: log, now: time.Now}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return cfg
}

// Start registers the prune job. Runs end when ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Schedule, s.run); err != nil {
		return fmt.Errorf("retention schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("retention started", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Apply swaps the policy; a changed schedule restarts cron.
func (s *Service) Apply(cfg Config) error {
	cfg = withDefaults(cfg)
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	ctx := s.ctx
	s.mu.Unlock()

	if !running || old.Schedule == cfg.Schedule {
		return nil
	}
	s.Stop(context.Background())
	return s.Start(ctx)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("retention stop timed out; prune still running")
	}
}

func (s *Service) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	rctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := s.RunOnce(rctx); err != nil {
		s.log.Warn("delivery log prune failed", logx.Err(err))
	}
}

// RunOnce deletes records older than the configured age.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	maxAge := s.cfg.MaxAge
	s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	n, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("delivery log pruned", logx.Int("removed", n), logx.Time("before", cutoff))
	}
	return n, nil
}
