package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"procnotify/internal/config"
	"procnotify/internal/ingest"
	"procnotify/internal/notifier"
	"procnotify/internal/queue"
	"procnotify/internal/retention"
	systemdsrc "procnotify/internal/source/systemd"
	"procnotify/internal/storage"
	"procnotify/internal/transport/webhook"
	logx "procnotify/pkg/logx"
)

const (
	defaultBufferSeconds    = 2
	defaultBufferMaxSeconds = 20
	defaultQueueMax         = 100
	defaultSendTimeout      = 10 * time.Second
)

// settings is the raw config mapped onto component configs with defaults.
type settings struct {
	queue     queue.Config
	notifier  notifier.Config
	webhook   webhook.Config
	logging   logx.Config
	systemd   systemdsrc.Config
	ingest    ingest.Config
	storage   storage.Config
	storageOn bool
	retention retention.Config
}

func mapConfig(cfg *config.Config) (settings, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var s settings
	var err error

	if s.queue, err = mapQueueConfig(cfg.Notify); err != nil {
		return settings{}, err
	}
	if s.webhook, err = mapWebhookConfig(cfg.Transport); err != nil {
		return settings{}, err
	}
	if s.notifier, err = mapNotifierConfig(cfg.Notify, s.webhook.Timeout); err != nil {
		return settings{}, err
	}
	if s.logging, err = mapLoggingConfig(cfg.Logging); err != nil {
		return settings{}, err
	}
	if s.systemd, err = mapSystemdConfig(cfg.Sources.Systemd); err != nil {
		return settings{}, err
	}
	s.ingest = ingest.Config{
		Enabled: cfg.Sources.HTTP.Enabled,
		Addr:    strings.TrimSpace(cfg.Sources.HTTP.Addr),
		Token:   strings.TrimSpace(cfg.Sources.HTTP.Token),
	}
	if s.storage, s.storageOn, s.retention, err = mapStorageConfig(cfg.Storage); err != nil {
		return settings{}, err
	}
	return s, nil
}

func mapQueueConfig(n config.NotifyConfig) (queue.Config, error) {
	buffer := true
	if n.Buffer != nil {
		buffer = *n.Buffer
	}
	debounce, err := config.SecondsField("notify.buffer_seconds", n.BufferSeconds, defaultBufferSeconds)
	if err != nil {
		return queue.Config{}, err
	}
	maxWait, err := config.SecondsField("notify.buffer_max_seconds", n.BufferMaxSeconds, defaultBufferMaxSeconds)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{Buffer: buffer, Debounce: debounce, MaxWait: maxWait}, nil
}

func mapNotifierConfig(n config.NotifyConfig, sendTimeout time.Duration) (notifier.Config, error) {
	queueMax := defaultQueueMax
	if n.QueueMax != nil {
		queueMax = *n.QueueMax
	}
	if queueMax < 0 {
		return notifier.Config{}, fmt.Errorf("notify.queue_max must be >= 0")
	}

	dest := strings.TrimSpace(n.DestinationURL)
	if dest != "" {
		u, err := url.Parse(dest)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			// Never echo the url; it carries the webhook secret.
			return notifier.Config{}, fmt.Errorf("notify.destination_url must be an absolute http(s) url")
		}
	}

	return notifier.Config{
		DestinationURL:  dest,
		QueueMax:        queueMax,
		Username:        strings.TrimSpace(n.Username),
		ServerName:      strings.TrimSpace(n.ServerName),
		EscapeFirstOnly: n.EscapeFirstOnly,
		// Leave room for the rate limiter wait on top of the HTTP timeout.
		SendTimeout: sendTimeout + 5*time.Second,
	}, nil
}

func mapWebhookConfig(t config.TransportConfig) (webhook.Config, error) {
	timeout, err := config.ParseDurationOrDefault("transport.timeout", t.Timeout, defaultSendTimeout)
	if err != nil {
		return webhook.Config{}, err
	}
	if t.RatePerSec < 0 {
		return webhook.Config{}, fmt.Errorf("transport.rate_per_sec must be >= 0")
	}
	marker := webhook.DefaultSuccessMarker
	if t.SuccessMarker != nil {
		marker = strings.TrimSpace(*t.SuccessMarker)
	}
	return webhook.Config{Timeout: timeout, RatePerSec: t.RatePerSec, SuccessMarker: marker}, nil
}

func mapLoggingConfig(l config.LoggingConfig) (logx.Config, error) {
	if !logx.ValidLevel(l.Level) {
		return logx.Config{}, fmt.Errorf("logging.level: unknown level %q", l.Level)
	}
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}, nil
}

func mapSystemdConfig(c config.SystemdSourceConfig) (systemdsrc.Config, error) {
	interval, err := config.ParseDurationOrDefault("sources.systemd.interval", c.Interval, systemdsrc.DefaultInterval)
	if err != nil {
		return systemdsrc.Config{}, err
	}
	if interval < 100*time.Millisecond {
		return systemdsrc.Config{}, fmt.Errorf("sources.systemd.interval must be >= 100ms")
	}
	return systemdsrc.Config{Enabled: c.Enabled, Units: c.Units, Interval: interval}, nil
}

func mapStorageConfig(sc *config.StorageConfig) (storage.Config, bool, retention.Config, error) {
	if sc == nil {
		return storage.Config{}, false, retention.Config{}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if !storage.ValidDriver(driver) {
		return storage.Config{}, false, retention.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if driver == "" || driver == "none" {
		return storage.Config{}, false, retention.Config{}, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, retention.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, retention.Config{}, err
	}
	age, err := config.ParseDurationOrDefault("storage.retention", sc.Retention, retention.DefaultMaxAge)
	if err != nil {
		return storage.Config{}, false, retention.Config{}, err
	}
	schedule := strings.TrimSpace(sc.PruneSchedule)
	if schedule == "" {
		schedule = retention.DefaultSchedule
	}
	if err := retention.ValidateSchedule(schedule); err != nil {
		return storage.Config{}, false, retention.Config{}, fmt.Errorf("storage.prune_schedule: %w", err)
	}

	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true,
		retention.Config{Schedule: schedule, MaxAge: age}, nil
}
