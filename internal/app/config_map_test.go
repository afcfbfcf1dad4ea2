package app

import (
	"strings"
	"testing"
	"time"

	"procnotify/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestMapConfigDefaults(t *testing.T) {
	st, err := mapConfig(&config.Config{})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !st.queue.Buffer || st.queue.Debounce != 2*time.Second || st.queue.MaxWait != 20*time.Second {
		t.Fatalf("unexpected queue defaults: %+v", st.queue)
	}
	if st.notifier.QueueMax != 100 {
		t.Fatalf("expected queue_max 100, got %d", st.notifier.QueueMax)
	}
	if st.webhook.Timeout != 10*time.Second || st.webhook.SuccessMarker != "ok" {
		t.Fatalf("unexpected webhook defaults: %+v", st.webhook)
	}
	if st.notifier.SendTimeout <= st.webhook.Timeout {
		t.Fatalf("send timeout must cover the http timeout: %v", st.notifier.SendTimeout)
	}
	if st.systemd.Interval != 5*time.Second {
		t.Fatalf("unexpected systemd interval %v", st.systemd.Interval)
	}
	if st.storageOn {
		t.Fatalf("storage must default to off")
	}
}

func TestMapConfigExplicitZeros(t *testing.T) {
	cfg := &config.Config{
		Notify: config.NotifyConfig{
			Buffer:           ptr(false),
			BufferSeconds:    ptr(0.0),
			BufferMaxSeconds: ptr(0.5),
			QueueMax:         ptr(0),
		},
		Transport: config.TransportConfig{SuccessMarker: ptr("")},
	}
	st, err := mapConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if st.queue.Buffer || st.queue.Debounce != 0 || st.queue.MaxWait != 500*time.Millisecond {
		t.Fatalf("unexpected queue config: %+v", st.queue)
	}
	if st.notifier.QueueMax != 0 {
		t.Fatalf("explicit queue_max=0 must disable truncation, got %d", st.notifier.QueueMax)
	}
	if st.webhook.SuccessMarker != "" {
		t.Fatalf("explicit empty marker must be kept, got %q", st.webhook.SuccessMarker)
	}
}

func TestMapConfigStorage(t *testing.T) {
	st, err := mapConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "./x.db", Retention: "24h"}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !st.storageOn || st.storage.Driver != "sqlite" || st.storage.BusyTimeout != time.Second {
		t.Fatalf("unexpected storage: %+v", st.storage)
	}
	if st.retention.MaxAge != 24*time.Hour || st.retention.Schedule != "@hourly" {
		t.Fatalf("unexpected retention: %+v", st.retention)
	}
}

func TestMapConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{name: "negative buffer", cfg: config.Config{Notify: config.NotifyConfig{BufferSeconds: ptr(-1.0)}}, want: "notify.buffer_seconds"},
		{name: "negative queue_max", cfg: config.Config{Notify: config.NotifyConfig{QueueMax: ptr(-1)}}, want: "notify.queue_max"},
		{name: "bad url", cfg: config.Config{Notify: config.NotifyConfig{DestinationURL: "hooks/abc"}}, want: "notify.destination_url"},
		{name: "bad timeout", cfg: config.Config{Transport: config.TransportConfig{Timeout: "soon"}}, want: "transport.timeout"},
		{name: "negative rate", cfg: config.Config{Transport: config.TransportConfig{RatePerSec: -1}}, want: "transport.rate_per_sec"},
		{name: "bad level", cfg: config.Config{Logging: config.LoggingConfig{Level: "loud"}}, want: "logging.level"},
		{name: "tiny interval", cfg: config.Config{Sources: config.SourcesConfig{Systemd: config.SystemdSourceConfig{Interval: "1ms"}}}, want: "sources.systemd.interval"},
		{name: "unknown driver", cfg: config.Config{Storage: &config.StorageConfig{Driver: "redis"}}, want: "storage.driver"},
		{name: "missing path", cfg: config.Config{Storage: &config.StorageConfig{Driver: "file"}}, want: "storage.path"},
		{name: "bad cron", cfg: config.Config{Storage: &config.StorageConfig{Driver: "file", Path: "x", PruneSchedule: "sometimes"}}, want: "storage.prune_schedule"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mapConfig(&tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDestinationURLNeverInError(t *testing.T) {
	secret := "ftp://hooks.example.invalid/T000/B000/secret"
	_, err := mapConfig(&config.Config{Notify: config.NotifyConfig{DestinationURL: secret}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks destination url: %v", err)
	}
}
