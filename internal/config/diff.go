package config

import (
	"reflect"
	"strings"

	logx "procnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (destination_url, tokens) are never
// included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		n := newCfg.Notify
		attrs = append(attrs,
			logx.Bool("notify.destination_set", strings.TrimSpace(n.DestinationURL) != ""),
			logx.Bool("notify.destination_changed", oldCfg.Notify.DestinationURL != n.DestinationURL),
			logx.Bool("notify.escape_first_only", n.EscapeFirstOnly),
		)
		if n.Buffer != nil {
			attrs = append(attrs, logx.Bool("notify.buffer", *n.Buffer))
		}
		if n.BufferSeconds != nil {
			attrs = append(attrs, logx.Any("notify.buffer_seconds", *n.BufferSeconds))
		}
		if n.BufferMaxSeconds != nil {
			attrs = append(attrs, logx.Any("notify.buffer_max_seconds", *n.BufferMaxSeconds))
		}
		if n.QueueMax != nil {
			attrs = append(attrs, logx.Int("notify.queue_max", *n.QueueMax))
		}
	}

	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.timeout", strings.TrimSpace(newCfg.Transport.Timeout)),
			logx.Int("transport.rate_per_sec", newCfg.Transport.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Bool("sources.systemd", newCfg.Sources.Systemd.Enabled),
			logx.Int("sources.systemd_units", len(newCfg.Sources.Systemd.Units)),
			logx.Bool("sources.http", newCfg.Sources.HTTP.Enabled),
			logx.Bool("sources.http_token_set", newCfg.Sources.HTTP.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	return changed, attrs
}
