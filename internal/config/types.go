package config

// Config is the on-disk configuration (JSON or YAML).
//
// Pointer fields distinguish "omitted" (use the default) from an explicit
// zero, which is meaningful for buffer timings and queue_max.
type Config struct {
	Notify    NotifyConfig    `json:"notify"`
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Sources   SourcesConfig   `json:"sources"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// NotifyConfig controls buffering and rendering.
//
// Defaults (when fields are omitted):
//   - buffer: true
//   - buffer_seconds: 2 (0 disables buffering)
//   - buffer_max_seconds: 20
//   - queue_max: 100 (0 disables truncation)
type NotifyConfig struct {
	Buffer           *bool    `json:"buffer,omitempty"`
	BufferSeconds    *float64 `json:"buffer_seconds,omitempty"`
	BufferMaxSeconds *float64 `json:"buffer_max_seconds,omitempty"`
	QueueMax         *int     `json:"queue_max,omitempty"`

	// DestinationURL holds a secret webhook path; never log it.
	DestinationURL  string `json:"destination_url"`
	Username        string `json:"username,omitempty"`
	ServerName      string `json:"servername,omitempty"`
	EscapeFirstOnly bool   `json:"escape_first_only,omitempty"`
}

// TransportConfig controls the webhook client.
type TransportConfig struct {
	// Timeout is a Go duration string (e.g. "10s").
	Timeout       string  `json:"timeout,omitempty"`
	RatePerSec    int     `json:"rate_per_sec,omitempty"`
	SuccessMarker *string `json:"success_marker,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SourcesConfig struct {
	Systemd SystemdSourceConfig `json:"systemd"`
	HTTP    HTTPSourceConfig    `json:"http"`
}

// SystemdSourceConfig watches unit ActiveState over D-Bus.
type SystemdSourceConfig struct {
	Enabled bool     `json:"enabled"`
	Units   []string `json:"units,omitempty"`
	// Interval is a Go duration string; default "5s".
	Interval string `json:"interval,omitempty"`
}

// HTTPSourceConfig controls the ingest listener.
//
// Prefer binding to localhost. Token is an optional bearer token (do not log).
type HTTPSourceConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9753"
	Token   string `json:"token,omitempty"`
}

// StorageConfig controls the optional delivery log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./procnotify.db", "retention": "168h" }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`   // Go duration string (sqlite)
	Retention     string `json:"retention,omitempty"`      // Go duration string; default "168h"
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron spec; default "@hourly"
}
