// Package event defines the process lifecycle event accepted by the pipeline.
package event

import (
	"strings"
	"time"
)

// Common lifecycle event types. Sources may emit others.
const (
	Start    = "start"
	Stop     = "stop"
	Restart  = "restart"
	Online   = "online"
	Starting = "starting"
	Stopping = "stopping"
	Stopped  = "stopped"
	Errored  = "errored"
	Exit     = "exit"
)

// Event is one lifecycle notification. Treat it as immutable once submitted.
type Event struct {
	// Name identifies the originating process or unit.
	Name string `json:"name" validate:"required"`
	// Event is the lifecycle event type (start, stop, errored, ...).
	Event       string `json:"event" validate:"required"`
	Description string `json:"description,omitempty"`
	// Timestamp is unix seconds.
	Timestamp int64 `json:"timestamp,omitempty" validate:"gte=0"`
}

// New builds an event stamped with at.
func New(name, typ, description string, at time.Time) Event {
	return Event{
		Name:        strings.TrimSpace(name),
		Event:       strings.TrimSpace(typ),
		Description: description,
		Timestamp:   at.Unix(),
	}
}

// Key returns the (name, event) pair used for adjacent merging.
func (e Event) Key() [2]string { return [2]string{e.Name, e.Event} }

// Time returns the timestamp as time.Time.
func (e Event) Time() time.Time { return time.Unix(e.Timestamp, 0) }
