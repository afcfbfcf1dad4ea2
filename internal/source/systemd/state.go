package systemd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"procnotify/internal/event"
)

// UnitState is the part of a unit's status the watcher tracks.
type UnitState struct {
	Unit     string // as configured, e.g. "nginx"
	Active   string // ActiveState: active, inactive, failed, ...
	SubState string // running, dead, exited, ...
}

// MapState turns a systemd ActiveState into a lifecycle event type.
// Unknown states pass through unchanged.
func MapState(active string) string {
	switch active {
	case "active":
		return event.Online
	case "activating":
		return event.Starting
	case "deactivating":
		return event.Stopping
	case "inactive":
		return event.Stopped
	case "failed":
		return event.Errored
	default:
		return active
	}
}

// unitName appends ".service" to bare names.
func unitName(u string) string {
	u = strings.TrimSpace(u)
	if strings.Contains(u, ".") {
		return u
	}
	return u + ".service"
}

// normalizeUnits trims, drops blanks and duplicates, and sorts.
func normalizeUnits(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// tracker remembers the last ActiveState per unit. The first observation of
// a unit only records a baseline.
type tracker struct {
	prev map[string]string
}

func newTracker() *tracker { return &tracker{prev: map[string]string{}} }

// observe records states and returns one event per ActiveState change.
func (t *tracker) observe(states []UnitState, now time.Time) []event.Event {
	var out []event.Event
	for _, st := range states {
		old, seen := t.prev[st.Unit]
		t.prev[st.Unit] = st.Active
		if !seen || old == st.Active {
			continue
		}
		desc := fmt.Sprintf("%s -> %s", old, st.Active)
		if st.SubState != "" {
			desc += " (" + st.SubState + ")"
		}
		out = append(out, event.New(st.Unit, MapState(st.Active), desc, now))
	}
	return out
}

// forget drops units no longer watched so re-adding them starts a new baseline.
func (t *tracker) forget(keep []string) {
	set := make(map[string]struct{}, len(keep))
	for _, u := range keep {
		set[u] = struct{}{}
	}
	for u := range t.prev {
		if _, ok := set[u]; !ok {
			delete(t.prev, u)
		}
	}
}
