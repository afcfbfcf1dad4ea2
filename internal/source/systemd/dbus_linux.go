//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusLister struct {
	conn *dbus.Conn
}

func dialSystemd(ctx context.Context) (unitLister, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &dbusLister{conn: conn}, nil
}

func (l *dbusLister) Close() { l.conn.Close() }

// States uses ListUnitsByPatterns for loaded units and falls back to the
// property map for units systemd has not loaded (they are not listed).
func (l *dbusLister) States(ctx context.Context, units []string) ([]UnitState, error) {
	byName := make(map[string]string, len(units))
	patterns := make([]string, 0, len(units))
	for _, u := range units {
		n := unitName(u)
		byName[n] = u
		patterns = append(patterns, n)
	}

	listed, err := l.conn.ListUnitsByPatternsContext(ctx, nil, patterns)
	if err != nil {
		return nil, err
	}

	found := make(map[string]UnitState, len(listed))
	for _, st := range listed {
		u, ok := byName[st.Name]
		if !ok {
			continue
		}
		found[u] = UnitState{Unit: u, Active: st.ActiveState, SubState: st.SubState}
	}

	out := make([]UnitState, 0, len(units))
	for _, u := range units {
		if st, ok := found[u]; ok {
			out = append(out, st)
			continue
		}
		props, err := l.conn.GetUnitPropertiesContext(ctx, unitName(u))
		if err != nil {
			// Unknown unit: nothing to report until it appears.
			continue
		}
		active, _ := props["ActiveState"].(string)
		sub, _ := props["SubState"].(string)
		if active == "" {
			continue
		}
		out = append(out, UnitState{Unit: u, Active: active, SubState: sub})
	}
	return out, nil
}
