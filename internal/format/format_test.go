package format

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"procnotify/internal/event"
)

func fixedHost() string { return "box-1" }

func ev(name, typ, desc string, ts int64) event.Event {
	return event.Event{Name: name, Event: typ, Description: desc, Timestamp: ts}
}

func TestBuildMergesAdjacent(t *testing.T) {
	t.Parallel()
	events := []event.Event{
		ev("web", "errored", "a", 10),
		ev("web", "errored", "b", 11),
		ev("web", "errored", "c", 12),
	}
	res := Build(events, Options{Host: fixedHost}, time.Unix(100, 0))
	if got := len(res.Payload.Attachments); got != 1 {
		t.Fatalf("attachments = %d, want 1", got)
	}
	a := res.Payload.Attachments[0]
	if a.Text != "a\nb\nc" {
		t.Fatalf("text = %q, want %q", a.Text, "a\nb\nc")
	}
	if a.Fallback != "web errored: a, b, c" {
		t.Fatalf("fallback = %q", a.Fallback)
	}
	if a.TS != 10 {
		t.Fatalf("ts = %d, want first event's 10", a.TS)
	}
	if res.Payload.Text != "" {
		t.Fatalf("single attachment must not carry summary text, got %q", res.Payload.Text)
	}
	if events[0].Description != "a" {
		t.Fatalf("input mutated: %q", events[0].Description)
	}
}

func TestBuildDoesNotMergeNonAdjacent(t *testing.T) {
	t.Parallel()
	events := []event.Event{
		ev("api", "start", "1", 1),
		ev("api", "stop", "2", 2),
		ev("api", "start", "3", 3),
	}
	res := Build(events, Options{Host: fixedHost}, time.Now())
	if got := len(res.Payload.Attachments); got != 3 {
		t.Fatalf("attachments = %d, want 3", got)
	}
	if res.Payload.Text != "api start, api stop, api start" {
		t.Fatalf("summary = %q", res.Payload.Text)
	}
}

func TestBuildTruncation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		total   int
		max     int
		notice  string
		withOvf bool
	}{
		{name: "plural", total: 5, max: 2, notice: "Next 3 messages have been suppressed.", withOvf: true},
		{name: "singular", total: 3, max: 2, notice: "Next 1 message has been suppressed.", withOvf: true},
		{name: "exact", total: 2, max: 2},
		{name: "unlimited", total: 5, max: 0},
	}
	now := time.Unix(5000, 0)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := make([]event.Event, tt.total)
			for i := range events {
				// distinct event types so nothing merges
				events[i] = ev("svc", "e"+string(rune('a'+i)), "", int64(i))
			}
			res := Build(events, Options{QueueMax: tt.max, Host: fixedHost}, now)
			want := tt.total
			if tt.max > 0 && tt.total > tt.max {
				want = tt.max
			}
			if tt.withOvf {
				want++
			}
			if got := len(res.Payload.Attachments); got != want {
				t.Fatalf("attachments = %d, want %d", got, want)
			}
			if !tt.withOvf {
				if res.Suppressed != 0 {
					t.Fatalf("suppressed = %d, want 0", res.Suppressed)
				}
				return
			}
			last := res.Payload.Attachments[len(res.Payload.Attachments)-1]
			if last.Title != OverflowTitle {
				t.Fatalf("last title = %q", last.Title)
			}
			if last.Text != tt.notice {
				t.Fatalf("notice = %q, want %q", last.Text, tt.notice)
			}
			if last.TS != now.Unix() {
				t.Fatalf("notice ts = %d, want %d", last.TS, now.Unix())
			}
			if last.Fallback != "" {
				t.Fatalf("notice fallback = %q, want none", last.Fallback)
			}
			if res.Rendered != tt.max {
				t.Fatalf("rendered = %d, want %d", res.Rendered, tt.max)
			}
		})
	}
}

func TestBuildSummaryText(t *testing.T) {
	t.Parallel()
	events := []event.Event{ev("web", "start", "", 1), ev("web", "stop", "", 2), ev("web", "error", "", 3)}
	res := Build(events, Options{Host: fixedHost}, time.Now())
	if res.Payload.Text != "web start, web stop, web error" {
		t.Fatalf("summary = %q", res.Payload.Text)
	}
}

// One rendered event plus the overflow notice is two attachments, so the
// summary lists both titles.
func TestBuildSummaryCountsOverflowNotice(t *testing.T) {
	t.Parallel()
	events := []event.Event{ev("web", "start", "", 1), ev("web", "stop", "", 2)}
	res := Build(events, Options{QueueMax: 1, Host: fixedHost}, time.Unix(10, 0))
	if n := len(res.Payload.Attachments); n != 2 {
		t.Fatalf("attachments = %d, want 2", n)
	}
	if res.Payload.Text != "web start, "+OverflowTitle {
		t.Fatalf("summary = %q", res.Payload.Text)
	}

	single := Build(events[:1], Options{QueueMax: 1, Host: fixedHost}, time.Unix(10, 0))
	if single.Payload.Text != "" {
		t.Fatalf("single attachment summary = %q, want empty", single.Payload.Text)
	}
}

func TestBuildEscaping(t *testing.T) {
	t.Parallel()
	res := Build([]event.Event{ev("x", "log", "<script>&", 1)}, Options{Host: fixedHost}, time.Now())
	if got := res.Payload.Attachments[0].Text; got != "&lt;script&gt;&amp;" {
		t.Fatalf("text = %q", got)
	}

	res = Build([]event.Event{ev("x", "log", "a<b<c", 1)}, Options{Host: fixedHost}, time.Now())
	if got := res.Payload.Attachments[0].Text; got != "a&lt;b&lt;c" {
		t.Fatalf("replace-all text = %q", got)
	}
	res = Build([]event.Event{ev("x", "log", "a<b<c", 1)}, Options{Host: fixedHost, EscapeFirstOnly: true}, time.Now())
	if got := res.Payload.Attachments[0].Text; got != "a&lt;b<c" {
		t.Fatalf("first-only text = %q", got)
	}
}

func TestBuildFallbackAndTrim(t *testing.T) {
	t.Parallel()
	res := Build([]event.Event{ev("db", "exit", "  line1\r\n\nline2  ", 7)}, Options{Host: fixedHost}, time.Now())
	a := res.Payload.Attachments[0]
	if a.Title != "db exit" {
		t.Fatalf("title = %q", a.Title)
	}
	if a.Fallback != "db exit: line1, line2" {
		t.Fatalf("fallback = %q", a.Fallback)
	}
	if a.Text != "line1\r\n\nline2" {
		t.Fatalf("text = %q", a.Text)
	}

	res = Build([]event.Event{ev("db", "exit", "", 7)}, Options{Host: fixedHost}, time.Now())
	if got := res.Payload.Attachments[0].Fallback; got != "db exit" {
		t.Fatalf("empty description fallback = %q", got)
	}
}

func TestSenderName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		opt  Options
		want string
	}{
		{Options{Username: "bot", ServerName: "srv", Host: fixedHost}, "bot"},
		{Options{ServerName: "srv", Host: fixedHost}, "srv"},
		{Options{Host: fixedHost}, "box-1"},
	}
	for _, tt := range tests {
		if got := Build(nil, tt.opt, time.Now()).Payload.Username; got != tt.want {
			t.Fatalf("username = %q, want %q", got, tt.want)
		}
	}
}

func TestBuildEmptyBatch(t *testing.T) {
	t.Parallel()
	res := Build(nil, Options{Host: fixedHost}, time.Now())
	if res.Payload.Attachments == nil || len(res.Payload.Attachments) != 0 {
		t.Fatalf("attachments = %#v, want empty non-nil", res.Payload.Attachments)
	}
	b, err := json.Marshal(res.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"attachments":[]`) {
		t.Fatalf("json = %s", b)
	}
}
