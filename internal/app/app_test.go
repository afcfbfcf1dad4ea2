package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	"procnotify/internal/format"
	"procnotify/internal/notifier"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"
)

type hook struct {
	mu       sync.Mutex
	payloads []format.Payload
}

func (h *hook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var p format.Payload
	_ = json.Unmarshal(b, &p)
	h.mu.Lock()
	h.payloads = append(h.payloads, p)
	h.mu.Unlock()
	_, _ = w.Write([]byte("ok"))
}

func (h *hook) snapshot() []format.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]format.Payload(nil), h.payloads...)
}

func writeConfig(t *testing.T, dir, dest string) string {
	t.Helper()
	path := filepath.Join(dir, "procnotify.json")
	body := fmt.Sprintf(`{
  "notify": {"buffer": true, "buffer_seconds": 0.1, "buffer_max_seconds": 1, "destination_url": %q},
  "transport": {"timeout": "2s", "rate_per_sec": 10},
  "logging": {"level": "error", "console": true},
  "sources": {"http": {"enabled": true, "addr": "127.0.0.1:0"}},
  "storage": {"driver": "file", "path": %q}
}`, dest, filepath.Join(dir, "store"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppIngestToWebhookAndDeliveryLog(t *testing.T) {
	h := &hook{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	dir := t.TempDir()
	a, err := NewApp(writeConfig(t, dir, srv.URL), WithNotifierOptions(notifier.WithHost(func() string { return "test-host" })))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = a.Stop(context.Background())
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for a.ingest.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("ingest did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	body := `[{"name":"api","event":"restart","description":"oom"},{"name":"api","event":"restart","description":"oom2"}]`
	resp, err := http.Post("http://"+a.ingest.Addr()+"/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	for len(h.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("webhook never received a payload")
		}
		time.Sleep(10 * time.Millisecond)
	}
	p := h.snapshot()[0]
	if p.Username != "test-host" {
		t.Fatalf("expected host identity, got %q", p.Username)
	}
	if len(p.Attachments) != 1 || p.Attachments[0].Title != "api restart" || p.Attachments[0].Text != "oom\noom2" {
		t.Fatalf("unexpected payload %+v", p)
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	stopped = true

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	recs, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || !recs[0].OK || recs[0].Events != 2 || recs[0].Titles != "api restart" {
		t.Fatalf("unexpected delivery log %+v", recs)
	}
}

func TestAppStopFlushesPending(t *testing.T) {
	h := &hook{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "procnotify.yaml")
	cfg := fmt.Sprintf("notify:\n  buffer_seconds: 30\n  buffer_max_seconds: 60\n  destination_url: %q\nlogging:\n  level: error\n  console: true\n", srv.URL)
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Queue().Add(eventOf("db", "stop"))
	a.Queue().Add(eventOf("db", "start"))
	if got := a.Queue().Len(); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ps := h.snapshot()
	if len(ps) != 1 || len(ps[0].Attachments) != 2 {
		t.Fatalf("expected one flushed payload with 2 attachments, got %+v", ps)
	}
	if ps[0].Text != "db stop, db start" {
		t.Fatalf("unexpected summary %q", ps[0].Text)
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procnotify.json")
	if err := os.WriteFile(path, []byte(`{"notify":{"queue_max":-3}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewApp(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecordDeliveriesDrainsOnCancel(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ch := make(chan eventbus.Event, 4)
	ch <- eventbus.Event{Type: eventbus.TopicDelivered, Data: notifier.Outcome{BatchID: "a", OK: true, At: time.Unix(10, 0)}}
	ch <- eventbus.Event{Type: eventbus.TopicFailed, Data: notifier.Outcome{BatchID: "b", Error: "boom", At: time.Unix(20, 0), Titles: []string{"x start", "y stop"}}}
	ch <- eventbus.Event{Type: eventbus.TopicSkipped, Data: notifier.Outcome{BatchID: "c"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recordDeliveries(ctx, ch, st, logx.Nop())

	recs, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || recs[0].BatchID != "b" || recs[1].BatchID != "a" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if recs[0].Titles != "x start, y stop" || recs[0].Error != "boom" {
		t.Fatalf("unexpected record b %+v", recs[0])
	}
}

func eventOf(name, typ string) event.Event { return event.New(name, typ, "", time.Now()) }
