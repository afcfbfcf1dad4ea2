package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"procnotify/internal/event"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"
)

const (
	maxBodyBytes    = 1 << 20
	defaultDelLimit = 50
	maxDelLimit     = 1000
)

// Handler serves the ingest API.
//
// Routes:
//   - POST /events          one Event object or an array of them
//   - GET  /healthz         liveness, never authenticated
//   - GET  /metrics         Prometheus exposition (when a handler is set)
//   - GET  /deliveries      recent delivery records (when storage is enabled)
func Handler(d Deps, token string) http.Handler {
	h := &handler{deps: d, validate: validator.New(), now: time.Now}
	if h.deps.Log.IsZero() {
		h.deps.Log = logx.Nop()
	}

	wrap := func(fn http.HandlerFunc) http.HandlerFunc { return withAuth(token, fn) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/events", wrap(h.events))
	mux.HandleFunc("/deliveries", wrap(h.deliveries))
	if d.Metrics != nil {
		mux.Handle("/metrics", wrap(d.Metrics.ServeHTTP))
	}
	return mux
}

type handler struct {
	deps     Deps
	validate *validator.Validate
	now      func() time.Time
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	evs, err := decodeEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now()
	for i := range evs {
		evs[i].Name = strings.TrimSpace(evs[i].Name)
		evs[i].Event = strings.TrimSpace(evs[i].Event)
		if err := h.validate.Struct(evs[i]); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("event %d: %s", i, describe(err)))
			return
		}
		if evs[i].Timestamp == 0 {
			evs[i].Timestamp = now.Unix()
		}
	}

	// Validate everything first so a bad request submits nothing.
	for _, e := range evs {
		h.deps.Submit.Add(e)
	}
	h.deps.Log.Debug("events accepted", logx.Int("count", len(evs)), logx.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(evs)})
}

// decodeEvents accepts one object or an array of objects. Unknown fields are
// rejected.
func decodeEvents(body []byte) ([]event.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var evs []event.Event
	if trimmed[0] == '[' {
		if err := dec.Decode(&evs); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
	} else {
		var e event.Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		evs = []event.Event{e}
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	if len(evs) == 0 {
		return nil, errors.New("no events")
	}
	return evs, nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (h *handler) deliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Deliveries == nil {
		writeError(w, http.StatusNotFound, storage.ErrDisabled.Error())
		return
	}

	limit := defaultDelLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDelLimit)
	}

	recs, err := h.deps.Deliveries.RecentDeliveries(r.Context(), limit)
	if err != nil {
		h.deps.Log.Warn("delivery log read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "delivery log unavailable")
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
