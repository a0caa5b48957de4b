// Package metricstore keeps the most recent client-reported metrics record.
//
// Browsers aggregate end-to-end latency and bandwidth numbers locally and
// push one JSON blob at the end of a benchmark run; the server only needs to
// hand the latest blob back, so the store is a single in-memory slot rather
// than a time series.
package metricstore

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/faris-sait/webrtc-vision/internal/httpserver"
)

// Store holds the latest metrics record. Records are opaque: whatever valid
// JSON object the client posts is returned as-is.
type Store struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	latest  json.RawMessage
	savedAt time.Time
}

func New(logger *slog.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{log: logger, now: now}
}

// Save replaces the stored record and returns the save timestamp.
func (s *Store) Save(record json.RawMessage) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = record
	s.savedAt = s.now()
	return s.savedAt
}

// Latest returns the stored record, or ok=false when nothing has been saved.
func (s *Store) Latest() (json.RawMessage, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, time.Time{}, false
	}
	return s.latest, s.savedAt, true
}

func (s *Store) RegisterRoutes(mux *http.ServeMux, guard func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/metrics", guard(s.handleSave))
	mux.HandleFunc("GET /api/metrics/latest", guard(s.handleLatest))
}

func (s *Store) handleSave(w http.ResponseWriter, r *http.Request) {
	var record map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&record); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_json", "metrics record must be a JSON object")
		return
	}

	raw, err := json.Marshal(record)
	if err != nil {
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "encode_failed", "internal error")
		return
	}
	savedAt := s.Save(raw)
	s.log.Info("metrics record saved", "bytes", len(raw))

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "saved",
		"timestamp": float64(savedAt.UnixNano()) / float64(time.Second),
	})
}

func (s *Store) handleLatest(w http.ResponseWriter, r *http.Request) {
	record, _, ok := s.Latest()
	if !ok {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"message": "No metrics available"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(record)
}
