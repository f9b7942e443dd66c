package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": message}})
}

// recordsHandler serves the call-record feed: the list, per-record fetch,
// and outcome counts.
type recordsHandler struct {
	srv *Server
}

func (h recordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/calls")
	rest = strings.Trim(rest, "/")
	switch rest {
	case "":
		h.list(w, r)
	case "stats":
		h.stats(w)
	default:
		h.get(w, rest)
	}
}

func (h recordsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := store.Query{
		CallerNumber: strings.TrimSpace(r.URL.Query().Get("caller")),
		Outcome:      store.Outcome(strings.TrimSpace(r.URL.Query().Get("outcome"))),
	}
	if q.Outcome != "" && !q.Outcome.Valid() {
		writeError(w, http.StatusBadRequest, "unknown outcome filter")
		return
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		q.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}

	recs, err := h.srv.db.QueryCallRecords(q)
	if err != nil {
		h.srv.log.Error().Err(err).Msg("record query failed")
		writeError(w, http.StatusInternalServerError, "record query failed")
		return
	}
	if recs == nil {
		recs = []store.CallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": recs})
}

func (h recordsHandler) get(w http.ResponseWriter, id string) {
	rec, err := h.srv.db.GetCallRecord(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}
	if err != nil {
		h.srv.log.Error().Err(err).Msg("record fetch failed")
		writeError(w, http.StatusInternalServerError, "record fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h recordsHandler) stats(w http.ResponseWriter) {
	counts, err := h.srv.db.CountByOutcome()
	if err != nil {
		h.srv.log.Error().Err(err).Msg("outcome count failed")
		writeError(w, http.StatusInternalServerError, "outcome count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": counts})
}

// liveHandler serves the operator view of in-flight calls.
type liveHandler struct {
	srv *Server
}

func (h liveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	live := h.srv.tracker.Live()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(live), "sessions": live})
}

// healthHandler answers liveness probes.
type healthHandler struct {
	srv *Server
}

func (h healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": h.srv.tracker.Count(),
	})
}
