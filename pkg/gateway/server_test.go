package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-ai/frontdesk/pkg/config"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/session"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

func testServer(t *testing.T) (*Server, *store.DB, *session.Tracker) {
	t.Helper()
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := session.NewTracker()
	srv := New(config.Defaults(), db, tracker, nil, nil)
	t.Cleanup(srv.Close)
	return srv, db, tracker
}

func seedRecords(t *testing.T, db *store.DB) {
	t.Helper()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, rec := range []store.CallRecord{
		{ID: "a", CallerNumber: "+15551230000", Outcome: store.OutcomeBooked, AppointmentRef: "APT-1"},
		{ID: "b", CallerNumber: "+15559990000", Outcome: store.OutcomeInfo},
		{ID: "c", CallerNumber: "+15551230000", Outcome: store.OutcomeMissed},
	} {
		rec.CarrierCallID = "CA-" + rec.ID
		rec.StartedAt = base.Add(time.Duration(i) * time.Hour)
		rec.EndedAt = rec.StartedAt.Add(time.Minute)
		rec.DurationMS = 60_000
		rec.Transcript = []memory.Turn{{Role: memory.RoleCaller, Text: "hi", At: rec.StartedAt}}
		require.NoError(t, db.SaveCallRecord(rec))
	}
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestListCallRecords(t *testing.T) {
	srv, db, _ := testServer(t)
	seedRecords(t, db)

	rr := do(t, srv, http.MethodGet, "/v1/calls")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	calls := body["calls"].([]any)
	require.Len(t, calls, 3)
	newest := calls[0].(map[string]any)
	assert.Equal(t, "c", newest["id"], "newest first")
}

func TestListCallRecordsFilters(t *testing.T) {
	srv, db, _ := testServer(t)
	seedRecords(t, db)

	rr := do(t, srv, http.MethodGet, "/v1/calls?caller=%2B15559990000")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["calls"], 1)

	rr = do(t, srv, http.MethodGet, "/v1/calls?outcome=booked")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["calls"], 1)

	rr = do(t, srv, http.MethodGet, "/v1/calls?outcome=abducted")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodGet, "/v1/calls?from=notatime")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListCallRecordsEmptyIsArray(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := do(t, srv, http.MethodGet, "/v1/calls")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"calls":[]`)
}

func TestGetCallRecord(t *testing.T) {
	srv, db, _ := testServer(t)
	seedRecords(t, db)

	rr := do(t, srv, http.MethodGet, "/v1/calls/a")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "APT-1", decodeBody(t, rr)["appointment_ref"])

	rr = do(t, srv, http.MethodGet, "/v1/calls/zzz")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCallStats(t *testing.T) {
	srv, db, _ := testServer(t)
	seedRecords(t, db)

	rr := do(t, srv, http.MethodGet, "/v1/calls/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	outcomes := decodeBody(t, rr)["outcomes"].(map[string]any)
	assert.EqualValues(t, 1, outcomes["booked"])
	assert.EqualValues(t, 1, outcomes["missed"])
}

func TestRecordsRejectsNonGET(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := do(t, srv, http.MethodPost, "/v1/calls")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestLiveSessions(t *testing.T) {
	srv, _, tracker := testServer(t)

	rr := do(t, srv, http.MethodGet, "/v1/live")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, decodeBody(t, rr)["count"])

	snap := session.Snapshot{ID: "s1", CallID: "CA-1", StartedAt: time.Now().UTC()}
	un := tracker.Register("s1", session.Handle{Snapshot: func() session.Snapshot { return snap }})
	defer un()

	rr = do(t, srv, http.MethodGet, "/v1/live")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.EqualValues(t, 1, body["count"])
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "CA-1", sessions[0].(map[string]any)["call_id"])
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := do(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["active_calls"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "frontdesk_active_calls")
}

func TestRequestIDPropagates(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "req_fixed", rr.Header().Get("X-Request-ID"))

	rr = do(t, srv, http.MethodGet, "/healthz")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"), "missing id gets generated")
}

func TestMediaRejectsPlainGET(t *testing.T) {
	srv, _, _ := testServer(t)
	rr := do(t, srv, http.MethodGet, "/media")
	// No websocket upgrade headers: the upgrader must refuse.
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
