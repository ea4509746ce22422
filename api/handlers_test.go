package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/sqlite"
	"github.com/warp/attendance-engine/workflow"
)

// =============================================================================
// FIXTURE
// =============================================================================

const apiDay = "2026-03-02"

// newTestAPI builds a router over a throwaway sqlite store and installs a
// shift for alice via the same HTTP surface clients use.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := attendance.FixedClock{At: time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)}
	h := api.NewHandler(store, store, clock, workflow.NopNotifier{})
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	bs := apiDay + "T13:00:00Z"
	be := apiDay + "T13:30:00Z"
	resp := doJSON(t, srv, http.MethodPut, "/api/shifts", map[string]any{
		"user_id":       "alice",
		"date":          apiDay,
		"planned_start": apiDay + "T09:00:00Z",
		"planned_end":   apiDay + "T18:00:00Z",
		"break_start":   bs,
		"break_end":     be,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func punchBody(kind, at string) map[string]any {
	return map[string]any{
		"user_id": "alice",
		"date":    apiDay,
		"kind":    kind,
		"at":      fmt.Sprintf("%sT%s:00Z", apiDay, at),
		"method":  "badge",
	}
}

type punchResp struct {
	EventID         string `json:"event_id"`
	AdjustedAt      string `json:"adjusted_at"`
	CreatedRequests []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"created_requests"`
	NeedsAttention bool `json:"needs_attention"`
}

type dayViewResp struct {
	Punches []struct {
		Kind       string `json:"kind"`
		AdjustedAt string `json:"adjusted_at"`
	} `json:"punches"`
	NetWorkedMinutes int      `json:"net_worked_minutes"`
	WorkedHours      string   `json:"worked_hours"`
	OpenRequests     []string `json:"open_requests"`
	Complete         bool     `json:"complete"`
}

// =============================================================================
// PUNCH FLOW
// =============================================================================

func TestAPI_PunchAndDayView(t *testing.T) {
	// GIVEN: a shift and the default single-mode rules
	// WHEN:  punching a full day over HTTP
	// THEN:  adjusted times round against the plan and the day view is complete

	srv := newTestAPI(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/punches", punchBody("day_start", "09:07"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[punchResp](t, resp)
	assert.Equal(t, apiDay+"T09:00:00Z", created.AdjustedAt)
	assert.NotEmpty(t, created.EventID)
	assert.False(t, created.NeedsAttention)

	for _, p := range []struct{ kind, at string }{
		{"break_start", "13:04"},
		{"break_end", "13:33"},
		{"day_end", "18:10"},
	} {
		resp := doJSON(t, srv, http.MethodPost, "/api/punches", punchBody(p.kind, p.at))
		require.Equal(t, http.StatusCreated, resp.StatusCode, p.kind)
		resp.Body.Close()
	}

	resp = doJSON(t, srv, http.MethodGet, "/api/attendance/alice/"+apiDay, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[dayViewResp](t, resp)
	assert.True(t, view.Complete)
	assert.Len(t, view.Punches, 4)
	// 09:00-18:00 minus the 30min break
	assert.Equal(t, 510, view.NetWorkedMinutes)
	assert.Equal(t, "8.50", view.WorkedHours)
	assert.Empty(t, view.OpenRequests)

	resp = doJSON(t, srv, http.MethodGet, "/api/attendance/alice/"+apiDay+"/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	audit := decode[[]map[string]any](t, resp)
	assert.NotEmpty(t, audit)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	srv := newTestAPI(t)

	t.Run("duplicate punch is a conflict", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPost, "/api/punches", punchBody("day_start", "09:00"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, srv, http.MethodPost, "/api/punches", punchBody("day_start", "09:01"))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("no shift fact is not found", func(t *testing.T) {
		body := punchBody("day_start", "09:00")
		body["user_id"] = "nobody"
		resp := doJSON(t, srv, http.MethodPost, "/api/punches", body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("bad date is a client error", func(t *testing.T) {
		body := punchBody("day_start", "09:00")
		body["date"] = "02/03/2026"
		resp := doJSON(t, srv, http.MethodPost, "/api/punches", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown request id is not found", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodGet, "/api/requests/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

// =============================================================================
// REQUEST REVIEW FLOW
// =============================================================================

func TestAPI_LateArrivalReviewFlow(t *testing.T) {
	// GIVEN: an entry 20 minutes past the planned start
	// WHEN:  the punch lands, is listed, and an admin approves it
	// THEN:  exactly one late-arrival request moves pending -> approved, and a
	//        second decision loses the race with 409

	srv := newTestAPI(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/punches", punchBody("day_start", "09:20"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[punchResp](t, resp)
	require.Len(t, created.CreatedRequests, 1)
	assert.Equal(t, "late_arrival", created.CreatedRequests[0].Kind)
	assert.True(t, created.NeedsAttention)
	reqID := created.CreatedRequests[0].ID

	resp = doJSON(t, srv, http.MethodGet, "/api/requests/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[[]map[string]any](t, resp)
	require.Len(t, pending, 1)

	t.Run("resolver is mandatory", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPost, "/api/requests/"+reqID+"/approve", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	resp = doJSON(t, srv, http.MethodPost, "/api/requests/"+reqID+"/approve",
		map[string]any{"resolver_id": "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[map[string]any](t, resp)
	assert.Equal(t, "approved", resolved["status"])
	assert.Equal(t, "admin-1", resolved["resolved_by"])

	t.Run("second decision loses the race", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPost, "/api/requests/"+reqID+"/reject",
			map[string]any{"resolver_id": "admin-2", "reason": "changed my mind"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})
}

// =============================================================================
// RULE CONFIGURATION
// =============================================================================

func TestAPI_RuleRoundTrip(t *testing.T) {
	srv := newTestAPI(t)

	resp := doJSON(t, srv, http.MethodGet, "/api/rules/warehouse", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no row stored yet")
	resp.Body.Close()

	t.Run("body group must match the url", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPut, "/api/rules/warehouse",
			map[string]any{"group": "production", "block_minutes": 30})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("invalid document rejected", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPut, "/api/rules/warehouse",
			map[string]any{"rounding_mode": "hourly"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	resp = doJSON(t, srv, http.MethodPut, "/api/rules/warehouse", map[string]any{
		"rounding_mode": "daily",
		"block_minutes": 30,
		"round_type":    "floor",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/api/rules/warehouse", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rule := decode[map[string]any](t, resp)
	assert.Equal(t, "warehouse", rule["group"])
	assert.Equal(t, "daily", rule["rounding_mode"])
	assert.Equal(t, float64(30), rule["block_minutes"])
}

// =============================================================================
// PAYROLL SURFACE
// =============================================================================

func TestAPI_PayrollQueueAndSweep(t *testing.T) {
	// GIVEN: a completed day
	// WHEN:  listing the payroll queue
	// THEN:  the day sits queued; the sweep endpoint reports the worker off

	srv := newTestAPI(t)

	for _, p := range []struct{ kind, at string }{
		{"day_start", "09:00"},
		{"day_end", "18:00"},
	} {
		resp := doJSON(t, srv, http.MethodPost, "/api/punches", punchBody(p.kind, p.at))
		require.Equal(t, http.StatusCreated, resp.StatusCode, p.kind)
		resp.Body.Close()
	}

	resp := doJSON(t, srv, http.MethodGet, "/api/payroll/queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decode[[]map[string]any](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "queued", records[0]["status"])
	assert.Equal(t, "alice", records[0]["user_id"])

	resp = doJSON(t, srv, http.MethodPost, "/api/payroll/sweep", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no worker attached in tests")
	resp.Body.Close()
}
