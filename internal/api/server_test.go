package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/persistence"
)

func newServer(t *testing.T, rounds uint64) *Server {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"ECON_SEED":       "11",
		"ECON_NUM_BANKS":  "2",
		"ECON_NUM_FIRMS":  "3",
		"ECON_POPULATION": "30",
	})
	require.NoError(t, err)
	sim, err := engine.New(cfg)
	require.NoError(t, err)
	for r := range rounds {
		require.NoError(t, sim.Step(r))
	}
	return &Server{Sim: sim, Eng: engine.NewEngine(), AdminKey: "k"}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	s := newServer(t, 2)
	rec := get(t, s.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, s.Sim.RunID.String(), body["run"])
	assert.EqualValues(t, 1, body["round"])
	assert.Contains(t, body, "report")
}

func TestStatusBeforeFirstRound(t *testing.T) {
	s := newServer(t, 0)
	rec := get(t, s.Handler(), "/api/v1/status")
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "round")
}

func TestBanksAndFirms(t *testing.T) {
	s := newServer(t, 1)
	h := s.Handler()

	var banks []map[string]any
	require.NoError(t, json.Unmarshal(get(t, h, "/api/v1/banks").Body.Bytes(), &banks))
	require.Len(t, banks, 2)
	assert.Equal(t, "bank0", banks[0]["id"])

	var firms []map[string]any
	require.NoError(t, json.Unmarshal(get(t, h, "/api/v1/firms").Body.Bytes(), &firms))
	require.Len(t, firms, 3)
	assert.Equal(t, "firm2", firms[2]["id"])
}

func TestAgentStatement(t *testing.T) {
	s := newServer(t, 1)
	h := s.Handler()

	rec := get(t, h, "/api/v1/agent/firm1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "firm1"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/agent/bank9").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/agent/mayor").Code)
}

func TestEventsFilter(t *testing.T) {
	s := newServer(t, 1)
	rec := get(t, s.Handler(), "/api/v1/events?category=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAudit(t *testing.T) {
	s := newServer(t, 1)
	rec := get(t, s.Handler(), "/api/v1/audit")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["round"])
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s := newServer(t, 0)
	h := s.Handler()

	post := func(auth, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(body))
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("", `{"speed":5}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post("wrong", `{"speed":5}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("k", `{"speed":5000}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("k", `not json`).Code)

	rec := post("k", `{"speed":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 5, s.Eng.Speed(), 1e-9)

	rec = get(t, h, "/api/v1/speed")
	assert.JSONEq(t, `{"speed":5}`, rec.Body.String())

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post("k", `{"speed":1}`).Code)
}

func TestSeries(t *testing.T) {
	s := newServer(t, 0)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/series?agent=people&variable=money").Code)

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s.DB = db
	for r := range uint64(2) {
		require.NoError(t, s.Sim.Step(r))
		require.NoError(t, db.SaveRound(s.Sim))
	}
	h := s.Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/series?agent=people").Code)

	var pts []persistence.Point
	rec := get(t, h, "/api/v1/series?agent=firm0&variable=price")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pts))
	assert.Len(t, pts, 2)

	rec = get(t, h, "/api/v1/series?agent=firm0&variable=nothing")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCORS(t *testing.T) {
	s := newServer(t, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))

	now = now.Add(5 * time.Minute)
	rl.cleanup()
	assert.Zero(t, rl.RetryAfter("b"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A forwarded client is counted on its own.
	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(req))
	req.RemoteAddr = "noport"
	assert.Equal(t, "noport", clientIP(req))
}
