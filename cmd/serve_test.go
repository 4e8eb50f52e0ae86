package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/attribution"
	"github.com/sells-group/leadsync/internal/intake"
	"github.com/sells-group/leadsync/internal/lock"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
)

const testOrigin = "https://www.example.ac.ke"

type testServer struct {
	handler  http.Handler
	sessions []string
}

func newTestServer(t *testing.T, mod func(*routerDeps)) *testServer {
	t.Helper()

	ts := &testServer{}
	tracker := attribution.NewTracker(attribution.NewMemorySessionStore(time.Hour), lock.NewMemoryLocker(), nil)
	attr := attribution.NewHTTP(tracker, attribution.HTTPOptions{CookieName: "sid", CookieTTL: time.Hour})

	d := routerDeps{
		Intake: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ts.sessions = append(ts.sessions, attribution.SessionID(r.Context()))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message":"ok"}`))
		}),
		Attribution:    attr,
		AllowedOrigins: []string{testOrigin},
		RequestTimeout: 5 * time.Second,
	}
	if mod != nil {
		mod(&d)
	}
	ts.handler = newRouter(d)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v3/push-enhanced-lead", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := ts.do(req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, testOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, ts.sessions, "preflight must not reach the intake handler")
}

func TestCORS_UnknownOrigin(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/leads", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := ts.do(req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestLeadRoutes_ReachIntakeWithSession(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/v3/push-enhanced-lead", "/api/leads"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rr := ts.do(req)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	require.Len(t, ts.sessions, 2)
	for _, id := range ts.sessions {
		assert.NotEmpty(t, id)
	}
}

func TestAttributionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	body := `{"url":"https://www.example.ac.ke/courses?utm_source=google&utm_medium=cpc&utm_campaign=jan-intake","referrer":""}`
	rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/attribution/touch", strings.NewReader(body)))
	require.Equal(t, http.StatusNoContent, rr.Code)

	var sid *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "sid" {
			sid = c
		}
	}
	require.NotNil(t, sid, "session cookie not set")

	req := httptest.NewRequest(http.MethodGet, "/api/attribution", nil)
	req.AddCookie(sid)
	rr = ts.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	var snap model.AttributionSnapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, "google", snap.FirstTouch.Source)
	assert.Equal(t, "cpc", snap.LastTouch.Medium)
	assert.Equal(t, "jan-intake", snap.LastTouch.Campaign)
	assert.Equal(t, "/courses", snap.LandingPage)
}

func TestAttributionTouch_BadBody(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/attribution/touch", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Lead("accepted", 16)

	ts := newTestServer(t, func(d *routerDeps) { d.Metrics = m.Handler() })

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	out, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), "leads_total")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(d *routerDeps) { d.Limiter = intake.NewIPLimiter(1) })

	first := ts.do(httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(`{}`)))
	second := ts.do(httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// The limit applies to lead submissions only.
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/webhook/enrich", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
