package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/openbox-deals/admission"
	"github.com/aluiziolira/openbox-deals/models"
	"github.com/aluiziolira/openbox-deals/pipeline"
	"github.com/aluiziolira/openbox-deals/scraper"
)

type stubRunner struct {
	block bool
}

func (r stubRunner) Run(ctx context.Context, src models.Source, q models.Query, out chan<- models.Event) models.SourceState {
	if r.block {
		<-ctx.Done()
		return models.StateCancelled
	}
	select {
	case out <- models.Event{
		Type:     models.EventSourceResult,
		Site:     src.Key,
		SiteName: src.Name,
		Records:  []map[string]any{{"name": q.Text + " refurbished", "sale_price": "$99"}},
		State:    models.StateSucceeded,
	}:
		return models.StateSucceeded
	case <-ctx.Done():
		return models.StateCancelled
	}
}

type fixture struct {
	gate    *admission.Gate
	sup     *pipeline.Supervisor
	handler http.Handler
}

func newFixture(t *testing.T, runner pipeline.SourceRunner, quota int) *fixture {
	t.Helper()
	gate, err := admission.NewGate(admission.Options{
		RequestsPerMinute: quota,
		MaxClients:        100,
		ClientTTL:         2 * time.Minute,
		PurgeInterval:     30 * time.Second,
		StaleSearchAfter:  6 * time.Minute,
	})
	require.NoError(t, err)

	sources := []models.Source{
		{Key: "a", Name: "Shop A", SearchURL: "https://a.example/?q={query}", Goal: "g"},
		{Key: "b", Name: "Shop B", SearchURL: "https://b.example/?q={query}", Goal: "g"},
	}
	metrics := scraper.NewMetrics()
	sup := pipeline.NewSupervisor(gate, runner, sources, pipeline.Options{
		SessionTimeout:    5 * time.Second,
		HeartbeatInterval: time.Second,
		CancelGrace:       time.Second,
		StrictPriceFilter: true,
	}, metrics)
	return &fixture{gate: gate, sup: sup, handler: New(sup, gate, metrics).Handler()}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSites(t *testing.T) {
	f := newFixture(t, stubRunner{}, 9)
	rec := f.do(http.MethodGet, "/api/sites")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"sites":[{"key":"a","name":"Shop A"},{"key":"b","name":"Shop B"}]}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, stubRunner{}, 1)

	rec := f.do(http.MethodGet, "/api/search/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"can_search":true}`, rec.Body.String())
	assert.Zero(t, f.gate.Len(), "status checks must not create admission entries")

	session, err := f.sup.Start("192.0.2.10", "xbox", nil)
	require.NoError(t, err)

	rec = f.do(http.MethodGet, "/api/search/status")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["can_search"])
	assert.Equal(t, "Search already in progress", body["error"])

	session.Close()
	rec = f.do(http.MethodGet, "/api/search/status")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body = decodeBody(t, rec)
	wait, ok := body["wait_seconds"].(float64)
	require.True(t, ok, "rate limited status carries wait_seconds")
	assert.InDelta(t, 60, wait, 1)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLiveRejections(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantError  string
	}{
		{name: "missing query", target: "/api/search/live", wantStatus: http.StatusBadRequest, wantError: "invalid query"},
		{name: "symbols only", target: "/api/search/live?q=%3C%3E", wantStatus: http.StatusBadRequest, wantError: "invalid query"},
		{name: "bad price", target: "/api/search/live?q=xbox&max_price=cheap", wantStatus: http.StatusBadRequest, wantError: "invalid max_price"},
		{name: "price out of range", target: "/api/search/live?q=xbox&max_price=200000", wantStatus: http.StatusBadRequest, wantError: "invalid max_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, stubRunner{}, 9)
			rec := f.do(http.MethodGet, tt.target)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.wantError)
			assert.Zero(t, f.gate.Len())
		})
	}
}

func TestLiveRejectsConcurrentSearch(t *testing.T) {
	f := newFixture(t, stubRunner{}, 9)
	session, err := f.sup.Start("192.0.2.10", "xbox", nil)
	require.NoError(t, err)
	defer session.Close()

	rec := f.do(http.MethodGet, "/api/search/live?q=ps5")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "already_searching", body["reason"])
	assert.Equal(t, "Search already in progress. Please wait for it to complete.", body["error"])
}

func readEvents(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestLiveStreamsSession(t *testing.T) {
	f := newFixture(t, stubRunner{}, 9)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search/live?q=xbox&max_price=150")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)

	var types []string
	results := 0
	for _, ev := range events {
		typ, _ := ev["type"].(string)
		types = append(types, typ)
		if typ == "session_result" {
			results++
			assert.Equal(t, float64(1), ev["count"])
		}
	}
	assert.Equal(t, "search_start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Equal(t, 2, results)

	assert.Eventually(t, func() bool { return !f.gate.Active("127.0.0.1") }, time.Second, 10*time.Millisecond)
}

func TestLiveClientDisconnectReleasesAdmission(t *testing.T) {
	f := newFixture(t, stubRunner{block: true}, 9)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/search/live?q=xbox", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "search_start")
	require.True(t, f.gate.Active("127.0.0.1"))

	cancel()
	assert.Eventually(t, func() bool {
		return f.gate.Peek("127.0.0.1").Verdict == admission.Allowed
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPreflightAndMetrics(t *testing.T) {
	f := newFixture(t, stubRunner{}, 9)

	rec := f.do(http.MethodOptions, "/api/search/live")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openbox_active_sessions")

	rec = f.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientID(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"unix-socket":       "unix-socket",
	}
	for remote, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		assert.Equal(t, want, ClientID(req), remote)
	}
}
