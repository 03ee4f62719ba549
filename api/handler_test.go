package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/forwarder/api"
	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/store/memory"
	"github.com/xraph/forwarder/target"
)

// sink is a downstream target that records every body it receives.
type sink struct {
	mu     sync.Mutex
	bodies []map[string]any
	srv    *httptest.Server
}

func newSink(t *testing.T) *sink {
	t.Helper()
	s := &sink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sink) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.bodies...)
}

type env struct {
	srv  *httptest.Server
	hist *memory.Store
	sink *sink
}

func newEnv(t *testing.T, opts ...api.HandlerOption) *env {
	t.Helper()
	down := newSink(t)

	snap, err := registry.NewSnapshot(&registry.Document{
		Targets: []*target.Target{{
			ID:      "hook",
			Name:    "Hook",
			Type:    target.TypeCustom,
			URL:     down.srv.URL,
			Enabled: true,
			Secret:  "s3cret",
		}},
		Routes: map[string]*route.Route{
			"/webhook": {TargetIDs: []string{"hook"}},
			"/guarded": {
				TargetIDs: []string{"hook"},
				Methods:   []string{"POST", "PUT"},
				Headers:   map[string]string{"X-Token": "abc"},
			},
		},
	})
	require.NoError(t, err)

	reg := registry.New(snap)
	hist := memory.New(10)
	cfg := dispatch.DefaultConfig()
	cfg.Async = false
	d := dispatch.New(reg, hist, cfg, nil)

	srv := httptest.NewServer(api.NewHandler(reg, d, hist, nil, opts...))
	t.Cleanup(srv.Close)
	return &env{srv: srv, hist: hist, sink: down}
}

func do(t *testing.T, method, url, contentType, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func historyLen(t *testing.T, e *env) int {
	t.Helper()
	records, err := e.hist.List(context.Background(), 0)
	require.NoError(t, err)
	return len(records)
}

func TestIngressAccepted(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "POST", e.srv.URL+"/webhook", "application/json", `{"event_type":"trade","symbol":"BTC"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "accepted", body["status"])
	assert.True(t, strings.HasPrefix(body["record_id"], "disp_"))

	got := e.sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "trade", got[0]["event_type"])
	assert.Equal(t, 1, historyLen(t, e))
}

func TestIngressUnknownPath(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "POST", e.srv.URL+"/nope", "application/json", `{"a":1}`)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, historyLen(t, e))
	assert.Empty(t, e.sink.received())
}

func TestIngressMethodNotAllowed(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "GET", e.srv.URL+"/guarded", "", "")
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, PUT", resp.Header.Get("Allow"))
	assert.Equal(t, 0, historyLen(t, e))
}

func TestIngressPredicateMismatch(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "POST", e.srv.URL+"/guarded", "application/json", `{}`, "X-Token", "wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, "PUT", e.srv.URL+"/guarded", "application/json", `{}`, "X-Token", "abc")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngressInvalidJSON(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "POST", e.srv.URL+"/webhook", "application/json", `{"a":`)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, historyLen(t, e))
}

func TestIngressBodyDecoding(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        any
	}{
		{"form", "application/x-www-form-urlencoded", "symbol=ETH&side=buy", map[string]any{"symbol": "ETH", "side": "buy"}},
		{"text", "text/plain; charset=utf-8", "hello", map[string]any{"text": "hello"}},
		{"sniffed json", "", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"sniffed text", "application/octet-stream", "not json", map[string]any{"text": "not json"}},
		{"empty", "application/json", "", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			resp := do(t, "POST", e.srv.URL+"/webhook", tt.contentType, tt.body)
			resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			records, err := e.hist.List(context.Background(), 1)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].RawPayload)
		})
	}
}

func TestAdminHistory(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		resp := do(t, "POST", e.srv.URL+"/webhook", "application/json", `{}`)
		resp.Body.Close()
	}

	resp := do(t, "GET", e.srv.URL+"/_hookrelay/history?limit=2", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		History []map[string]any `json:"history"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.History, 2)
	assert.Equal(t, "/webhook", body.History[0]["route_path"])
	outcomes, _ := body.History[0]["outcomes"].([]any)
	require.Len(t, outcomes, 1)
}

func TestAdminHistoryLimits(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 12; i++ {
		resp := do(t, "POST", e.srv.URL+"/webhook", "application/json", `{}`)
		resp.Body.Close()
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?limit=0", 0},
		{"", 10},
		{"?limit=-1", 10},
		{"?limit=abc", 10},
		{"?limit=3", 3},
		{"?limit=50", 10},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := do(t, "GET", e.srv.URL+"/_hookrelay/history"+tt.query, "", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body struct {
				History []map[string]any `json:"history"`
			}
			decodeBody(t, resp, &body)
			require.NotNil(t, body.History)
			assert.Len(t, body.History, tt.want)
		})
	}
}

func TestAdminTest(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "POST", e.srv.URL+"/_hookrelay/test?target_id=hook", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "success", body["status"])
	require.Len(t, e.sink.received(), 1)
	assert.Equal(t, "test", e.sink.received()[0]["event_type"])

	resp = do(t, "POST", e.srv.URL+"/_hookrelay/test?target_id=ghost", "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "POST", e.srv.URL+"/_hookrelay/test?route_path=/ghost", "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminListings(t *testing.T) {
	e := newEnv(t)

	resp := do(t, "GET", e.srv.URL+"/_hookrelay/targets", "", "")
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"id":"hook"`)
	assert.NotContains(t, string(raw), "s3cret")

	resp = do(t, "GET", e.srv.URL+"/_hookrelay/routes", "", "")
	var routes struct {
		Routes []map[string]any `json:"routes"`
	}
	decodeBody(t, resp, &routes)
	require.Len(t, routes.Routes, 2)
	assert.Equal(t, "/guarded", routes.Routes[0]["path"])
	assert.Equal(t, "/webhook", routes.Routes[1]["path"])
}

func TestAdminHealthz(t *testing.T) {
	e := newEnv(t)
	resp := do(t, "GET", e.srv.URL+"/_hookrelay/healthz", "", "")
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["targets"])

	down := newEnv(t, api.WithHealthCheck(func(context.Context) error { return errors.New("store down") }))
	resp = do(t, "GET", down.srv.URL+"/_hookrelay/healthz", "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.Copy(w, bytes.NewBufferString("# metrics\n"))
	})
	e := newEnv(t, api.WithMetricsHandler(metrics))

	resp := do(t, "GET", e.srv.URL+"/metrics", "", "")
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# metrics\n", string(raw))
}
