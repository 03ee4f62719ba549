package forwarder_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/store/memory"
)

func ctx() context.Context { return context.Background() }

func writeConfig(t *testing.T, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookrelay.yaml")
	cfg := `
targets:
  - id: ops
    name: Ops
    type: custom
    url: ` + url + `
routes:
  /alerts:
    target_ids: [ops]
    event_type: alert
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestNewRequiresStore(t *testing.T) {
	_, err := forwarder.New(forwarder.WithRegistry(registry.New(nil)))
	assert.ErrorIs(t, err, forwarder.ErrNoStore)
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := forwarder.New(forwarder.WithStore(memory.New(0)))
	assert.ErrorIs(t, err, forwarder.ErrNoRegistry)
}

func TestNewInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets: 3\n"), 0o600))

	_, err := forwarder.New(forwarder.WithStore(memory.New(0)), forwarder.WithConfigFile(path, false))
	assert.ErrorIs(t, err, registry.ErrInvalidConfig)
}

func TestReloadWithoutConfigFile(t *testing.T) {
	f, err := forwarder.New(forwarder.WithStore(memory.New(0)), forwarder.WithRegistry(registry.New(nil)))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Reload(), forwarder.ErrNoConfigFile)
}

func TestEndToEnd(t *testing.T) {
	var hits atomic.Int32
	var lastBody atomic.Value
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastBody.Store(body)
		hits.Add(1)
	}))
	defer down.Close()

	hist := memory.New(10)
	promReg := prometheus.NewRegistry()
	f, err := forwarder.New(
		forwarder.WithStore(hist),
		forwarder.WithConfigFile(writeConfig(t, down.URL), false),
		forwarder.WithMetrics(promReg),
		forwarder.WithTracing(),
		forwarder.WithRequestTimeout(time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, f.Start(ctx()))

	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/alerts", "application/json", strings.NewReader(`{"msg":"disk full"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.Stop(ctx()))

	assert.Equal(t, int32(1), hits.Load())
	body, _ := lastBody.Load().(map[string]any)
	assert.Equal(t, "alert", body["event_type"])
	assert.Equal(t, "disk full", body["msg"])

	assert.Equal(t, 1, hist.Len())

	families, err := promReg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["hookrelay_dispatches_total"])
	assert.True(t, names["hookrelay_deliveries_total"])
}

func TestReloadPublishesNewSnapshot(t *testing.T) {
	path := writeConfig(t, "http://example.invalid/hook")
	f, err := forwarder.New(forwarder.WithStore(memory.New(0)), forwarder.WithConfigFile(path, false))
	require.NoError(t, err)
	require.Len(t, f.Registry().Snapshot().Routes(), 1)

	doc, err := registry.Load(path)
	require.NoError(t, err)
	doc.Routes["/more"] = doc.Routes["/alerts"]
	require.NoError(t, registry.Save(path, doc))

	require.NoError(t, f.Reload())
	assert.Len(t, f.Registry().Snapshot().Routes(), 2)
}

type brokenStore struct{ *memory.Store }

func (brokenStore) Migrate(context.Context) error { return errors.New("no tables") }

func TestStartMigrationFailure(t *testing.T) {
	f, err := forwarder.New(
		forwarder.WithStore(brokenStore{memory.New(0)}),
		forwarder.WithRegistry(registry.New(nil)),
	)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Start(ctx()), forwarder.ErrMigrationFailed)
}
