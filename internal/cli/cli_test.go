package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/forwarder/store/memory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "HOOKRELAY_HISTORY_DSN", envName("history-dsn"))
	assert.Equal(t, "HOOKRELAY_CONFIG", envName("config"))
}

func TestBindEnv(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	port := fs.Int("port", 8000, "")
	host := fs.String("host", "0.0.0.0", "")
	require.NoError(t, fs.Parse([]string{"--host", "127.0.0.1"}))

	t.Setenv("HOOKRELAY_PORT", "9100")
	t.Setenv("HOOKRELAY_HOST", "10.0.0.1")
	require.NoError(t, bindEnv(fs))

	assert.Equal(t, 9100, *port)
	assert.Equal(t, "127.0.0.1", *host, "command line wins over the environment")

	t.Setenv("HOOKRELAY_PORT", "nope")
	fs2 := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs2.Int("port", 8000, "")
	assert.Error(t, bindEnv(fs2))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	st, err := openStore("memory", "", 5)
	require.NoError(t, err)
	_, ok := st.(*memory.Store)
	assert.True(t, ok)

	st, err = openStore("sqlite", filepath.Join(t.TempDir(), "h.db"), 5)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = openStore("postgres", "", 5)
	assert.Error(t, err)
	_, err = openStore("cassandra", "", 5)
	assert.Error(t, err)
}

func TestInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "hookrelay.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	assert.FileExists(t, path)

	out, err = run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (0 targets, 1 routes, 2 templates)")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - id: x\n    type: pager\n    url: http://x\n"), 0o600))

	_, err := run(t, "validate", "--config", path)
	assert.Error(t, err)
}

func TestValidateWarnsUnknownTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  /a:\n    target_ids: [ghost]\n"), 0o600))

	out, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `unknown target "ghost"`)
}

func TestTestCommand(t *testing.T) {
	var hits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer down.Close()

	path := filepath.Join(t.TempDir(), "hookrelay.yaml")
	cfg := "targets:\n  - id: ops\n    name: Ops\n    type: custom\n    url: " + down.URL + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	out, err := run(t, "test", "--config", path, "--target", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "delivered"`)
	assert.Equal(t, int32(1), hits.Load())

	_, err = run(t, "test", "--config", path, "--target", "ghost")
	assert.Error(t, err)
}
