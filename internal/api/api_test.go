package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/logger"
	"mcbegate/internal/reload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *backend.Backend) {
	t.Helper()
	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID:                "default",
		LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{
			{Address: "127.0.0.1:25565"},
		},
	})

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_address = "127.0.0.1:19132"
proxy_bind = "127.0.0.1:0"

[backend]
id = "default"
load_balance_method = "round_robin"

[[backend.servers]]
address = "127.0.0.1:25565"
`), 0o644))

	provider := config.NewProvider(config.Default(), logger.Nop())
	scheduler := backend.NewScheduler(provider, backend.NewHealthController(b, provider, logger.Nop()), backend.NewMOTDCache(b, provider, logger.Nop()), logger.Nop())
	orch := reload.New(path, provider, b, scheduler, logger.Nop())

	return New(b, orch, logger.Nop()), b
}

func decodeResponse(t *testing.T, body []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestServer_GetBackendsListsSingleBackend(t *testing.T) {
	s, b := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/backends", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w.Body.Bytes())
	require.True(t, resp.Success)

	data, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, data, 1)
	entry := data[0].(map[string]interface{})
	require.Equal(t, b.ID(), entry["id"])
	require.Equal(t, float64(1), entry["server_count"])
}

func TestServer_GetBackendServersListsServer(t *testing.T) {
	s, b := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/backends/"+b.ID()+"/servers", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w.Body.Bytes())
	require.True(t, resp.Success)

	data, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, data, 1)
	entry := data[0].(map[string]interface{})
	require.Equal(t, "127.0.0.1:25565", entry["address"])
	require.Equal(t, false, entry["alive"])
}

func TestServer_GetBackendServersUnknownIDReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/backends/nonexistent/servers", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w.Body.Bytes())
	require.False(t, resp.Success)
}

func TestServer_PostReloadAppliesNewConfig(t *testing.T) {
	s, b := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w.Body.Bytes())
	require.True(t, resp.Success)
	require.Len(t, b.Servers(), 1)
}

func TestServer_GetMetricsServesPrometheusFormat(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "mcbegate_server_load_score")
	require.Contains(t, w.Body.String(), "mcbegate_server_alive")
}
