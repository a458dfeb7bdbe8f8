package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// stubProvider fakes a storage backend for health probes.
type stubProvider struct {
	kind    string
	pingErr error
}

var _ storage.Provider = (*stubProvider)(nil)

func (p *stubProvider) Kind() string                             { return p.kind }
func (p *stubProvider) Store(spec *modelspec.Spec) storage.Store { return nil }
func (p *stubProvider) Ping(ctx context.Context) error           { return p.pingErr }
func (p *stubProvider) Close(ctx context.Context) error          { return nil }

func newHealthMux(provider storage.Provider) *http.ServeMux {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	mux := http.NewServeMux()
	NewHealthHandler(provider, cfg, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestHealthAnswersPlainOK(t *testing.T) {
	mux := newHealthMux(&stubProvider{kind: storage.KindRelational})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestPingReportsServiceAndStorage(t *testing.T) {
	mux := newHealthMux(&stubProvider{kind: storage.KindDocument})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp PingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "stratum-engine", resp.Service)
	assert.Equal(t, storage.KindDocument, resp.Storage)
}

func TestPingDegradesWhenStorageIsDown(t *testing.T) {
	mux := newHealthMux(&stubProvider{
		kind:    storage.KindRelational,
		pingErr: errors.New("connection refused"),
	})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp PingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}
