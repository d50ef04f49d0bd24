package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"curve-watch/agent/internal/handlers"
	"curve-watch/agent/internal/monitor"
	"curve-watch/shared/config"
	"curve-watch/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("", nil)
	require.NoError(t, err)
	return cfg
}

func TestNewDataSourcesWithoutHelius(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bitquery.APIKey = "key"
	cfg.Helius.RPCURL = ""

	ds, err := newDataSources(cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	assert.NotNil(t, ds.chain)
	assert.NotNil(t, ds.bitquery)
	assert.Nil(t, ds.helius)
}

func TestRouterServesCORSAndHealth(t *testing.T) {
	reg := monitor.NewRegistry(monitor.Options{Logger: logger.NewNop()})
	defer reg.Close()

	r := newRouter(handlers.Deps{Monitor: reg, Logger: logger.NewNop()})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://example.com")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader))
}
