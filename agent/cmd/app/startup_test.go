package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"curve-watch/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	status, err := checkHealth(context.Background(), srv.Client(), srv.URL+"/api/v1/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAwaitReadinessStopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		awaitReadiness(ctx, srv.URL, logger.NewNop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readiness wait ignored cancellation")
	}
	assert.Zero(t, hits.Load())
}

func TestThresholdSetsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	sets, err := thresholdSets(cfg)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "bonding", sets[0].Name)
	assert.Equal(t, []float64{50, 75, 90, 95, 99}, sets[0].Values)

	cfg.Monitor.MarketCapThresholds = []float64{5, 1}
	_, err = thresholdSets(cfg)
	assert.Error(t, err)
}

func TestCurveParamsFromConfig(t *testing.T) {
	p := curveParams(testConfig(t))
	assert.Equal(t, uint64(206_900_000), p.ReservedTokens)
	assert.InDelta(t, 63.0, p.Progress(500_000_000), 0.1)
}
