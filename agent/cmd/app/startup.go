package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"curve-watch/shared/logger"

	"go.uber.org/zap"
)

const (
	readinessDelay    = 2 * time.Second
	readinessRetries  = 10
	readinessInterval = 3 * time.Second
	readinessTimeout  = 5 * time.Second
)

// awaitReadiness polls the local health endpoint until it answers, then logs once.
// It never fails the agent; an unhealthy upstream only produces a warning.
func awaitReadiness(ctx context.Context, baseURL string, appLogger *logger.Logger) {
	url := baseURL + "/api/v1/health"
	client := &http.Client{Timeout: readinessTimeout}

	timer := time.NewTimer(readinessDelay)
	defer timer.Stop()

	for attempt := 1; attempt <= readinessRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := checkHealth(ctx, client, url)
		switch {
		case err == nil && status == http.StatusOK:
			appLogger.Info("Startup health check passed", zap.String("url", url), zap.Int("attempt", attempt))
			return
		case err == nil:
			appLogger.Warn("Startup health check: server up but degraded", zap.Int("status", status))
			return
		}
		appLogger.Debug("Startup health check: not ready yet", zap.Int("attempt", attempt), zap.Error(err))
		timer.Reset(readinessInterval)
	}
	appLogger.Error("Server did not become ready", zap.String("url", url), zap.Int("attempts", readinessRetries))
}

func checkHealth(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
