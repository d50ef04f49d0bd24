package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/monitor"
	"curve-watch/shared/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultAlertLimit = 20
	healthTimeout     = 5 * time.Second
)

// Monitor is the part of the subscription registry the API exposes.
type Monitor interface {
	Subscribe(user models.UserID, token models.TokenID) (bool, error)
	Unsubscribe(user models.UserID, token models.TokenID) bool
	ListSubscriptions(user models.UserID) []models.TokenID
	Monitored() []models.TokenID
	SubscriberCount(token models.TokenID) int
	FiredAlerts(user models.UserID, token models.TokenID) []string
	Status(ctx context.Context, token models.TokenID) (models.TokenMetrics, error)
	ListTrending(ctx context.Context, minPct, maxPct float64, limit int) ([]models.TokenSummary, error)
	ListGraduating(ctx context.Context, minPct float64, limit int) ([]models.TokenSummary, error)
}

// AlertHistory reads persisted alerts. Nil when no database is configured.
type AlertHistory interface {
	RecentAlerts(ctx context.Context, token models.TokenID, limit int) ([]models.AlertRecord, error)
}

// HealthChecker is an upstream dependency checked by /health.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) error
}

type Deps struct {
	Monitor       Monitor
	Alerts        AlertHistory
	Checks        []HealthChecker
	Metrics       http.Handler
	Logger        *logger.Logger
	ListLimit     int
	TrendingMin   float64
	TrendingMax   float64
	GraduatingMin float64
}

type api struct {
	Deps
}

func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.ListLimit <= 0 {
		deps.ListLimit = monitor.DefaultListLimit
	}
	if deps.TrendingMin == 0 && deps.TrendingMax == 0 {
		deps.TrendingMin, deps.TrendingMax = monitor.DefaultTrendingMin, monitor.DefaultTrendingMax
	}
	if deps.GraduatingMin <= 0 {
		deps.GraduatingMin = monitor.GraduatingThreshold
	}
	a := &api{Deps: deps}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "API is running. Monitor active!"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	apiGroup := router.Group("/api/v1")
	{
		apiGroup.GET("/health", a.health)
		apiGroup.GET("/tokens/:address/status", a.tokenStatus)
		apiGroup.GET("/tokens/:address/alerts", a.tokenAlerts)
		apiGroup.GET("/users/:userId/subscriptions", a.listSubscriptions)
		apiGroup.POST("/users/:userId/subscriptions/:address", a.subscribe)
		apiGroup.DELETE("/users/:userId/subscriptions/:address", a.unsubscribe)
		apiGroup.GET("/trending", a.trending)
		apiGroup.GET("/graduating", a.graduating)
	}
	deps.Logger.Info("API routes registered under /api/v1")
}

func (a *api) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for _, chk := range a.Checks {
		if err := chk.Health(ctx); err != nil {
			a.Logger.Warn("Health check failed", zap.String("check", chk.Name()), zap.Error(err), requestIDField(c))
			checks[chk.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[chk.Name()] = "ok"
	}

	body := gin.H{
		"status":    "ok",
		"monitored": len(a.Monitor.Monitored()),
		"checks":    checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

func (a *api) tokenStatus(c *gin.Context) {
	token, ok := tokenParam(c)
	if !ok {
		return
	}
	m, err := a.Monitor.Status(c.Request.Context(), token)
	switch {
	case errors.Is(err, models.ErrNoData):
		respondError(c, http.StatusNotFound, "no data for token")
		return
	case err != nil:
		a.Logger.Error("Status lookup failed", zap.String("tokenAddress", token.String()), zap.Error(err), requestIDField(c))
		respondError(c, http.StatusBadGateway, "upstream data provider failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metrics":     m,
		"subscribers": a.Monitor.SubscriberCount(token),
	})
}

func (a *api) tokenAlerts(c *gin.Context) {
	token, ok := tokenParam(c)
	if !ok {
		return
	}
	if a.Alerts == nil {
		respondError(c, http.StatusServiceUnavailable, "alert history is disabled")
		return
	}
	limit, ok := intQuery(c, "limit", defaultAlertLimit)
	if !ok {
		return
	}
	recs, err := a.Alerts.RecentAlerts(c.Request.Context(), token, limit)
	if err != nil {
		a.Logger.Error("Alert history lookup failed", zap.String("tokenAddress", token.String()), zap.Error(err), requestIDField(c))
		respondError(c, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	if recs == nil {
		recs = []models.AlertRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "alerts": recs})
}

type subscriptionView struct {
	Token       models.TokenID `json:"token"`
	FiredAlerts []string       `json:"firedAlerts"`
}

func (a *api) listSubscriptions(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	tokens := a.Monitor.ListSubscriptions(user)
	out := make([]subscriptionView, 0, len(tokens))
	for _, t := range tokens {
		fired := a.Monitor.FiredAlerts(user, t)
		if fired == nil {
			fired = []string{}
		}
		out = append(out, subscriptionView{Token: t, FiredAlerts: fired})
	}
	c.JSON(http.StatusOK, gin.H{"userId": user, "subscriptions": out})
}

func (a *api) subscribe(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	token, ok := tokenParam(c)
	if !ok {
		return
	}
	added, err := a.Monitor.Subscribe(user, token)
	if errors.Is(err, monitor.ErrClosed) {
		respondError(c, http.StatusServiceUnavailable, "monitor is shutting down")
		return
	}
	if err != nil {
		a.Logger.Error("Subscribe failed", zap.Error(err), requestIDField(c))
		respondError(c, http.StatusInternalServerError, "subscribe failed")
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"userId": user, "token": token, "created": added})
}

func (a *api) unsubscribe(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	token, ok := tokenParam(c)
	if !ok {
		return
	}
	if !a.Monitor.Unsubscribe(user, token) {
		respondError(c, http.StatusNotFound, "subscription not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) trending(c *gin.Context) {
	minPct, ok := floatQuery(c, "min", a.TrendingMin)
	if !ok {
		return
	}
	maxPct, ok := floatQuery(c, "max", a.TrendingMax)
	if !ok {
		return
	}
	if minPct > maxPct {
		respondError(c, http.StatusBadRequest, "min must not exceed max")
		return
	}
	limit, ok := intQuery(c, "limit", a.ListLimit)
	if !ok {
		return
	}
	items, err := a.Monitor.ListTrending(c.Request.Context(), minPct, maxPct, limit)
	a.respondSummaries(c, items, err)
}

func (a *api) graduating(c *gin.Context) {
	minPct, ok := floatQuery(c, "min", a.GraduatingMin)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", a.ListLimit)
	if !ok {
		return
	}
	items, err := a.Monitor.ListGraduating(c.Request.Context(), minPct, limit)
	a.respondSummaries(c, items, err)
}

func (a *api) respondSummaries(c *gin.Context, items []models.TokenSummary, err error) {
	if errors.Is(err, monitor.ErrInvalidRange) {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.Logger.Error("Token listing failed", zap.Error(err), requestIDField(c))
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	if items == nil {
		items = []models.TokenSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": items})
}

func tokenParam(c *gin.Context) (models.TokenID, bool) {
	token, err := models.ParseTokenID(c.Param("address"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return token, true
}

func userParam(c *gin.Context) (models.UserID, bool) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "userId must be a non-zero integer")
		return 0, false
	}
	return models.UserID(id), true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		respondError(c, http.StatusBadRequest, key+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func floatQuery(c *gin.Context, key string, def float64) (float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
		respondError(c, http.StatusBadRequest, key+" must be a percentage in [0,100]")
		return 0, false
	}
	return v, true
}
