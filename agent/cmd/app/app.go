package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curve-watch/agent/database"
	"curve-watch/agent/internal/alerts"
	"curve-watch/agent/internal/bot"
	"curve-watch/agent/internal/curve"
	"curve-watch/agent/internal/handlers"
	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/monitor"
	"curve-watch/agent/internal/observability"
	"curve-watch/agent/internal/services"
	"curve-watch/shared/config"
	"curve-watch/shared/env"
	"curve-watch/shared/logger"
	"curve-watch/shared/notifications"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	solPriceTTL     = time.Minute
	shutdownTimeout = 10 * time.Second
	heartbeatEvery  = 8 * time.Minute
)

func loadSettings(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	env.LoadEnv(envFile)

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgFile, nil)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	appLogger, err := logger.NewLogger(logger.Config{Level: cfg.Logging.Level, Environment: cfg.App.Environment})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, appLogger, nil
}

func curveParams(cfg *config.Config) curve.Params {
	return curve.Params{
		TotalSupply:         cfg.Curve.TotalSupply,
		ReservedTokens:      cfg.Curve.ReservedTokens,
		InitialRealReserves: cfg.Curve.InitialRealReserves,
	}
}

func thresholdSets(cfg *config.Config) ([]alerts.ThresholdSet, error) {
	sets := []alerts.ThresholdSet{
		{Name: "bonding", Metric: alerts.MetricBondingProgress, Values: cfg.Monitor.BondingThresholds},
		{Name: "mcap", Metric: alerts.MetricMarketCap, Values: cfg.Monitor.MarketCapThresholds},
	}
	for _, s := range sets {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

// dataSources wires the upstream clients: Bitquery first, DexScreener and Helius as fallbacks.
type dataSources struct {
	chain    *services.ProviderChain
	bitquery *services.BitqueryClient
	helius   *services.HeliusService
}

func newDataSources(cfg *config.Config, appLogger *logger.Logger, metrics *observability.Metrics) (*dataSources, error) {
	bq := services.NewBitqueryClient(services.BitqueryOptions{
		Endpoint:       cfg.Bitquery.Endpoint,
		APIKey:         cfg.Bitquery.APIKey,
		ProgramAddress: cfg.Curve.ProgramAddress,
		RequestsPerSec: cfg.Bitquery.RequestsPerSecond,
		Burst:          cfg.Bitquery.Burst,
		Logger:         appLogger.Named("bitquery"),
	})

	prices := []services.PriceSource{bq}
	reserves := []services.ReserveSource{bq}

	if cfg.DexScreener.Enabled {
		prices = append(prices, services.NewDexScreenerClient(cfg.DexScreener.BaseURL, appLogger.Named("dexscreener")))
	}

	ds := &dataSources{bitquery: bq}
	if cfg.Helius.RPCURL != "" {
		solPrice := services.NewSolPriceFeed(solPriceTTL, appLogger.Named("solprice"))
		hs, err := services.NewHeliusService(cfg.Helius.RPCURL, cfg.Curve.ProgramAddress, solPrice, appLogger.Named("helius"))
		if err != nil {
			return nil, fmt.Errorf("init helius: %w", err)
		}
		reserves = append(reserves, hs)
		ds.helius = hs
	} else {
		appLogger.Warn("HELIUS_RPC_URL not set, on-chain reserve fallback disabled.")
	}

	ds.chain = services.NewProviderChain(prices, reserves, appLogger.Named("provider"), metrics)
	return ds, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, appLogger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		appLogger.Error("Invalid configuration", zap.Error(err))
		return err
	}
	sets, err := thresholdSets(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("")
	sources, err := newDataSources(cfg, appLogger, metrics)
	if err != nil {
		return err
	}

	var db *gorm.DB
	var store *database.AlertStore
	if cfg.Database.URL != "" {
		appLogger.Info("Running database migrations...")
		if err := database.MigrateDatabase(cfg.Database.URL, appLogger); err != nil {
			appLogger.Error("Database migration failed", zap.Error(err))
			return err
		}
		if db, err = database.ConnectToDatabase(cfg.Database.URL, appLogger); err != nil {
			return err
		}
		defer database.Close(db)
		store = database.NewAlertStore(db)
	} else {
		appLogger.Warn("DATABASE_URL not set, alert history disabled.")
	}

	tg, err := telego.NewBot(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}
	notifier := notifications.NewTelegramNotifier(tg, notifications.Options{
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		Burst:             cfg.Telegram.Burst,
		OpsChatID:         cfg.Telegram.OpsChatID,
		Logger:            appLogger.Named("telegram"),
	})
	if sink := notifier.OpsSink(); sink != nil {
		appLogger.SetAlertSink(sink)
		appLogger.Info("Forwarding warnings and errors to the ops chat.")
	}

	dispatcherOpts := alerts.DispatcherOptions{
		Notifier: notifier,
		Logger:   appLogger.Named("alerts"),
		Metrics:  metrics,
	}
	if store != nil {
		dispatcherOpts.Recorder = store
	}

	registry := monitor.NewRegistry(monitor.Options{
		Provider:     sources.chain,
		Discovery:    sources.bitquery,
		Dispatcher:   alerts.NewDispatcher(dispatcherOpts),
		Curve:        curveParams(cfg),
		Thresholds:   sets,
		PollInterval: cfg.Monitor.PollInterval,
		ErrorBackoff: cfg.Monitor.ErrorBackoff,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		Logger:       appLogger.Named("monitor"),
		Metrics:      metrics,
	})
	defer registry.Close()

	commands := bot.New(bot.Options{
		Monitor:       registry,
		Replier:       notifier,
		Logger:        appLogger.Named("bot"),
		ListLimit:     cfg.Monitor.ListLimit,
		GraduatingMin: cfg.Monitor.GraduatingMin,
	})

	deps := handlers.Deps{
		Monitor:       registry,
		Metrics:       metrics.Handler(),
		Logger:        appLogger.Named("http"),
		ListLimit:     cfg.Monitor.ListLimit,
		GraduatingMin: cfg.Monitor.GraduatingMin,
	}
	if store != nil {
		deps.Alerts = store
	}
	if sources.helius != nil {
		deps.Checks = append(deps.Checks, sources.helius)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return commands.Listen(gctx, tg)
	})
	g.Go(func() error {
		return runHTTPServer(gctx, ":"+cfg.App.Port, newRouter(deps), appLogger)
	})
	g.Go(func() error {
		heartbeat(gctx, registry, appLogger)
		return nil
	})
	g.Go(func() error {
		awaitReadiness(gctx, "http://127.0.0.1:"+cfg.App.Port, appLogger)
		return nil
	})

	appLogger.Info("Application startup complete. Waiting for events...")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Agent stopped with error", zap.Error(err))
		return err
	}
	appLogger.Info("Shutting down.")
	return nil
}

func newRouter(deps handlers.Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(deps.Logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", handlers.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{handlers.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	handlers.RegisterRoutes(router, deps)
	return router
}

func runHTTPServer(ctx context.Context, addr string, handler http.Handler, appLogger *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting web server", zap.String("address", addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func heartbeat(ctx context.Context, registry *monitor.Registry, appLogger *logger.Logger) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			appLogger.Info("Heartbeat: Program running...", zap.Int("monitoredTokens", len(registry.Monitored())))
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, appLogger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	token, err := models.ParseTokenID(args[0])
	if err != nil {
		return err
	}
	if cfg.Bitquery.APIKey == "" {
		return errors.New("BITQUERY_API_KEY is required")
	}
	if err := cfg.ValidateMonitor(); err != nil {
		return err
	}

	sources, err := newDataSources(cfg, appLogger, nil)
	if err != nil {
		return err
	}
	registry := monitor.NewRegistry(monitor.Options{
		Provider:     sources.chain,
		Curve:        curveParams(cfg),
		FetchTimeout: cfg.Monitor.FetchTimeout,
		Logger:       appLogger,
	})
	defer registry.Close()

	m, err := registry.Status(cmd.Context(), token)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
