package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"curve-watch/shared/logger"

	"go.uber.org/zap"
)

const (
	coinGeckoSOLURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	binanceSOLURL   = "https://api.binance.com/api/v3/ticker/price?symbol=SOLUSDT"
)

// SolPriceFeed caches SOL/USD from CoinGecko, falling back to Binance.
type SolPriceFeed struct {
	coinGeckoURL string
	binanceURL   string
	ttl          time.Duration
	client       *http.Client
	appLogger    *logger.Logger

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

func NewSolPriceFeed(ttl time.Duration, appLogger *logger.Logger) *SolPriceFeed {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &SolPriceFeed{
		coinGeckoURL: coinGeckoSOLURL,
		binanceURL:   binanceSOLURL,
		ttl:          ttl,
		client:       &http.Client{Timeout: 5 * time.Second},
		appLogger:    appLogger,
	}
}

// Price returns the cached price while fresh. A stale cached price is served if both upstreams fail.
func (f *SolPriceFeed) Price(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.price > 0 && time.Since(f.fetchedAt) < f.ttl {
		return f.price, nil
	}

	price, err := f.fetchFromCoinGecko(ctx)
	if err != nil {
		f.appLogger.Warn("CoinGecko SOL price failed, switching to Binance", zap.Error(err))
		price, err = f.fetchFromBinance(ctx)
	}
	if err != nil {
		if f.price > 0 {
			f.appLogger.Warn("Serving stale SOL price", zap.Float64("price", f.price), zap.Time("fetchedAt", f.fetchedAt), zap.Error(err))
			return f.price, nil
		}
		return 0, fmt.Errorf("fetch SOL price: %w", err)
	}

	f.price = price
	f.fetchedAt = time.Now()
	f.appLogger.Debug("Fetched SOL price", zap.Float64("price", price))
	return price, nil
}

func (f *SolPriceFeed) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host)
	}
	return io.ReadAll(resp.Body)
}

func (f *SolPriceFeed) fetchFromCoinGecko(ctx context.Context) (float64, error) {
	body, err := f.get(ctx, f.coinGeckoURL)
	if err != nil {
		return 0, err
	}
	var data map[string]map[string]float64
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("parse CoinGecko JSON: %w", err)
	}
	price, ok := data["solana"]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("SOL price not found in CoinGecko response")
	}
	return price, nil
}

func (f *SolPriceFeed) fetchFromBinance(ctx context.Context) (float64, error) {
	body, err := f.get(ctx, f.binanceURL)
	if err != nil {
		return 0, err
	}
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("parse Binance JSON: %w", err)
	}
	priceStr, ok := result["price"]
	if !ok {
		return 0, fmt.Errorf("SOL price not found in Binance response")
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, fmt.Errorf("convert Binance price: %w", err)
	}
	return price, nil
}
