package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/shared/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultDexScreenerAPI = "https://api.dexscreener.com/tokens/v1/solana"

type Pair struct {
	ChainID     string     `json:"chainId"`
	DexID       string     `json:"dexId"`
	PairAddress string     `json:"pairAddress"`
	BaseToken   Token      `json:"baseToken"`
	QuoteToken  Token      `json:"quoteToken"`
	PriceNative string     `json:"priceNative"`
	PriceUsd    string     `json:"priceUsd"`
	Liquidity   *Liquidity `json:"liquidity"`
	FDV         float64    `json:"fdv"`
	MarketCap   float64    `json:"marketCap"`
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	Usd   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// DexScreenerClient is a price source backed by the public DexScreener token endpoint.
type DexScreenerClient struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	appLogger *logger.Logger
}

func NewDexScreenerClient(baseURL string, appLogger *logger.Logger) *DexScreenerClient {
	if baseURL == "" {
		baseURL = DefaultDexScreenerAPI
	}
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &DexScreenerClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(4.66), 5),
		appLogger: appLogger,
	}
}

func (d *DexScreenerClient) Name() string { return "dexscreener" }

// FetchPrice picks the most liquid pair whose base token is the requested mint.
func (d *DexScreenerClient) FetchPrice(ctx context.Context, token models.TokenID) (*models.PriceSample, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dexscreener rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", d.baseURL, token), nil)
	if err != nil {
		return nil, fmt.Errorf("create dexscreener request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener request failed for %s: %w", token, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("dexscreener rate limit exceeded (429)")
	default:
		return nil, fmt.Errorf("dexscreener request failed with status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dexscreener response: %w", err)
	}
	var pairs []Pair
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("parse dexscreener response for %s: %w", token, err)
	}

	var best *Pair
	for i := range pairs {
		p := &pairs[i]
		if p.BaseToken.Address != token.String() {
			continue
		}
		if best == nil || liquidityUSD(p) > liquidityUSD(best) {
			best = p
		}
	}
	if best == nil {
		d.appLogger.Debug("DexScreener has no pairs for token", zap.String("tokenAddress", token.String()))
		return nil, nil
	}

	priceUSD, err := strconv.ParseFloat(best.PriceUsd, 64)
	if err != nil {
		return nil, fmt.Errorf("parse dexscreener priceUsd %q: %w", best.PriceUsd, err)
	}
	priceNative, _ := strconv.ParseFloat(best.PriceNative, 64)

	return &models.PriceSample{
		TokenID:     token,
		Name:        best.BaseToken.Name,
		Symbol:      best.BaseToken.Symbol,
		PriceUSD:    priceUSD,
		PriceNative: priceNative,
		ObservedAt:  time.Now(),
	}, nil
}

func liquidityUSD(p *Pair) float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.Usd
}
