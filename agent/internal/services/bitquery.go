package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/shared/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBitqueryEndpoint = "https://streaming.bitquery.io/eap"
	PumpFunProgramAddress   = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	solNativeMint           = "11111111111111111111111111111111"
)

const latestPriceQuery = `query LatestPrice($token: String!, $program: String!) {
  Solana {
    DEXTradeByTokens(
      limit: { count: 1 }
      orderBy: { descending: Block_Time }
      where: {
        Trade: {
          Currency: { MintAddress: { is: $token } }
          Dex: { ProgramAddress: { is: $program } }
        }
        Transaction: { Result: { Success: true } }
      }
    ) {
      Block { Time }
      Trade {
        Currency { Name MintAddress Symbol }
        Price
        PriceInUSD
      }
    }
  }
}`

const latestPoolQuery = `query LatestPool($token: String!, $program: String!) {
  Solana {
    DEXPools(
      where: {
        Pool: {
          Market: { BaseCurrency: { MintAddress: { is: $token } } }
          Dex: { ProgramAddress: { is: $program } }
        }
      }
      orderBy: { descending: Block_Slot }
      limit: { count: 1 }
    ) {
      Block { Time }
      Pool {
        Market { BaseCurrency { MintAddress Symbol Name } }
        Quote { PostAmount PriceInUSD PostAmountInUSD }
        Base { PostAmount }
      }
    }
  }
}`

const poolsInRangeQuery = `query PoolsInRange($minBalance: String!, $maxBalance: String!, $program: String!, $quote: String!, $limit: Int!) {
  Solana {
    DEXPools(
      limit: { count: $limit }
      orderBy: { descending: Block_Slot }
      where: {
        Pool: {
          Base: { PostAmount: { ge: $minBalance, le: $maxBalance } }
          Dex: { ProgramAddress: { is: $program } }
          Market: { QuoteCurrency: { MintAddress: { is: $quote } } }
        }
        Transaction: { Result: { Success: true } }
      }
    ) {
      Block { Time }
      Pool {
        Market { BaseCurrency { MintAddress Name Symbol } }
        Base { PostAmount }
        Quote { PostAmount PriceInUSD PostAmountInUSD }
      }
    }
  }
}`

// flexFloat accepts numbers, numeric strings and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

type bqCurrency struct {
	Name        string `json:"Name"`
	Symbol      string `json:"Symbol"`
	MintAddress string `json:"MintAddress"`
}

type bqBlock struct {
	Time time.Time `json:"Time"`
}

type bqTrade struct {
	Block bqBlock `json:"Block"`
	Trade struct {
		Currency   bqCurrency `json:"Currency"`
		Price      flexFloat  `json:"Price"`
		PriceInUSD flexFloat  `json:"PriceInUSD"`
	} `json:"Trade"`
}

type bqPool struct {
	Block bqBlock `json:"Block"`
	Pool  struct {
		Market struct {
			BaseCurrency bqCurrency `json:"BaseCurrency"`
		} `json:"Market"`
		Base struct {
			PostAmount flexFloat `json:"PostAmount"`
		} `json:"Base"`
		Quote struct {
			PostAmount      flexFloat `json:"PostAmount"`
			PriceInUSD      flexFloat `json:"PriceInUSD"`
			PostAmountInUSD flexFloat `json:"PostAmountInUSD"`
		} `json:"Quote"`
	} `json:"Pool"`
}

type bqResponse struct {
	Data struct {
		Solana struct {
			DEXTradeByTokens []bqTrade `json:"DEXTradeByTokens"`
			DEXPools         []bqPool  `json:"DEXPools"`
		} `json:"Solana"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type BitqueryOptions struct {
	Endpoint       string
	APIKey         string
	ProgramAddress string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
	Logger         *logger.Logger
}

// BitqueryClient reads pump.fun trades and pools through the Bitquery GraphQL API.
type BitqueryClient struct {
	endpoint string
	apiKey   string
	program  string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *logger.Logger
}

func NewBitqueryClient(opts BitqueryOptions) *BitqueryClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultBitqueryEndpoint
	}
	if opts.ProgramAddress == "" {
		opts.ProgramAddress = PumpFunProgramAddress
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &BitqueryClient{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		program:  opts.ProgramAddress,
		http:     &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		logger:   opts.Logger,
	}
}

func (c *BitqueryClient) Name() string { return "bitquery" }

func (c *BitqueryClient) execute(ctx context.Context, query string, variables map[string]interface{}) (*bqResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("bitquery rate limiter: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	if err != nil {
		return nil, fmt.Errorf("marshal bitquery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create bitquery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitquery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bitquery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Bitquery returned non-OK status", zap.Int("statusCode", resp.StatusCode), zap.ByteString("responseBody", truncate(body, 512)))
		return nil, fmt.Errorf("bitquery query failed with status %d", resp.StatusCode)
	}

	var out bqResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse bitquery response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("bitquery error: %s", out.Errors[0].Message)
	}
	return &out, nil
}

// FetchPrice returns the latest successful trade price, or nil if the token never traded on the curve.
func (c *BitqueryClient) FetchPrice(ctx context.Context, token models.TokenID) (*models.PriceSample, error) {
	out, err := c.execute(ctx, latestPriceQuery, map[string]interface{}{"token": token.String(), "program": c.program})
	if err != nil {
		return nil, err
	}
	trades := out.Data.Solana.DEXTradeByTokens
	if len(trades) == 0 {
		return nil, nil
	}
	t := trades[0]
	return &models.PriceSample{
		TokenID:     token,
		Name:        t.Trade.Currency.Name,
		Symbol:      t.Trade.Currency.Symbol,
		PriceUSD:    float64(t.Trade.PriceInUSD),
		PriceNative: float64(t.Trade.Price),
		ObservedAt:  observedAt(t.Block.Time),
	}, nil
}

// FetchReserves returns the latest pool state of the token's bonding curve.
func (c *BitqueryClient) FetchReserves(ctx context.Context, token models.TokenID) (*models.ReserveSample, error) {
	out, err := c.execute(ctx, latestPoolQuery, map[string]interface{}{"token": token.String(), "program": c.program})
	if err != nil {
		return nil, err
	}
	pools := out.Data.Solana.DEXPools
	if len(pools) == 0 {
		return nil, nil
	}
	p := pools[0]
	return &models.ReserveSample{
		TokenID:         token,
		Name:            p.Pool.Market.BaseCurrency.Name,
		Symbol:          p.Pool.Market.BaseCurrency.Symbol,
		BaseReserve:     toUint(float64(p.Pool.Base.PostAmount)),
		QuoteReserve:    float64(p.Pool.Quote.PostAmount),
		QuoteReserveUSD: float64(p.Pool.Quote.PostAmountInUSD),
		ObservedAt:      observedAt(p.Block.Time),
	}, nil
}

// FetchPoolsInRange lists curve pools whose base balance is within [minBalance, maxBalance].
func (c *BitqueryClient) FetchPoolsInRange(ctx context.Context, minBalance, maxBalance uint64, limit int) ([]models.PoolSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := c.execute(ctx, poolsInRangeQuery, map[string]interface{}{
		"minBalance": strconv.FormatUint(minBalance, 10),
		"maxBalance": strconv.FormatUint(maxBalance, 10),
		"program":    c.program,
		"quote":      solNativeMint,
		"limit":      limit,
	})
	if err != nil {
		return nil, err
	}

	pools := out.Data.Solana.DEXPools
	snapshots := make([]models.PoolSnapshot, 0, len(pools))
	for _, p := range pools {
		mint := p.Pool.Market.BaseCurrency.MintAddress
		if mint == "" {
			continue
		}
		snapshots = append(snapshots, models.PoolSnapshot{
			TokenID:      models.TokenID(mint),
			Name:         p.Pool.Market.BaseCurrency.Name,
			Symbol:       p.Pool.Market.BaseCurrency.Symbol,
			BaseReserve:  toUint(float64(p.Pool.Base.PostAmount)),
			QuoteReserve: float64(p.Pool.Quote.PostAmount),
			PriceUSD:     float64(p.Pool.Quote.PriceInUSD),
			ObservedAt:   observedAt(p.Block.Time),
		})
	}
	c.logger.Debug("Bitquery pools in range", zap.Uint64("minBalance", minBalance), zap.Uint64("maxBalance", maxBalance), zap.Int("count", len(snapshots)))
	return snapshots, nil
}

func toUint(v float64) uint64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}

func observedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
