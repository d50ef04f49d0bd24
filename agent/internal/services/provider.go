package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/observability"
	"curve-watch/shared/logger"

	"go.uber.org/zap"
)

type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, token models.TokenID) (*models.PriceSample, error)
}

type ReserveSource interface {
	Name() string
	FetchReserves(ctx context.Context, token models.TokenID) (*models.ReserveSample, error)
}

// ProviderChain asks each source in order and returns the first present sample.
// It errors only when every source errored; sources that answer "no data" make the chain answer "no data".
type ProviderChain struct {
	prices    []PriceSource
	reserves  []ReserveSource
	appLogger *logger.Logger
	metrics   *observability.Metrics
}

func NewProviderChain(prices []PriceSource, reserves []ReserveSource, appLogger *logger.Logger, metrics *observability.Metrics) *ProviderChain {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &ProviderChain{prices: prices, reserves: reserves, appLogger: appLogger, metrics: metrics}
}

func (c *ProviderChain) FetchPrice(ctx context.Context, token models.TokenID) (*models.PriceSample, error) {
	var errs []error
	for _, src := range c.prices {
		start := time.Now()
		s, err := src.FetchPrice(ctx, token)
		c.metrics.RecordFetch(src.Name(), "price", time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.appLogger.Debug("Price source failed, trying next", zap.String("source", src.Name()), zap.String("tokenAddress", token.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if s != nil {
			return s, nil
		}
	}
	if len(errs) > 0 && len(errs) == len(c.prices) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

func (c *ProviderChain) FetchReserves(ctx context.Context, token models.TokenID) (*models.ReserveSample, error) {
	var errs []error
	for _, src := range c.reserves {
		start := time.Now()
		s, err := src.FetchReserves(ctx, token)
		c.metrics.RecordFetch(src.Name(), "reserves", time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.appLogger.Debug("Reserve source failed, trying next", zap.String("source", src.Name()), zap.String("tokenAddress", token.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if s != nil {
			return s, nil
		}
	}
	if len(errs) > 0 && len(errs) == len(c.reserves) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
