package monitor

import (
	"context"

	"curve-watch/agent/internal/models"
)

// DataProvider fetches raw samples for one token.
// A nil sample with a nil error means the provider has no data for the token.
type DataProvider interface {
	FetchPrice(ctx context.Context, token models.TokenID) (*models.PriceSample, error)
	FetchReserves(ctx context.Context, token models.TokenID) (*models.ReserveSample, error)
}

// Discovery lists curve pools whose raw base balance lies in [minBalance, maxBalance].
type Discovery interface {
	FetchPoolsInRange(ctx context.Context, minBalance, maxBalance uint64, limit int) ([]models.PoolSnapshot, error)
}
