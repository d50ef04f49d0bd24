package services

import (
	"context"
	"errors"
	"testing"

	"curve-watch/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name     string
	price    *models.PriceSample
	reserves *models.ReserveSample
	err      error
	calls    int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchPrice(context.Context, models.TokenID) (*models.PriceSample, error) {
	s.calls++
	return s.price, s.err
}

func (s *stubSource) FetchReserves(context.Context, models.TokenID) (*models.ReserveSample, error) {
	s.calls++
	return s.reserves, s.err
}

func TestProviderChainFirstPresentWins(t *testing.T) {
	first := &stubSource{name: "a", err: errors.New("down")}
	second := &stubSource{name: "b", price: &models.PriceSample{PriceUSD: 1}}
	third := &stubSource{name: "c", price: &models.PriceSample{PriceUSD: 2}}
	c := NewProviderChain([]PriceSource{first, second, third}, nil, nil, nil)

	s, err := c.FetchPrice(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.PriceUSD)
	assert.Equal(t, 0, third.calls)
}

func TestProviderChainNoDataVersusError(t *testing.T) {
	empty := &stubSource{name: "a"}
	broken := &stubSource{name: "b", err: errors.New("502")}

	c := NewProviderChain(nil, []ReserveSource{empty, broken}, nil, nil)
	s, err := c.FetchReserves(context.Background(), testMint)
	require.NoError(t, err, "one source answered")
	assert.Nil(t, s)

	c = NewProviderChain(nil, []ReserveSource{broken, &stubSource{name: "c", err: errors.New("timeout")}}, nil, nil)
	_, err = c.FetchReserves(context.Background(), testMint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: 502")
	assert.Contains(t, err.Error(), "c: timeout")
}

func TestProviderChainEmpty(t *testing.T) {
	c := NewProviderChain(nil, nil, nil, nil)
	p, err := c.FetchPrice(context.Background(), testMint)
	require.NoError(t, err)
	assert.Nil(t, p)
}
