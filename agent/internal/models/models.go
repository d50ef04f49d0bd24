package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minTokenIDLen = 32
	maxTokenIDLen = 44
)

var (
	// ErrInvalidTokenID is returned for addresses outside the accepted length bounds.
	ErrInvalidTokenID = errors.New("invalid token address")
	// ErrNoData means the provider was reachable but had nothing for the token.
	ErrNoData = errors.New("no data available")
)

// TokenID is a chain address identifying a token mint.
type TokenID string

// UserID identifies a subscriber. For Telegram users this is the chat id alerts are sent to.
type UserID int64

// ParseTokenID trims s and checks its length.
func ParseTokenID(s string) (TokenID, error) {
	s = strings.TrimSpace(s)
	if len(s) < minTokenIDLen || len(s) > maxTokenIDLen {
		return "", fmt.Errorf("%w: length %d not in [%d,%d]", ErrInvalidTokenID, len(s), minTokenIDLen, maxTokenIDLen)
	}
	return TokenID(s), nil
}

func (t TokenID) String() string { return string(t) }

// Short renders the address as "abcd...wxyz" for chat messages.
func (t TokenID) Short() string {
	s := string(t)
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// PriceSample is the latest trade price seen for a token.
type PriceSample struct {
	TokenID     TokenID
	Name        string
	Symbol      string
	PriceUSD    float64
	PriceNative float64
	ObservedAt  time.Time
}

// ReserveSample is the latest pool reserve state seen for a token.
type ReserveSample struct {
	TokenID         TokenID
	Name            string
	Symbol          string
	BaseReserve     uint64  // raw token balance left in the curve
	QuoteReserve    float64 // quote liquidity in native units (SOL)
	QuoteReserveUSD float64
	ObservedAt      time.Time
}

// TokenMetrics is the derived state of one monitored token. Values are copied out to readers.
type TokenMetrics struct {
	TokenID            TokenID   `json:"token"`
	Name               string    `json:"name,omitempty"`
	Symbol             string    `json:"symbol,omitempty"`
	PriceUSD           float64   `json:"priceUsd"`
	PriceNative        float64   `json:"priceNative"`
	BaseReserve        uint64    `json:"baseReserve"`
	QuoteReserve       float64   `json:"quoteReserve"`
	QuoteReserveUSD    float64   `json:"quoteReserveUsd"`
	BondingProgressPct float64   `json:"bondingProgressPct"`
	MarketCapUSD       float64   `json:"marketCapUsd"`
	HasPrice           bool      `json:"hasPrice"`
	HasReserves        bool      `json:"hasReserves"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// PoolSnapshot is one pool returned by a range discovery query.
type PoolSnapshot struct {
	TokenID      TokenID
	Name         string
	Symbol       string
	BaseReserve  uint64
	QuoteReserve float64
	PriceUSD     float64
	ObservedAt   time.Time
}

// TokenSummary is one row of a trending or graduating listing.
type TokenSummary struct {
	TokenID            TokenID `json:"token"`
	Name               string  `json:"name,omitempty"`
	Symbol             string  `json:"symbol,omitempty"`
	PriceUSD           float64 `json:"priceUsd"`
	MarketCapUSD       float64 `json:"marketCapUsd"`
	BondingProgressPct float64 `json:"bondingProgressPct"`
	BaseReserve        uint64  `json:"baseReserve"`
}

// AlertRecord is one delivered (or attempted) alert.
type AlertRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TokenID      string    `gorm:"not null;index" json:"token"`
	UserID       int64     `gorm:"not null;index" json:"userId"`
	ThresholdKey string    `gorm:"not null" json:"key"`
	Value        float64   `gorm:"not null" json:"value"`
	Delivered    bool      `gorm:"not null" json:"delivered"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (AlertRecord) TableName() string { return "alert_log" }
