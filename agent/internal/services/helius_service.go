package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/shared/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// SolPriceSource values SOL in USD.
type SolPriceSource interface {
	Price(ctx context.Context) (float64, error)
}

// balanceReader is the subset of the RPC client HeliusService uses.
type balanceReader interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// HeliusService reads bonding-curve reserves directly from chain through a Helius RPC endpoint.
type HeliusService struct {
	rpcClient balanceReader
	program   solana.PublicKey
	solPrice  SolPriceSource
	appLogger *logger.Logger
}

func NewHeliusService(rpcURL, programAddress string, solPrice SolPriceSource, appLogger *logger.Logger) (*HeliusService, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("HELIUS_RPC_URL not set")
	}
	if programAddress == "" {
		programAddress = PumpFunProgramAddress
	}
	program, err := solana.PublicKeyFromBase58(programAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid curve program address %q: %w", programAddress, err)
	}
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	appLogger.Info("Helius RPC client configured", zap.String("url", sanitizeURL(rpcURL)))
	return &HeliusService{
		rpcClient: rpc.New(rpcURL),
		program:   program,
		solPrice:  solPrice,
		appLogger: appLogger,
	}, nil
}

func sanitizeURL(rawURL string) string {
	if idx := strings.Index(rawURL, "api-key="); idx != -1 {
		return rawURL[:idx+len("api-key=")] + "HIDDEN_FOR_LOGS"
	}
	return rawURL
}

func (hs *HeliusService) Name() string { return "helius" }

// Health pings the RPC node.
func (hs *HeliusService) Health(ctx context.Context) error {
	status, err := hs.rpcClient.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("helius health check: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("helius node unhealthy: %s", status)
	}
	return nil
}

// CurveAccounts derives the bonding-curve PDA of mint and the curve's associated token account.
func CurveAccounts(program, mint solana.PublicKey) (curve, vault solana.PublicKey, err error) {
	curve, _, err = solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, program)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive bonding curve: %w", err)
	}
	vault, _, err = solana.FindAssociatedTokenAddress(curve, mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive curve token account: %w", err)
	}
	return curve, vault, nil
}

// FetchReserves reads the curve's token balance and SOL balance. Unknown mints yield nil.
func (hs *HeliusService) FetchReserves(ctx context.Context, token models.TokenID) (*models.ReserveSample, error) {
	tokenField := zap.String("tokenAddress", token.String())

	mint, err := solana.PublicKeyFromBase58(token.String())
	if err != nil {
		hs.appLogger.Debug("HeliusService: token is not a valid base58 key", tokenField, zap.Error(err))
		return nil, nil
	}
	curveAcc, vault, err := CurveAccounts(hs.program, mint)
	if err != nil {
		return nil, err
	}

	bal, err := hs.rpcClient.GetTokenAccountBalance(ctx, vault, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountMissing(err) {
			hs.appLogger.Debug("HeliusService: no bonding curve account", tokenField)
			return nil, nil
		}
		return nil, fmt.Errorf("GetTokenAccountBalance for %s failed: %w", token, err)
	}
	if bal == nil || bal.Value == nil {
		return nil, nil
	}
	base, err := wholeTokens(bal.Value.Amount, bal.Value.Decimals)
	if err != nil {
		return nil, err
	}

	sample := &models.ReserveSample{
		TokenID:     token,
		BaseReserve: base,
		ObservedAt:  time.Now(),
	}

	lamports, err := hs.rpcClient.GetBalance(ctx, curveAcc, rpc.CommitmentConfirmed)
	if err != nil {
		hs.appLogger.Warn("HeliusService: GetBalance failed, quote reserve unknown", tokenField, zap.Error(err))
		return sample, nil
	}
	sample.QuoteReserve = float64(lamports.Value) / float64(solana.LAMPORTS_PER_SOL)

	if hs.solPrice != nil {
		if px, err := hs.solPrice.Price(ctx); err == nil {
			sample.QuoteReserveUSD = sample.QuoteReserve * px
		} else {
			hs.appLogger.Debug("HeliusService: SOL price unavailable", zap.Error(err))
		}
	}
	return sample, nil
}

// wholeTokens converts a raw base-unit amount string into whole tokens.
func wholeTokens(amount string, decimals uint8) (uint64, error) {
	raw, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0, fmt.Errorf("invalid token amount %q", amount)
	}
	raw.Quo(raw, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	if !raw.IsUint64() {
		return 0, fmt.Errorf("token amount %q overflows", amount)
	}
	return raw.Uint64(), nil
}

func isAccountMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}
