// Package solana wraps the Solana JSON-RPC calls used for screening:
// holder concentration and issuer (metadata update authority) lookup.
package solana

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// RPC is the subset of *rpc.Client used by this package.
type RPC interface {
	GetTokenLargestAccounts(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error)
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// NewRPC creates a JSON-RPC client, adding a bearer token when apiKey is set.
func NewRPC(endpoint, apiKey string) *rpc.Client {
	if apiKey != "" {
		return rpc.NewWithHeaders(endpoint, map[string]string{
			"Authorization": "Bearer " + apiKey,
		})
	}
	return rpc.New(endpoint)
}

// Holdings are raw base-unit amounts of the largest holders and the total supply.
type Holdings struct {
	Balances []decimal.Decimal
	Supply   decimal.Decimal
}

// TopShare returns the percentage of supply held by the n largest holders.
// Zero supply yields NaN.
func (h *Holdings) TopShare(n int) float64 {
	if h.Supply.IsZero() || h.Supply.IsNegative() {
		return math.NaN()
	}
	if n > len(h.Balances) {
		n = len(h.Balances)
	}
	sum := decimal.Zero
	for _, b := range h.Balances[:n] {
		sum = sum.Add(b)
	}
	share, _ := sum.Mul(decimal.NewFromInt(100)).Div(h.Supply).Float64()
	return share
}

// HolderService fetches holder balances and supply for a mint.
type HolderService struct {
	rpc        RPC
	commitment rpc.CommitmentType
}

func NewHolderService(client RPC) *HolderService {
	return &HolderService{rpc: client, commitment: rpc.CommitmentConfirmed}
}

// Holdings returns the largest token accounts, sorted descending by the node, and supply.
func (s *HolderService) Holdings(ctx context.Context, mint string) (*Holdings, error) {
	pubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %s: %w", mint, err)
	}

	largest, err := s.rpc.GetTokenLargestAccounts(ctx, pubkey, s.commitment)
	if err != nil {
		return nil, fmt.Errorf("getTokenLargestAccounts failed: %w", err)
	}
	supply, err := s.rpc.GetTokenSupply(ctx, pubkey, s.commitment)
	if err != nil {
		return nil, fmt.Errorf("getTokenSupply failed: %w", err)
	}
	if supply == nil || supply.Value == nil {
		return nil, fmt.Errorf("token supply not found for %s", mint)
	}

	h := &Holdings{}
	h.Supply, err = decimal.NewFromString(supply.Value.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid supply amount %q: %w", supply.Value.Amount, err)
	}
	if largest != nil {
		for _, acct := range largest.Value {
			if acct == nil {
				continue
			}
			amount, err := decimal.NewFromString(acct.Amount)
			if err != nil {
				return nil, fmt.Errorf("invalid holder amount %q: %w", acct.Amount, err)
			}
			h.Balances = append(h.Balances, amount)
		}
	}
	return h, nil
}
