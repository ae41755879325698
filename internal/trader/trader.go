// Package trader executes buy and sell intents.
//
// The live executor swaps through the Jupiter aggregator and signs with a
// local wallet; the paper executor records intents without touching a chain.
package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/henrisama/dexscreener/internal/models"
)

var (
	// ErrTradeFailed wraps every execution failure.
	ErrTradeFailed = errors.New("trade failed")
	// ErrNoBalance is returned by Sell when the wallet holds none of the token.
	ErrNoBalance = errors.New("no token balance")
)

// Executor performs buy and sell intents for a token.
type Executor interface {
	Buy(ctx context.Context, token string) (*models.TradeResult, error)
	Sell(ctx context.Context, token string) (*models.TradeResult, error)
}

// TradeError describes a failed trade.
type TradeError struct {
	Side  models.Side
	Token string
	Err   error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Side, e.Token, e.Err)
}

func (e *TradeError) Unwrap() []error {
	return []error{ErrTradeFailed, e.Err}
}

func tradeErr(side models.Side, token string, err error) error {
	return &TradeError{Side: side, Token: token, Err: err}
}
