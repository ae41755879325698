package trader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
)

// PaperExecutor accepts every intent and returns a synthetic transaction reference.
type PaperExecutor struct {
	amountSOL decimal.Decimal
}

func NewPaperExecutor(amountSOL float64) *PaperExecutor {
	return &PaperExecutor{amountSOL: decimal.NewFromFloat(amountSOL)}
}

func (p *PaperExecutor) Buy(ctx context.Context, token string) (*models.TradeResult, error) {
	return p.fill(ctx, models.SideBuy, token, p.amountSOL.String()+" SOL")
}

func (p *PaperExecutor) Sell(ctx context.Context, token string) (*models.TradeResult, error) {
	return p.fill(ctx, models.SideSell, token, "all")
}

func (p *PaperExecutor) fill(ctx context.Context, side models.Side, token, amount string) (*models.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, tradeErr(side, token, err)
	}
	res := &models.TradeResult{
		Side:       side,
		Token:      token,
		TxRef:      "paper-" + uuid.New().String(),
		AmountIn:   amount,
		ExecutedAt: time.Now(),
	}
	logger.WithFields(logger.Fields{
		"side":   side,
		"token":  token,
		"amount": amount,
		"tx":     res.TxRef,
	}).Info("Paper trade filled")
	return res, nil
}
