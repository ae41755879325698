package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
)

// RPC is the subset of *rpc.Client used to send and confirm swaps.
type RPC interface {
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Swapper is the subset of JupiterClient used by LiveExecutor.
type Swapper interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	SwapTransaction(ctx context.Context, quote *Quote, user string) ([]byte, error)
}

// LiveConfig configures a LiveExecutor.
type LiveConfig struct {
	AmountSOL      float64
	SlippageBps    int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// LiveExecutor swaps SOL for tokens and back through Jupiter.
type LiveExecutor struct {
	swapper        Swapper
	rpc            RPC
	wallet         solana.PrivateKey
	amountLamports uint64
	slippageBps    int
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewLiveExecutor creates an executor signing with the base58 secretKey.
func NewLiveExecutor(cfg LiveConfig, swapper Swapper, client RPC, secretKey string) (*LiveExecutor, error) {
	wallet, err := solana.PrivateKeyFromBase58(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	lamports := decimal.NewFromFloat(cfg.AmountSOL).Shift(9).Floor()
	if !lamports.IsPositive() {
		return nil, fmt.Errorf("trade amount must be positive, got %v SOL", cfg.AmountSOL)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &LiveExecutor{
		swapper:        swapper,
		rpc:            client,
		wallet:         wallet,
		amountLamports: uint64(lamports.IntPart()),
		slippageBps:    cfg.SlippageBps,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
	}, nil
}

// Address returns the wallet public key.
func (e *LiveExecutor) Address() solana.PublicKey {
	return e.wallet.PublicKey()
}

// Buy swaps the configured SOL amount into token.
func (e *LiveExecutor) Buy(ctx context.Context, token string) (*models.TradeResult, error) {
	sig, err := e.swap(ctx, SOLMint, token, e.amountLamports)
	if err != nil {
		return nil, tradeErr(models.SideBuy, token, err)
	}
	return &models.TradeResult{
		Side:       models.SideBuy,
		Token:      token,
		TxRef:      sig.String(),
		AmountIn:   decimal.NewFromInt(int64(e.amountLamports)).Shift(-9).String() + " SOL",
		ExecutedAt: time.Now(),
	}, nil
}

// Sell swaps the wallet's entire balance of token back into SOL.
func (e *LiveExecutor) Sell(ctx context.Context, token string) (*models.TradeResult, error) {
	amount, err := e.balance(ctx, token)
	if err != nil {
		return nil, tradeErr(models.SideSell, token, err)
	}
	sig, err := e.swap(ctx, token, SOLMint, amount)
	if err != nil {
		return nil, tradeErr(models.SideSell, token, err)
	}
	return &models.TradeResult{
		Side:       models.SideSell,
		Token:      token,
		TxRef:      sig.String(),
		AmountIn:   fmt.Sprintf("%d units", amount),
		ExecutedAt: time.Now(),
	}, nil
}

// balance returns the raw token amount held in the wallet's associated token account.
func (e *LiveExecutor) balance(ctx context.Context, token string) (uint64, error) {
	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return 0, fmt.Errorf("invalid mint: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(e.wallet.PublicKey(), mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}
	res, err := e.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "could not find account") {
			return 0, ErrNoBalance
		}
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, ErrNoBalance
	}
	amount, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return 0, fmt.Errorf("invalid token balance %q: %w", res.Value.Amount, err)
	}
	if !amount.IsPositive() {
		return 0, ErrNoBalance
	}
	return uint64(amount.IntPart()), nil
}

// swap quotes, signs, sends and confirms one swap.
func (e *LiveExecutor) swap(ctx context.Context, inputMint, outputMint string, amount uint64) (solana.Signature, error) {
	quote, err := e.swapper.Quote(ctx, inputMint, outputMint, amount, e.slippageBps)
	if err != nil {
		return solana.Signature{}, err
	}
	raw, err := e.swapper.SwapTransaction(ctx, quote, e.wallet.PublicKey().String())
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := e.sign(raw)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := e.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	logger.WithFields(logger.Fields{
		"signature": sig.String(),
		"in":        inputMint,
		"out":       outputMint,
		"amount":    amount,
	}).Info("Transaction sent")

	confirmCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	if err := e.waitForConfirmation(confirmCtx, sig); err != nil {
		return sig, fmt.Errorf("transaction %s sent but confirmation failed: %w", sig, err)
	}
	return sig, nil
}

// sign decodes a serialized transaction and writes the wallet signature into
// the wallet's signer slot. Other slots are left as returned by the aggregator.
func (e *LiveExecutor) sign(raw []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 || required > len(tx.Message.AccountKeys) {
		return nil, fmt.Errorf("transaction declares %d signers for %d accounts", required, len(tx.Message.AccountKeys))
	}
	owner := e.wallet.PublicKey()
	slot := -1
	for i, key := range tx.Message.AccountKeys[:required] {
		if key.Equals(owner) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("wallet %s is not a signer of the swap transaction", owner)
	}

	content, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	sig, err := e.wallet.Sign(content)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if len(tx.Signatures) != required {
		sigs := make([]solana.Signature, required)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	tx.Signatures[slot] = sig
	return tx, nil
}

// waitForConfirmation polls the signature status until confirmed, failed, or ctx ends.
func (e *LiveExecutor) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := e.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				logger.Debug("Signature status lookup failed for %s: %v", sig, err)
				continue
			}
			if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
				continue
			}
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
