// Package filter implements the ordered screening chain applied to each candidate.
//
// Steps run in a fixed order and stop at the first failure. Any numeric input
// that is not a finite number rejects the candidate at the step that uses it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/rugcheck"
	"github.com/henrisama/dexscreener/internal/solana"
)

// Step names, in evaluation order.
const (
	StepTokenBlacklist  = "token_blacklist"
	StepIssuer          = "issuer"
	StepRiskScore       = "risk_score"
	StepConcentration   = "concentration"
	StepLiquidity       = "liquidity"
	StepSyntheticVolume = "synthetic_volume"
)

// Steps lists every step name in order.
var Steps = []string{
	StepTokenBlacklist,
	StepIssuer,
	StepRiskScore,
	StepConcentration,
	StepLiquidity,
	StepSyntheticVolume,
}

// Blacklist is the subset of the blacklist store used by the chain.
type Blacklist interface {
	ContainsToken(token string) bool
	ContainsIssuer(issuer string) bool
	Ban(ctx context.Context, token, issuer string) bool
}

type IssuerResolver interface {
	Issuer(ctx context.Context, mint string) (string, error)
}

type RiskEvaluator interface {
	Report(ctx context.Context, mint string) (*rugcheck.Report, error)
}

type HolderService interface {
	Holdings(ctx context.Context, mint string) (*solana.Holdings, error)
}

// Config holds the chain thresholds.
type Config struct {
	MinMarketCap            float64
	MinVolume24h            float64
	MaxVolumeMarketCapRatio float64
	MaxRiskScore            float64
	IgnoredRisks            []string
	MaxTopHoldersPct        float64
	TopHolders              int
	MinPriceChangeForVolume float64
	CallTimeout             time.Duration
}

// Outcome is the result of screening one candidate.
type Outcome struct {
	Verdicts   []models.Verdict
	Accepted   bool
	FailedStep string
	// Banned is set when the concentration step added the token to the blacklist.
	Banned bool
}

// Reason returns the failing verdict's reason, or "" when accepted.
func (o *Outcome) Reason() string {
	if o.Accepted || len(o.Verdicts) == 0 {
		return ""
	}
	return o.Verdicts[len(o.Verdicts)-1].Reason
}

// Chain screens candidates.
type Chain struct {
	cfg       Config
	blacklist Blacklist
	issuers   IssuerResolver
	risk      RiskEvaluator
	holders   HolderService
}

// New creates a chain. A nil risk evaluator skips the risk step (risk checks disabled).
func New(cfg Config, blacklist Blacklist, issuers IssuerResolver, risk RiskEvaluator, holders HolderService) *Chain {
	if cfg.TopHolders <= 0 {
		cfg.TopHolders = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Chain{
		cfg:       cfg,
		blacklist: blacklist,
		issuers:   issuers,
		risk:      risk,
		holders:   holders,
	}
}

// Screen runs every step in order against c and stops at the first failure.
// The resolved issuer is stored on c.
func (ch *Chain) Screen(ctx context.Context, c *models.Candidate) Outcome {
	var out Outcome
	steps := []struct {
		name string
		fn   func(context.Context, *models.Candidate, *Outcome) (bool, string)
	}{
		{StepTokenBlacklist, ch.checkTokenBlacklist},
		{StepIssuer, ch.checkIssuer},
		{StepRiskScore, ch.checkRisk},
		{StepConcentration, ch.checkConcentration},
		{StepLiquidity, ch.checkLiquidity},
		{StepSyntheticVolume, ch.checkSyntheticVolume},
	}

	for _, step := range steps {
		passed, reason := step.fn(ctx, c, &out)
		out.Verdicts = append(out.Verdicts, models.Verdict{Step: step.name, Passed: passed, Reason: reason})
		if !passed {
			out.FailedStep = step.name
			logger.Debug("Rejected %s at %s: %s", c.DisplayName(), step.name, reason)
			return out
		}
	}
	out.Accepted = true
	return out
}

func (ch *Chain) checkTokenBlacklist(_ context.Context, c *models.Candidate, _ *Outcome) (bool, string) {
	if ch.blacklist.ContainsToken(c.Address) {
		return false, "token is blacklisted"
	}
	return true, ""
}

func (ch *Chain) checkIssuer(ctx context.Context, c *models.Candidate, _ *Outcome) (bool, string) {
	if c.Issuer == "" && ch.issuers != nil {
		callCtx, cancel := context.WithTimeout(ctx, ch.cfg.CallTimeout)
		issuer, err := ch.issuers.Issuer(callCtx, c.Address)
		cancel()
		switch {
		case errors.Is(err, solana.ErrIssuerNotFound):
			logger.Debug("No issuer found for %s", c.Address)
		case err != nil:
			logger.Warn("Issuer lookup failed for %s: %v", c.Address, err)
		default:
			c.Issuer = issuer
		}
	}
	if c.Issuer == "" {
		return true, "issuer unknown"
	}
	if ch.blacklist.ContainsIssuer(c.Issuer) {
		return false, fmt.Sprintf("issuer %s is blacklisted", c.Issuer)
	}
	return true, ""
}

func (ch *Chain) checkRisk(ctx context.Context, c *models.Candidate, _ *Outcome) (bool, string) {
	if ch.risk == nil {
		return true, "risk check disabled"
	}
	callCtx, cancel := context.WithTimeout(ctx, ch.cfg.CallTimeout)
	defer cancel()

	report, err := ch.risk.Report(callCtx, c.Address)
	if err != nil {
		return false, fmt.Sprintf("risk report unavailable: %v", err)
	}
	if !models.Finite(report.ScoreNormalised) {
		return false, "risk score is not a number"
	}
	if report.ScoreNormalised > ch.cfg.MaxRiskScore {
		return false, fmt.Sprintf("risk score %.0f exceeds %.0f", report.ScoreNormalised, ch.cfg.MaxRiskScore)
	}
	if dangers := report.Dangerous(ch.cfg.IgnoredRisks); len(dangers) > 0 {
		return false, fmt.Sprintf("danger risk: %s", dangers[0].Name)
	}
	return true, ""
}

func (ch *Chain) checkConcentration(ctx context.Context, c *models.Candidate, out *Outcome) (bool, string) {
	callCtx, cancel := context.WithTimeout(ctx, ch.cfg.CallTimeout)
	defer cancel()

	holdings, err := ch.holders.Holdings(callCtx, c.Address)
	if err != nil {
		return false, fmt.Sprintf("holder lookup failed: %v", err)
	}
	share := holdings.TopShare(ch.cfg.TopHolders)
	if !models.Finite(share) {
		return false, "holder share is not a number"
	}
	if share > ch.cfg.MaxTopHoldersPct {
		out.Banned = ch.blacklist.Ban(ctx, c.Address, c.Issuer)
		logger.Info("Blacklisted %s: top %d holders own %.1f%%", c.Address, ch.cfg.TopHolders, share)
		return false, fmt.Sprintf("top %d holders own %.1f%% of supply", ch.cfg.TopHolders, share)
	}
	return true, ""
}

func (ch *Chain) checkLiquidity(_ context.Context, c *models.Candidate, _ *Outcome) (bool, string) {
	m := c.Metrics
	if !models.Finite(m.FDV) || !models.Finite(m.Volume24h) {
		return false, "market figures are not numbers"
	}
	if m.FDV < ch.cfg.MinMarketCap {
		return false, fmt.Sprintf("fdv %.0f below %.0f", m.FDV, ch.cfg.MinMarketCap)
	}
	if m.Volume24h < ch.cfg.MinVolume24h {
		return false, fmt.Sprintf("24h volume %.0f below %.0f", m.Volume24h, ch.cfg.MinVolume24h)
	}
	return true, ""
}

func (ch *Chain) checkSyntheticVolume(_ context.Context, c *models.Candidate, _ *Outcome) (bool, string) {
	m := c.Metrics
	if !models.Finite(m.FDV) || !models.Finite(m.Volume24h) || !models.Finite(m.Change24h) {
		return false, "market figures are not numbers"
	}

	ratio := math.Inf(1)
	if m.FDV > 0 {
		ratio = m.Volume24h / m.FDV
	}
	if ratio > ch.cfg.MaxVolumeMarketCapRatio {
		return false, fmt.Sprintf("volume/fdv ratio %.2f exceeds %.2f", ratio, ch.cfg.MaxVolumeMarketCapRatio)
	}
	if m.Volume24h > ch.cfg.MinVolume24h && math.Abs(m.Change24h) < ch.cfg.MinPriceChangeForVolume {
		return false, fmt.Sprintf("volume %.0f with flat price (%.2f%%)", m.Volume24h, m.Change24h)
	}
	return true, ""
}
