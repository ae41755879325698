// Package engine drives one screening and trading cycle.
//
// A cycle has two passes. Intake screens fresh candidates, classifies the
// accepted ones and buys pumps that have never been held. Maintenance
// re-prices every held position and sells those classified as rug pulls.
// The ledger is only written after the executor reports success.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/henrisama/dexscreener/internal/classifier"
	"github.com/henrisama/dexscreener/internal/filter"
	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/observability"
	"github.com/henrisama/dexscreener/internal/storage"
	"github.com/henrisama/dexscreener/internal/trader"
)

// Feed supplies fresh candidates.
type Feed interface {
	FetchCandidates(ctx context.Context) ([]models.Candidate, error)
}

// Screener runs the filter chain.
type Screener interface {
	Screen(ctx context.Context, c *models.Candidate) filter.Outcome
}

// MarketData re-fetches metrics for a held token.
type MarketData interface {
	Metrics(ctx context.Context, token string) (models.Metrics, error)
}

// Ledger is the durable position store.
type Ledger interface {
	Open(ctx context.Context, token, name, symbol string, tag models.EventTag, txRef string) (bool, error)
	ClosePosition(ctx context.Context, token string, tag models.EventTag, txRef string) (bool, error)
	ListOpen(ctx context.Context) ([]models.Position, error)
	Get(ctx context.Context, token string) (*models.Position, error)
	RecordObservation(ctx context.Context, obs models.Observation) error
}

// Notifier receives trade notifications. Delivery errors are logged only.
type Notifier interface {
	SendTradeExecuted(cand models.Candidate, res *models.TradeResult, tag models.EventTag) error
	SendTradeFailed(side models.Side, token, name string, tradeErr error) error
	SendPositionClosed(pos models.Position, res *models.TradeResult, m models.Metrics) error
}

// Config holds engine settings.
type Config struct {
	TradingEnabled    bool
	ScreenConcurrency int
	CallTimeout       time.Duration
	// TradeTimeout bounds one buy or sell including confirmation.
	TradeTimeout time.Duration
}

// Report summarizes one cycle.
type Report struct {
	CycleID    string
	Candidates int
	Accepted   int
	Rejected   int
	Banned     int
	Events     map[models.EventTag]int
	Bought     int
	BuyFailed  int
	Held       int
	Closed     int
	SellFailed int
	Recovered  int
}

type pendingOpen struct {
	cand models.Candidate
	tag  models.EventTag
	tx   string
}

// Engine owns the per-cycle decision logic.
type Engine struct {
	cfg      Config
	feed     Feed
	screener Screener
	market   MarketData
	ledger   Ledger
	executor trader.Executor
	notifier Notifier

	mu sync.Mutex
	// unrecorded holds buys that succeeded but could not be written to the ledger.
	unrecorded map[string]pendingOpen
	cycleCount int
}

// New creates an engine. notifier may be nil.
func New(cfg Config, feed Feed, screener Screener, market MarketData, ledger Ledger, executor trader.Executor, notifier Notifier) *Engine {
	if cfg.ScreenConcurrency <= 0 {
		cfg.ScreenConcurrency = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = 90 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		feed:       feed,
		screener:   screener,
		market:     market,
		ledger:     ledger,
		executor:   executor,
		notifier:   notifier,
		unrecorded: make(map[string]pendingOpen),
	}
}

// Cycle fetches candidates and runs both passes. Maintenance still runs when
// the fetch fails; the fetch error is returned.
func (e *Engine) Cycle(ctx context.Context) (Report, error) {
	start := time.Now()

	candidates, fetchErr := e.feed.FetchCandidates(ctx)
	if fetchErr != nil {
		logger.Error("Failed to fetch candidates: %v", fetchErr)
		candidates = nil
	}

	report := e.RunCycle(ctx, candidates)

	status := "success"
	if fetchErr != nil {
		status = "error"
	}
	observability.RecordCycle(status, time.Since(start).Seconds(), time.Now().Unix())

	if fetchErr != nil {
		return report, fmt.Errorf("fetch candidates: %w", fetchErr)
	}
	return report, nil
}

// RunCycle runs intake over candidates, then maintenance over held positions.
func (e *Engine) RunCycle(ctx context.Context, candidates []models.Candidate) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cycleCount++
	report := Report{
		CycleID: uuid.NewString(),
		Events:  make(map[models.EventTag]int),
	}

	e.retryUnrecorded(ctx, &report)

	// tokens already acted on this cycle
	touched := make(map[string]struct{})
	e.intake(ctx, dedupe(candidates), touched, &report)
	e.maintain(ctx, touched, &report)

	logger.Info("Cycle %d (%s): %d candidates, %d accepted, %d rejected, %d bought, %d held, %d closed",
		e.cycleCount, report.CycleID, report.Candidates, report.Accepted, report.Rejected,
		report.Bought, report.Held, report.Closed)
	return report
}

func dedupe(candidates []models.Candidate) []models.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

type screened struct {
	cand    models.Candidate
	outcome filter.Outcome
	ok      bool
}

func (e *Engine) intake(ctx context.Context, candidates []models.Candidate, touched map[string]struct{}, report *Report) {
	report.Candidates = len(candidates)
	results := make([]screened, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.cfg.ScreenConcurrency)
	for i := range candidates {
		cand := candidates[i]
		g.Go(func() error {
			safely(cand.Address, func() {
				out := e.screener.Screen(ctx, &cand)
				results[i] = screened{cand: cand, outcome: out, ok: true}
			})
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	for _, r := range results {
		if !r.ok {
			report.Rejected++
			continue
		}
		observability.RecordScreened(r.outcome.FailedStep, r.outcome.Banned)
		if r.outcome.Banned {
			report.Banned++
		}
		if !r.outcome.Accepted {
			report.Rejected++
			logger.Debug("Rejected %s at %s: %s", r.cand.Address, r.outcome.FailedStep, r.outcome.Reason())
			continue
		}
		report.Accepted++
		cand := r.cand
		safely(cand.Address, func() {
			e.decide(ctx, cand, touched, report)
		})
	}
}

// decide classifies an accepted candidate and buys it when it is a pump.
func (e *Engine) decide(ctx context.Context, cand models.Candidate, touched map[string]struct{}, report *Report) {
	tag := classifier.Classify(cand.Metrics)
	report.Events[tag]++
	observability.RecordEvent(string(tag))

	if err := e.ledger.RecordObservation(ctx, models.Observation{
		Token:      cand.Address,
		Name:       cand.Name,
		Symbol:     cand.Symbol,
		Issuer:     cand.Issuer,
		Metrics:    cand.Metrics,
		EventTag:   tag,
		ObservedAt: cand.ObservedAt,
	}); err != nil {
		logger.Warn("Failed to record observation for %s: %v", cand.Address, err)
	}

	if tag != models.EventPump || !e.cfg.TradingEnabled {
		return
	}
	key := cand.Key()
	if _, ok := touched[key]; ok {
		return
	}
	if _, ok := e.unrecorded[key]; ok {
		return
	}

	existing, err := e.ledger.Get(ctx, cand.Address)
	switch {
	case err == nil:
		logger.Debug("Skipping buy for %s: position already recorded (held=%v)", cand.Address, existing.Held)
		return
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("Skipping buy for %s: ledger lookup failed: %v", cand.Address, err)
		return
	}

	touched[key] = struct{}{}
	tradeCtx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	res, err := e.executor.Buy(tradeCtx, cand.Address)
	cancel()
	if err != nil {
		report.BuyFailed++
		observability.RecordTrade(string(models.SideBuy), "failed")
		logger.Warn("Buy failed for %s, will retry on a later cycle: %v", cand.Address, err)
		e.notify(func(n Notifier) error {
			return n.SendTradeFailed(models.SideBuy, cand.Address, cand.DisplayName(), err)
		})
		return
	}

	report.Bought++
	observability.RecordTrade(string(models.SideBuy), "success")
	logger.WithFields(logger.Fields{
		"token": cand.Address,
		"tag":   tag,
		"tx":    res.TxRef,
	}).Info("Bought token")

	if _, err := e.ledger.Open(ctx, cand.Address, cand.Name, cand.Symbol, tag, res.TxRef); err != nil {
		logger.Error("Bought %s but failed to record position, retrying next cycle: %v", cand.Address, err)
		e.unrecorded[key] = pendingOpen{cand: cand, tag: tag, tx: res.TxRef}
	}
	e.notify(func(n Notifier) error { return n.SendTradeExecuted(cand, res, tag) })
}

// retryUnrecorded writes buys whose ledger write failed on an earlier cycle.
func (e *Engine) retryUnrecorded(ctx context.Context, report *Report) {
	for key, p := range e.unrecorded {
		if _, err := e.ledger.Open(ctx, p.cand.Address, p.cand.Name, p.cand.Symbol, p.tag, p.tx); err != nil {
			logger.Error("Still unable to record position for %s: %v", p.cand.Address, err)
			continue
		}
		delete(e.unrecorded, key)
		report.Recovered++
	}
}

func (e *Engine) maintain(ctx context.Context, touched map[string]struct{}, report *Report) {
	open, err := e.ledger.ListOpen(ctx)
	if err != nil {
		logger.Error("Failed to list open positions: %v", err)
		return
	}
	observability.UpdateOpenPositions(len(open))

	for _, pos := range open {
		key := models.NormalizeID(pos.Token)
		if _, ok := touched[key]; ok {
			report.Held++
			continue
		}
		touched[key] = struct{}{}
		safely(pos.Token, func() {
			if !e.review(ctx, pos, report) {
				report.Held++
			}
		})
	}
}

// review re-prices one held position and sells it on a rug pull. It reports whether the position was closed.
func (e *Engine) review(ctx context.Context, pos models.Position, report *Report) bool {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	m, err := e.market.Metrics(callCtx, pos.Token)
	cancel()
	if err != nil {
		logger.Warn("Failed to refresh metrics for held %s, retrying next cycle: %v", pos.Token, err)
		return false
	}

	tag := classifier.Classify(m)
	if tag != models.EventRugPull {
		return false
	}
	report.Events[tag]++
	observability.RecordEvent(string(tag))

	tradeCtx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	res, err := e.executor.Sell(tradeCtx, pos.Token)
	cancel()
	switch {
	case errors.Is(err, trader.ErrNoBalance):
		logger.Warn("Nothing left to sell for %s, closing position", pos.Token)
		res = &models.TradeResult{Side: models.SideSell, Token: pos.Token, ExecutedAt: time.Now()}
	case err != nil:
		report.SellFailed++
		observability.RecordTrade(string(models.SideSell), "failed")
		logger.Warn("Sell failed for %s, position stays held: %v", pos.Token, err)
		e.notify(func(n Notifier) error {
			return n.SendTradeFailed(models.SideSell, pos.Token, pos.Symbol, err)
		})
		return false
	default:
		observability.RecordTrade(string(models.SideSell), "success")
	}

	closed, err := e.ledger.ClosePosition(ctx, pos.Token, tag, res.TxRef)
	if err != nil {
		logger.Error("Sold %s but failed to close position: %v", pos.Token, err)
		return false
	}
	if !closed {
		logger.Warn("Position for %s was already closed", pos.Token)
		return true
	}

	report.Closed++
	logger.WithFields(logger.Fields{
		"token": pos.Token,
		"tx":    res.TxRef,
	}).Info("Closed position")
	e.notify(func(n Notifier) error { return n.SendPositionClosed(pos, res, m) })
	return true
}

func (e *Engine) notify(send func(Notifier) error) {
	if e.notifier == nil {
		return
	}
	if err := send(e.notifier); err != nil {
		logger.Warn("Failed to send notification: %v", err)
	}
}

// safely runs fn and logs a recovered panic instead of propagating it.
func safely(token string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while processing %s: %v\n%s", token, r, debug.Stack())
		}
	}()
	fn()
}
