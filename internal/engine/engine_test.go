package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrisama/dexscreener/internal/blacklist"
	"github.com/henrisama/dexscreener/internal/filter"
	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/rugcheck"
	"github.com/henrisama/dexscreener/internal/solana"
	"github.com/henrisama/dexscreener/internal/storage"
	"github.com/henrisama/dexscreener/internal/trader"
)

// acceptAll accepts every candidate except the ones listed in reject; panicOn panics.
type acceptAll struct {
	mu      sync.Mutex
	reject  map[string]bool
	panicOn string
	calls   int
}

func (s *acceptAll) Screen(_ context.Context, c *models.Candidate) filter.Outcome {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if c.Address == s.panicOn {
		panic("boom")
	}
	if s.reject[c.Address] {
		return filter.Outcome{FailedStep: filter.StepLiquidity, Verdicts: []models.Verdict{{Step: filter.StepLiquidity, Reason: "too small"}}}
	}
	return filter.Outcome{Accepted: true}
}

type fakeMarket struct {
	metrics map[string]models.Metrics
	err     error
}

func (f *fakeMarket) Metrics(_ context.Context, token string) (models.Metrics, error) {
	if f.err != nil {
		return models.Metrics{}, f.err
	}
	m, ok := f.metrics[token]
	if !ok {
		return models.Metrics{}, errors.New("no pairs")
	}
	return m, nil
}

type fakeExecutor struct {
	mu      sync.Mutex
	buys    []string
	sells   []string
	buyErr  error
	sellErr error
}

func (f *fakeExecutor) Buy(_ context.Context, token string) (*models.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, token)
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	return &models.TradeResult{Side: models.SideBuy, Token: token, TxRef: fmt.Sprintf("buy-%d", len(f.buys))}, nil
}

func (f *fakeExecutor) Sell(_ context.Context, token string) (*models.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, token)
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	return &models.TradeResult{Side: models.SideSell, Token: token, TxRef: fmt.Sprintf("sell-%d", len(f.sells))}, nil
}

type fakeNotifier struct {
	executed []string
	failed   []string
	closed   []string
}

func (n *fakeNotifier) SendTradeExecuted(c models.Candidate, _ *models.TradeResult, _ models.EventTag) error {
	n.executed = append(n.executed, c.Address)
	return nil
}

func (n *fakeNotifier) SendTradeFailed(side models.Side, token, _ string, _ error) error {
	n.failed = append(n.failed, string(side)+":"+token)
	return nil
}

func (n *fakeNotifier) SendPositionClosed(p models.Position, _ *models.TradeResult, _ models.Metrics) error {
	n.closed = append(n.closed, p.Token)
	return nil
}

type fakeFeed struct {
	candidates []models.Candidate
	err        error
}

func (f *fakeFeed) FetchCandidates(context.Context) ([]models.Candidate, error) {
	return f.candidates, f.err
}

// failingLedger wraps a ledger and fails Open while failOpen is set.
type failingLedger struct {
	Ledger
	failOpen bool
}

func (l *failingLedger) Open(ctx context.Context, token, name, symbol string, tag models.EventTag, txRef string) (bool, error) {
	if l.failOpen {
		return false, errors.New("disk full")
	}
	return l.Ledger.Open(ctx, token, name, symbol, tag, txRef)
}

func newLedger(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(100, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pump(addr string) models.Candidate {
	return models.Candidate{
		Address: addr,
		Symbol:  strings.ToUpper(addr[:3]),
		ChainID: "solana",
		Metrics: models.Metrics{Change24h: 150, FDV: 5_000_000, Volume24h: 50_000},
	}
}

func quiet(addr string) models.Candidate {
	return models.Candidate{
		Address: addr,
		ChainID: "solana",
		Metrics: models.Metrics{Change24h: 10, FDV: 5_000_000, Volume24h: 50_000},
	}
}

func cfg() Config {
	return Config{TradingEnabled: true, ScreenConcurrency: 3, CallTimeout: time.Second}
}

func TestRunCycle_BuysPumpOnce(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{}
	notifier := &fakeNotifier{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, &fakeMarket{}, ledger, exec, notifier)
	ctx := context.Background()

	batch := []models.Candidate{pump("pumpmint1"), pump("PUMPMINT1"), quiet("quietmint")}
	report := e.RunCycle(ctx, batch)
	assert.Equal(t, 2, report.Candidates, "duplicates in a batch are screened once")
	assert.Equal(t, 1, report.Bought)
	assert.Equal(t, 1, report.Events[models.EventPump])
	assert.Equal(t, 1, report.Events[models.EventNone])

	// the same pump on later cycles is never bought again
	for i := 0; i < 3; i++ {
		report = e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
		assert.Zero(t, report.Bought)
	}
	assert.Equal(t, []string{"pumpmint1"}, exec.buys)
	assert.Equal(t, []string{"pumpmint1"}, notifier.executed)

	open, err := ledger.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "buy-1", open[0].EntryTxRef)

	obs, err := ledger.RecentObservations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, obs, 5, "every accepted candidate is recorded")
}

func TestRunCycle_FailedBuyRetriesNextCycle(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{buyErr: fmt.Errorf("%w: no route", trader.ErrTradeFailed)}
	notifier := &fakeNotifier{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, &fakeMarket{}, ledger, exec, notifier)
	ctx := context.Background()

	report := e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.BuyFailed)
	assert.Equal(t, []string{"buy:pumpmint1"}, notifier.failed)
	_, err := ledger.Get(ctx, "pumpmint1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed buy leaves no ledger record")

	exec.buyErr = nil
	report = e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Bought)
	assert.Len(t, exec.buys, 2)

	pos, err := ledger.Get(ctx, "pumpmint1")
	require.NoError(t, err)
	assert.True(t, pos.Held)
}

func TestRunCycle_TradingDisabled(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{}
	c := cfg()
	c.TradingEnabled = false
	e := New(c, &fakeFeed{}, &acceptAll{}, &fakeMarket{}, ledger, exec, nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Events[models.EventPump])
	assert.Empty(t, exec.buys)
}

func TestRunCycle_RejectedCandidateNotBought(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{}
	screener := &acceptAll{reject: map[string]bool{"pumpmint1": true}}
	e := New(cfg(), &fakeFeed{}, screener, &fakeMarket{}, ledger, exec, nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Rejected)
	assert.Empty(t, exec.buys)
}

func TestRunCycle_SellsRugPull(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)
	_, err = ledger.Open(ctx, "steadymint", "Steady", "STD", models.EventPump, "buy-1")
	require.NoError(t, err)

	market := &fakeMarket{metrics: map[string]models.Metrics{
		"heldmint":   {Change1h: -95, FDV: 10_000},
		"steadymint": {Change1h: 5, FDV: 10_000_000},
	}}
	exec := &fakeExecutor{}
	notifier := &fakeNotifier{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, market, ledger, exec, notifier)

	report := e.RunCycle(ctx, nil)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 1, report.Held)
	assert.Equal(t, []string{"heldmint"}, exec.sells)
	assert.Equal(t, []string{"heldmint"}, notifier.closed)

	pos, err := ledger.Get(ctx, "heldmint")
	require.NoError(t, err)
	assert.False(t, pos.Held)
	assert.Equal(t, "sell-1", pos.ExitTxRef)

	// a closed position is not revisited
	e.RunCycle(ctx, nil)
	assert.Len(t, exec.sells, 1)
}

func TestRunCycle_FailedSellStaysHeld(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)

	market := &fakeMarket{metrics: map[string]models.Metrics{"heldmint": {Change1h: -95}}}
	exec := &fakeExecutor{sellErr: fmt.Errorf("%w: slippage", trader.ErrTradeFailed)}
	notifier := &fakeNotifier{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, market, ledger, exec, notifier)

	report := e.RunCycle(ctx, nil)
	assert.Equal(t, 1, report.SellFailed)
	assert.Equal(t, []string{"sell:heldmint"}, notifier.failed)

	pos, err := ledger.Get(ctx, "heldmint")
	require.NoError(t, err)
	assert.True(t, pos.Held)

	exec.sellErr = nil
	report = e.RunCycle(ctx, nil)
	assert.Equal(t, 1, report.Closed, "sell is retried on the next cycle")
	assert.Len(t, exec.sells, 2)
}

func TestRunCycle_NoBalanceClosesPosition(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)

	market := &fakeMarket{metrics: map[string]models.Metrics{"heldmint": {Change1h: -99}}}
	exec := &fakeExecutor{sellErr: &trader.TradeError{Side: models.SideSell, Token: "heldmint", Err: trader.ErrNoBalance}}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, market, ledger, exec, nil)

	report := e.RunCycle(ctx, nil)
	assert.Equal(t, 1, report.Closed)

	pos, err := ledger.Get(ctx, "heldmint")
	require.NoError(t, err)
	assert.False(t, pos.Held)
	assert.Empty(t, pos.ExitTxRef)
}

func TestRunCycle_MetricsErrorKeepsPosition(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)

	exec := &fakeExecutor{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, &fakeMarket{err: errors.New("timeout")}, ledger, exec, nil)

	report := e.RunCycle(ctx, nil)
	assert.Equal(t, 1, report.Held)
	assert.Empty(t, exec.sells)
}

func TestRunCycle_PanicIsolated(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{}
	screener := &acceptAll{panicOn: "badmint1"}
	e := New(cfg(), &fakeFeed{}, screener, &fakeMarket{}, ledger, exec, nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("badmint1"), pump("goodmint")})
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Bought)
	assert.Equal(t, []string{"goodmint"}, exec.buys)
}

func TestRunCycle_BoughtThisCycleNotSold(t *testing.T) {
	ledger := newLedger(t)
	exec := &fakeExecutor{}
	// held metrics would classify as a rug pull, but the buy happened this cycle
	market := &fakeMarket{metrics: map[string]models.Metrics{"pumpmint1": {Change1h: -95}}}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, market, ledger, exec, nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Bought)
	assert.Empty(t, exec.sells)
	assert.Equal(t, 1, report.Held)
}

func TestRunCycle_UnrecordedBuyRetried(t *testing.T) {
	ledger := &failingLedger{Ledger: newLedger(t), failOpen: true}
	exec := &fakeExecutor{}
	e := New(cfg(), &fakeFeed{}, &acceptAll{}, &fakeMarket{}, ledger, exec, nil)
	ctx := context.Background()

	report := e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Bought)

	// still failing: the bought token must not be bought again
	report = e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
	assert.Zero(t, report.Bought)
	assert.Zero(t, report.Recovered)

	ledger.failOpen = false
	report = e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Recovered)
	assert.Zero(t, report.Bought)
	assert.Len(t, exec.buys, 1)

	pos, err := ledger.Get(ctx, "pumpmint1")
	require.NoError(t, err)
	assert.Equal(t, "buy-1", pos.EntryTxRef)
}

// hangingExecutor never settles a trade on its own and returns once its context ends.
type hangingExecutor struct{}

func (hangingExecutor) Buy(ctx context.Context, _ string) (*models.TradeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingExecutor) Sell(ctx context.Context, _ string) (*models.TradeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunCycle_StuckTradeTimesOut(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)

	market := &fakeMarket{metrics: map[string]models.Metrics{"heldmint": {Change1h: -95}}}
	notifier := &fakeNotifier{}
	c := cfg()
	c.TradeTimeout = 50 * time.Millisecond
	e := New(c, &fakeFeed{}, &acceptAll{}, market, ledger, hangingExecutor{}, notifier)

	done := make(chan Report, 1)
	go func() { done <- e.RunCycle(ctx, []models.Candidate{pump("pumpmint1")}) }()

	var report Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle blocked on a trade that never settles")
	}
	assert.Equal(t, 1, report.BuyFailed)
	assert.Equal(t, 1, report.SellFailed)
	assert.ElementsMatch(t, []string{"buy:pumpmint1", "sell:heldmint"}, notifier.failed)

	pos, err := ledger.Get(ctx, "heldmint")
	require.NoError(t, err)
	assert.True(t, pos.Held, "timed out sell keeps the position")
	_, err = ledger.Get(ctx, "pumpmint1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCycle_FetchErrorStillMaintains(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	_, err := ledger.Open(ctx, "heldmint", "Held", "HLD", models.EventPump, "buy-0")
	require.NoError(t, err)

	market := &fakeMarket{metrics: map[string]models.Metrics{"heldmint": {Change1h: -95}}}
	exec := &fakeExecutor{}
	e := New(cfg(), &fakeFeed{err: errors.New("dexscreener down")}, &acceptAll{}, market, ledger, exec, nil)

	report, err := e.Cycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dexscreener down")
	assert.Equal(t, 1, report.Closed)
}

type noIssuer struct{}

func (noIssuer) Issuer(context.Context, string) (string, error) { return "", solana.ErrIssuerNotFound }

type fixedRisk struct{ score float64 }

func (r fixedRisk) Report(context.Context, string) (*rugcheck.Report, error) {
	return &rugcheck.Report{ScoreNormalised: r.score}, nil
}

type fixedHolders struct{ each, supply int64 }

func (h fixedHolders) Holdings(context.Context, string) (*solana.Holdings, error) {
	b := decimal.NewFromInt(h.each)
	return &solana.Holdings{
		Balances: []decimal.Decimal{b, b, b, b, b},
		Supply:   decimal.NewFromInt(h.supply),
	}, nil
}

func chainConfig() filter.Config {
	return filter.Config{
		MinMarketCap:            1_000_000,
		MinVolume24h:            10_000,
		MaxVolumeMarketCapRatio: 1,
		MaxRiskScore:            50,
		MaxTopHoldersPct:        50,
		TopHolders:              5,
		MinPriceChangeForVolume: 1,
		CallTimeout:             time.Second,
	}
}

func TestEndToEnd_PumpIsBought(t *testing.T) {
	ledger := newLedger(t)
	bl := blacklist.New(nil, nil)
	chain := filter.New(chainConfig(), bl, noIssuer{}, fixedRisk{score: 10}, fixedHolders{each: 100, supply: 10_000})
	e := New(cfg(), &fakeFeed{}, chain, &fakeMarket{}, ledger, trader.NewPaperExecutor(0.005), nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("pumpmint1")})
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Bought)

	open, err := ledger.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pumpmint1", open[0].Token)
	assert.True(t, strings.HasPrefix(open[0].EntryTxRef, "paper-"))
}

func TestEndToEnd_ConcentratedTokenBlacklisted(t *testing.T) {
	ledger := newLedger(t)
	bl := blacklist.New(nil, nil)
	// top five hold 5 x 1240 of 10000 = 62%
	chain := filter.New(chainConfig(), bl, noIssuer{}, fixedRisk{score: 10}, fixedHolders{each: 1240, supply: 10_000})
	exec := &fakeExecutor{}
	e := New(cfg(), &fakeFeed{}, chain, &fakeMarket{}, ledger, exec, nil)

	report := e.RunCycle(context.Background(), []models.Candidate{pump("whalemint")})
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Banned)
	assert.True(t, bl.ContainsToken("WHALEMINT"))
	assert.Empty(t, exec.buys)

	// blacklisted tokens stop at the first step afterwards
	report = e.RunCycle(context.Background(), []models.Candidate{pump("whalemint")})
	assert.Zero(t, report.Banned)
	assert.Equal(t, 1, report.Rejected)
}
