// Package dexscreener fetches newly listed tokens and their market metrics
// from the Dexscreener public API and converts them into typed candidates.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
)

// MaxBatchSize is the most addresses the tokens endpoint accepts per call.
const MaxBatchSize = 30

// ErrNoPairs is returned when a token has no trading pair on the configured chain.
var ErrNoPairs = errors.New("no pairs found")

// Client provides access to the Dexscreener API
type Client struct {
	baseURL    string
	chainID    string
	batchSize  int
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	ChainID        string
	BatchSize      int
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// TokenProfile is an entry of the latest token profiles feed.
type TokenProfile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Description  string `json:"description"`
}

// Pair is a trading pair from the tokens endpoint.
type Pair struct {
	ChainID     string    `json:"chainId"`
	DexID       string    `json:"dexId"`
	URL         string    `json:"url"`
	PairAddress string    `json:"pairAddress"`
	BaseToken   BaseToken `json:"baseToken"`
	PriceUSD    flexFloat `json:"priceUsd"`
	PriceChange struct {
		H1  flexFloat `json:"h1"`
		H24 flexFloat `json:"h24"`
		// D7 is absent on most pairs and then decodes to 0.
		D7  flexFloat `json:"d7"`
	} `json:"priceChange"`
	Volume struct {
		H24 flexFloat `json:"h24"`
	} `json:"volume"`
	FDV           flexFloat `json:"fdv"`
	PairCreatedAt int64     `json:"pairCreatedAt"`
}

type BaseToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type pairsResponse struct {
	Pairs []Pair `json:"pairs"`
}

// flexFloat accepts JSON numbers and numeric strings.
// null or absent decode to 0; anything unparseable decodes to NaN.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// NewClient creates a new Dexscreener client
func NewClient(opts Options) *Client {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		chainID:   opts.ChainID,
		batchSize: opts.BatchSize,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelayBase,
	}
}

// FetchCandidates retrieves the latest token profiles on the configured chain and
// returns one candidate per token, built from its oldest pair.
// Tokens without a pair are dropped.
func (c *Client) FetchCandidates(ctx context.Context) ([]models.Candidate, error) {
	profiles, err := c.FetchProfiles(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var addresses []string
	for _, p := range profiles {
		if !strings.EqualFold(p.ChainID, c.chainID) || p.TokenAddress == "" {
			continue
		}
		key := models.NormalizeID(p.TokenAddress)
		if seen[key] {
			continue
		}
		seen[key] = true
		addresses = append(addresses, p.TokenAddress)
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	now := time.Now()
	var candidates []models.Candidate
	for start := 0; start < len(addresses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		batch := addresses[start:end]

		pairs, err := c.FetchPairs(ctx, batch)
		if err != nil {
			// one failed batch should not drop the rest of the feed
			logger.Warn("Failed to fetch pairs for %d tokens: %v", len(batch), err)
			continue
		}
		oldest := oldestPairs(pairs, c.chainID)
		for _, addr := range batch {
			pair, ok := oldest[models.NormalizeID(addr)]
			if !ok {
				logger.Debug("No %s pair for %s", c.chainID, addr)
				continue
			}
			cand := toCandidate(addr, pair, now)
			if err := cand.Validate(); err != nil {
				logger.Debug("Dropping %s: %v", addr, err)
				continue
			}
			candidates = append(candidates, cand)
		}
	}

	logger.Debug("Built %d candidates from %d profiles", len(candidates), len(profiles))
	return candidates, nil
}

// FetchProfiles retrieves the latest token profiles across all chains.
func (c *Client) FetchProfiles(ctx context.Context) ([]TokenProfile, error) {
	resp, err := c.doRequest(ctx, c.baseURL+"/token-profiles/latest/v1")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token profiles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token profiles returned status %d", resp.StatusCode)
	}

	var profiles []TokenProfile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("failed to decode token profiles: %w", err)
	}
	return profiles, nil
}

// FetchPairs retrieves every pair for up to MaxBatchSize token addresses.
func (c *Client) FetchPairs(ctx context.Context, addresses []string) ([]Pair, error) {
	if len(addresses) > MaxBatchSize {
		return nil, fmt.Errorf("at most %d addresses per request, got %d", MaxBatchSize, len(addresses))
	}
	resp, err := c.doRequest(ctx, c.baseURL+"/latest/dex/tokens/"+strings.Join(addresses, ","))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pairs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pairs returned status %d", resp.StatusCode)
	}

	var body pairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode pairs: %w", err)
	}
	return body.Pairs, nil
}

// Metrics refetches the current metrics of one token from its oldest pair.
func (c *Client) Metrics(ctx context.Context, token string) (models.Metrics, error) {
	pairs, err := c.FetchPairs(ctx, []string{token})
	if err != nil {
		return models.Metrics{}, err
	}
	pair, ok := oldestPairs(pairs, c.chainID)[models.NormalizeID(token)]
	if !ok {
		return models.Metrics{}, fmt.Errorf("%w for %s", ErrNoPairs, token)
	}
	return pairMetrics(pair), nil
}

// oldestPairs keys the oldest pair on chainID by lower-cased base token address.
// A missing creation time sorts last.
func oldestPairs(pairs []Pair, chainID string) map[string]Pair {
	out := make(map[string]Pair)
	for _, p := range pairs {
		if !strings.EqualFold(p.ChainID, chainID) {
			continue
		}
		key := models.NormalizeID(p.BaseToken.Address)
		if key == "" {
			continue
		}
		cur, ok := out[key]
		if !ok || createdAt(p) < createdAt(cur) {
			out[key] = p
		}
	}
	return out
}

func createdAt(p Pair) int64 {
	if p.PairCreatedAt <= 0 {
		return math.MaxInt64
	}
	return p.PairCreatedAt
}

func pairMetrics(p Pair) models.Metrics {
	return models.Metrics{
		PriceUSD:  float64(p.PriceUSD),
		Change1h:  float64(p.PriceChange.H1),
		Change24h: float64(p.PriceChange.H24),
		Change7d:  float64(p.PriceChange.D7),
		Volume24h: float64(p.Volume.H24),
		FDV:       float64(p.FDV),
	}
}

func toCandidate(addr string, p Pair, now time.Time) models.Candidate {
	return models.Candidate{
		Address:     addr,
		Name:        p.BaseToken.Name,
		Symbol:      p.BaseToken.Symbol,
		ChainID:     p.ChainID,
		PairAddress: p.PairAddress,
		URL:         p.URL,
		Metrics:     pairMetrics(p),
		ObservedAt:  now,
	}
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !c.backoff(ctx, i) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if !c.backoff(ctx, i) {
				return nil, ctx.Err()
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff waits (attempt+1) * retryDelay, returning false if ctx ends first.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	t := time.NewTimer(time.Duration(attempt+1) * c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
