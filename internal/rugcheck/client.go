// Package rugcheck fetches token risk reports from the RugCheck API.
package rugcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LevelDanger is the highest risk tier reported by RugCheck.
const LevelDanger = "danger"

// Client provides access to the RugCheck API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// Risk is a single finding in a report.
type Risk struct {
	Name        string  `json:"name"`
	Level       string  `json:"level"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
	Value       string  `json:"value"`
}

// Report is the summary report for one mint.
type Report struct {
	Score           float64 `json:"score"`
	ScoreNormalised float64 `json:"score_normalised"`
	Risks           []Risk  `json:"risks"`
}

// Dangerous returns the danger-level risks whose names are not in ignored.
// Names are compared case-insensitively.
func (r *Report) Dangerous(ignored []string) []Risk {
	skip := make(map[string]bool, len(ignored))
	for _, name := range ignored {
		skip[strings.ToLower(strings.TrimSpace(name))] = true
	}
	var out []Risk
	for _, risk := range r.Risks {
		if !strings.EqualFold(risk.Level, LevelDanger) {
			continue
		}
		if skip[strings.ToLower(strings.TrimSpace(risk.Name))] {
			continue
		}
		out = append(out, risk)
	}
	return out
}

// NewClient creates a new RugCheck client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(maxRetries int, delay time.Duration) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	c.retryDelay = delay
	return c
}

// Report retrieves the risk summary for mint.
func (c *Client) Report(ctx context.Context, mint string) (*Report, error) {
	u := fmt.Sprintf("%s/v1/tokens/%s/report/summary", c.baseURL, url.PathEscape(mint))

	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report for %s: %w", mint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rugcheck returned status %d for %s", resp.StatusCode, mint)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
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
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Duration(i+1)*c.retryDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if !sleepCtx(ctx, time.Duration(i+1)*c.retryDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
