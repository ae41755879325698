// Package models defines the core domain entities: candidates, positions, and event tags.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Metrics holds the market figures the pipeline consumes for one token.
// Percent changes are expressed in percent (150 means +150%).
// A NaN value means the feed returned something that could not be parsed.
type Metrics struct {
	PriceUSD  float64 `json:"price_usd"`
	Change1h  float64 `json:"change_1h"`
	Change24h float64 `json:"change_24h"`
	Change7d  float64 `json:"change_7d"`
	Volume24h float64 `json:"volume_24h"`
	FDV       float64 `json:"fdv"`
}

// Finite reports whether v is a usable number.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Candidate is a token observed in the latest feed poll.
// It is rebuilt every cycle and never persisted verbatim.
type Candidate struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	ChainID     string    `json:"chain_id"`
	PairAddress string    `json:"pair_address,omitempty"`
	URL         string    `json:"url,omitempty"`
	Metrics     Metrics   `json:"metrics"`
	Issuer      string    `json:"issuer,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Key returns the case-normalized identifier used for blacklist and ledger lookups.
func (c *Candidate) Key() string {
	return NormalizeID(c.Address)
}

// DisplayName returns the symbol, falling back to the name and then the address.
func (c *Candidate) DisplayName() string {
	switch {
	case c.Symbol != "":
		return c.Symbol
	case c.Name != "":
		return c.Name
	default:
		return c.Address
	}
}

// Validate checks the fields every later stage relies on.
// Metric values are not checked here: the filter chain fails closed on them.
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("candidate address must not be empty")
	}
	if c.ChainID == "" {
		return errors.New("candidate chain must not be empty")
	}
	if c.ObservedAt.After(time.Now().Add(time.Minute)) {
		return errors.New("observed at must not be in the future")
	}
	return nil
}

// NormalizeID lower-cases and trims an identifier for exact-match comparisons.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
