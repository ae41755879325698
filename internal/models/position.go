package models

import (
	"time"
)

// EventTag is the lifecycle event derived from a token's market metrics.
type EventTag string

const (
	EventNone    EventTag = "none"
	EventRugPull EventTag = "rug_pull"
	EventPump    EventTag = "pump"
	EventTierOne EventTag = "tier_one"
)

// ParseEventTag maps a stored string back to a tag. Unknown values become EventNone.
func ParseEventTag(s string) EventTag {
	switch EventTag(s) {
	case EventRugPull, EventPump, EventTierOne:
		return EventTag(s)
	default:
		return EventNone
	}
}

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Verdict is the result of a single risk evaluator.
type Verdict struct {
	Step   string
	Passed bool
	Reason string
}

// Position is the durable record of a token the bot bought.
// Held only ever moves from true to false; records are never deleted.
type Position struct {
	ID         string     `json:"id"`
	Token      string     `json:"token"`
	Name       string     `json:"name"`
	Symbol     string     `json:"symbol"`
	EventTag   EventTag   `json:"event_tag"`
	Held       bool       `json:"held"`
	EntryTxRef string     `json:"entry_tx"`
	ExitTxRef  string     `json:"exit_tx,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Observation is a history row for a candidate that passed screening.
type Observation struct {
	Token      string
	Name       string
	Symbol     string
	Issuer     string
	Metrics    Metrics
	EventTag   EventTag
	ObservedAt time.Time
}

// TradeResult reports a confirmed trade.
type TradeResult struct {
	Side       Side
	Token      string
	TxRef      string
	AmountIn   string
	ExecutedAt time.Time
}
