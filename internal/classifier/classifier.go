// Package classifier maps a token's market metrics to a lifecycle event.
package classifier

import (
	"github.com/henrisama/dexscreener/internal/models"
)

// Event thresholds. Percent values are in percent, FDV in USD.
const (
	RugPullChange1h = -90.0
	PumpChange24h   = 100.0
	TierOneFDV      = 1_000_000_000.0
)

// Classify returns the highest-priority event matching m:
// rug_pull, then pump, then tier_one, else none.
// If any of the three inputs is not a finite number, all three are treated as zero.
func Classify(m models.Metrics) models.EventTag {
	change1h, change24h, fdv := m.Change1h, m.Change24h, m.FDV
	if !models.Finite(change1h) || !models.Finite(change24h) || !models.Finite(fdv) {
		change1h, change24h, fdv = 0, 0, 0
	}

	switch {
	case change1h <= RugPullChange1h:
		return models.EventRugPull
	case change24h >= PumpChange24h:
		return models.EventPump
	case fdv >= TierOneFDV:
		return models.EventTierOne
	default:
		return models.EventNone
	}
}
