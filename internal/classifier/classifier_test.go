package classifier

import (
	"math"
	"testing"

	"github.com/henrisama/dexscreener/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		m    models.Metrics
		want models.EventTag
	}{
		{
			name: "rug pull dominates pump and tier one",
			m:    models.Metrics{Change1h: -95, Change24h: 500, FDV: 5e9},
			want: models.EventRugPull,
		},
		{
			name: "rug pull at exact threshold",
			m:    models.Metrics{Change1h: -90},
			want: models.EventRugPull,
		},
		{
			name: "just above rug pull threshold",
			m:    models.Metrics{Change1h: -89.99},
			want: models.EventNone,
		},
		{
			name: "pump dominates tier one",
			m:    models.Metrics{Change1h: 10, Change24h: 150, FDV: 2e9},
			want: models.EventPump,
		},
		{
			name: "pump at exact threshold",
			m:    models.Metrics{Change24h: 100},
			want: models.EventPump,
		},
		{
			name: "tier one",
			m:    models.Metrics{Change24h: 20, FDV: 1e9},
			want: models.EventTierOne,
		},
		{
			name: "nothing",
			m:    models.Metrics{Change1h: -10, Change24h: 30, FDV: 3e6},
			want: models.EventNone,
		},
		{
			name: "NaN zeroes every input",
			m:    models.Metrics{Change1h: math.NaN(), Change24h: 500, FDV: 5e9},
			want: models.EventNone,
		},
		{
			name: "infinite fdv zeroes every input",
			m:    models.Metrics{Change1h: -99, FDV: math.Inf(1)},
			want: models.EventNone,
		},
		{
			name: "unused fields are ignored",
			m:    models.Metrics{Change24h: 120, Change7d: math.NaN(), PriceUSD: math.NaN()},
			want: models.EventPump,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.m); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
