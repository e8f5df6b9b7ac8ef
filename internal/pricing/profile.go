package pricing

import (
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// Profile is the immutable broker fee configuration injected into the
// pricing functions. Rates are percentages (0.1 means 0.1%).
type Profile struct {
	Key                string                `json:"key"`
	Name               string                `json:"name"`
	CommissionModel    types.CommissionModel `json:"commission_model"`
	FlatFee            decimal.Decimal       `json:"flat_fee"`
	PercentRate        decimal.Decimal       `json:"percent_rate"`
	MinimumFee         decimal.Decimal       `json:"minimum_fee"`
	MaximumFee         decimal.Decimal       `json:"maximum_fee"`
	SpreadPercent      decimal.Decimal       `json:"spread_percent"`
	OvernightLongRate  decimal.Decimal       `json:"overnight_long_rate"`
	OvernightShortRate decimal.Decimal       `json:"overnight_short_rate"`
}

const DefaultProfileKey = "standard"

var profiles = map[string]Profile{
	// Commission-free, spread-financed: the whole round-trip cost is the
	// spread, so closing at the entry quote loses exactly twice the per-leg
	// fees.
	"standard": {
		Key:                "standard",
		Name:               "Standard Broker",
		CommissionModel:    types.CommissionModelFlat,
		FlatFee:            decimal.Zero,
		SpreadPercent:      decimal.NewFromFloat(0.1),
		OvernightLongRate:  decimal.NewFromFloat(0.0082),
		OvernightShortRate: decimal.NewFromFloat(0.0057),
	},
	"classic": {
		Key:                "classic",
		Name:               "Classic Broker",
		CommissionModel:    types.CommissionModelFlat,
		FlatFee:            decimal.NewFromFloat(4.9),
		SpreadPercent:      decimal.NewFromFloat(0.08),
		OvernightLongRate:  decimal.NewFromFloat(0.0075),
		OvernightShortRate: decimal.NewFromFloat(0.0055),
	},
	"discount": {
		Key:                "discount",
		Name:               "Discount Broker",
		CommissionModel:    types.CommissionModelPercentage,
		PercentRate:        decimal.NewFromFloat(0.05),
		MinimumFee:         decimal.NewFromInt(1),
		MaximumFee:         decimal.NewFromInt(50),
		SpreadPercent:      decimal.NewFromFloat(0.05),
		OvernightLongRate:  decimal.NewFromFloat(0.0065),
		OvernightShortRate: decimal.NewFromFloat(0.005),
	},
	"premium": {
		Key:                "premium",
		Name:               "Premium Broker",
		CommissionModel:    types.CommissionModelMixed,
		FlatFee:            decimal.NewFromInt(2),
		PercentRate:        decimal.NewFromFloat(0.02),
		MinimumFee:         decimal.NewFromInt(2),
		MaximumFee:         decimal.NewFromInt(25),
		SpreadPercent:      decimal.NewFromFloat(0.02),
		OvernightLongRate:  decimal.NewFromFloat(0.005),
		OvernightShortRate: decimal.NewFromFloat(0.004),
	},
}

// ProfileByKey returns the broker profile for key, falling back to the
// standard profile when the key is unknown.
func ProfileByKey(key string) Profile {
	if p, ok := profiles[key]; ok {
		return p
	}
	return profiles[DefaultProfileKey]
}

func ProfileKeys() []string {
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	return keys
}
