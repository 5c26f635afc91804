package types

import (
	"fmt"
	"math/big"
)

// MaxBPS is the basis-point denominator used for every fee computation.
// 1 bps = 0.001%, so a fee of 100_000 bps is the whole amount.
const MaxBPS = 100_000

// OrderTier buckets orders by size. Routing policy upstream of the
// settlement core uses the tier to bound which providers are polled.
type OrderTier uint8

const (
	OrderTier1 OrderTier = 1
	OrderTier2 OrderTier = 2
	OrderTier3 OrderTier = 3
	OrderTier4 OrderTier = 4
	OrderTier5 OrderTier = 5
)

// String returns the display name of the tier.
func (t OrderTier) String() string {
	return fmt.Sprintf("tier-%d", uint8(t))
}

// IsValid checks if the tier is one of the five defined buckets.
func (t OrderTier) IsValid() bool {
	return t >= OrderTier1 && t <= OrderTier5
}

// TierSchedule holds the five ascending amount thresholds that bound the
// order tiers. Threshold comparison is strict-less-than: an amount equal
// to a threshold does not qualify for the tier that threshold closes.
type TierSchedule struct {
	// String representations for config round-tripping; parsed lazily
	ThresholdStrings [5]string `yaml:"thresholds" json:"thresholds"`

	thresholds [5]*big.Int
}

// Parse converts the configured threshold strings to big integers and
// verifies they are positive and strictly ascending.
func (s *TierSchedule) Parse() error {
	var prev *big.Int
	for i, raw := range s.ThresholdStrings {
		v := new(big.Int)
		if _, ok := v.SetString(raw, 10); !ok {
			return fmt.Errorf("invalid tier threshold %d: %q", i+1, raw)
		}
		if v.Sign() <= 0 {
			return fmt.Errorf("tier threshold %d must be positive, got %s", i+1, v)
		}
		if prev != nil && v.Cmp(prev) <= 0 {
			return fmt.Errorf("tier thresholds must be strictly ascending: threshold %d (%s) <= threshold %d (%s)", i+1, v, i, prev)
		}
		s.thresholds[i] = v
		prev = v
	}
	return nil
}

// Thresholds returns the parsed thresholds. Parse must have been called.
func (s *TierSchedule) Thresholds() [5]*big.Int {
	return s.thresholds
}

// TierFor maps an order amount to its tier: the first threshold strictly
// exceeding the amount names the tier, and anything at or above the top
// threshold lands in the top tier.
func (s *TierSchedule) TierFor(amount *big.Int) OrderTier {
	for i, threshold := range s.thresholds {
		if threshold != nil && amount.Cmp(threshold) < 0 {
			return OrderTier(i + 1)
		}
	}
	return OrderTier5
}

// DefaultTierSchedule returns the default tier thresholds, denominated in
// the asset's smallest unit (6 decimals for the default stablecoin assets).
func DefaultTierSchedule() TierSchedule {
	return TierSchedule{
		ThresholdStrings: [5]string{
			"100000000",     // 100
			"1000000000",    // 1,000
			"10000000000",   // 10,000
			"100000000000",  // 100,000
			"1000000000000", // 1,000,000
		},
	}
}

// FeeConfig bounds every fee the settlement core applies or accepts.
// All values are basis points of MaxBPS.
type FeeConfig struct {
	ProtocolFeeBps    uint64 `yaml:"protocol_fee_bps" json:"protocol_fee_bps"`         // Protocol cut on settlement
	MaxProviderFeeBps uint64 `yaml:"max_provider_fee_bps" json:"max_provider_fee_bps"` // Ceiling for provider intent fee ranges
	IntegratorMinBps  uint64 `yaml:"integrator_min_bps" json:"integrator_min_bps"`     // Floor for integrator fees
	IntegratorMaxBps  uint64 `yaml:"integrator_max_bps" json:"integrator_max_bps"`     // Ceiling for integrator fees
	MaxNameLength     int    `yaml:"max_name_length" json:"max_name_length"`           // Integrator display name bound
}

// DefaultFeeConfig returns the default fee configuration.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		ProtocolFeeBps:    100,  // 0.1%
		MaxProviderFeeBps: 5000, // 5%
		IntegratorMinBps:  0,
		IntegratorMaxBps:  2500, // 2.5%
		MaxNameLength:     64,
	}
}

// Validate checks the fee configuration for internal consistency.
func (f *FeeConfig) Validate() error {
	if f.ProtocolFeeBps >= MaxBPS {
		return fmt.Errorf("protocol_fee_bps %d must be below %d", f.ProtocolFeeBps, MaxBPS)
	}
	if f.MaxProviderFeeBps >= MaxBPS {
		return fmt.Errorf("max_provider_fee_bps %d must be below %d", f.MaxProviderFeeBps, MaxBPS)
	}
	if f.IntegratorMinBps > f.IntegratorMaxBps {
		return fmt.Errorf("integrator_min_bps %d exceeds integrator_max_bps %d", f.IntegratorMinBps, f.IntegratorMaxBps)
	}
	if f.IntegratorMaxBps >= MaxBPS {
		return fmt.Errorf("integrator_max_bps %d must be below %d", f.IntegratorMaxBps, MaxBPS)
	}
	if f.MaxNameLength <= 0 {
		return fmt.Errorf("max_name_length must be positive, got %d", f.MaxNameLength)
	}
	// The protocol cut plus the largest permitted integrator fee must leave
	// something for the provider on every settlement.
	if f.ProtocolFeeBps+f.IntegratorMaxBps >= MaxBPS {
		return fmt.Errorf("protocol_fee_bps + integrator_max_bps = %d leaves nothing to settle", f.ProtocolFeeBps+f.IntegratorMaxBps)
	}
	return nil
}
