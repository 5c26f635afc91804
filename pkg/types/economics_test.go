package types

import (
	"math/big"
	"testing"
)

func TestTierSchedule_Parse(t *testing.T) {
	s := DefaultTierSchedule()
	if err := s.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for i, threshold := range s.Thresholds() {
		if threshold == nil {
			t.Fatalf("threshold %d not parsed", i)
		}
	}
}

func TestTierSchedule_Parse_NotAscending(t *testing.T) {
	s := TierSchedule{ThresholdStrings: [5]string{"100", "200", "200", "400", "500"}}
	if err := s.Parse(); err == nil {
		t.Error("expected error for non-ascending thresholds")
	}
}

func TestTierSchedule_Parse_Invalid(t *testing.T) {
	s := TierSchedule{ThresholdStrings: [5]string{"100", "abc", "300", "400", "500"}}
	if err := s.Parse(); err == nil {
		t.Error("expected error for non-numeric threshold")
	}
}

func TestTierSchedule_TierFor(t *testing.T) {
	s := TierSchedule{ThresholdStrings: [5]string{"100", "1000", "10000", "100000", "1000000"}}
	if err := s.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cases := []struct {
		amount string
		want   OrderTier
	}{
		{"1", OrderTier1},
		{"99", OrderTier1},
		{"100", OrderTier2}, // boundary: strict-less-than pushes it past the first threshold
		{"101", OrderTier2},
		{"999", OrderTier2},
		{"1000", OrderTier3},
		{"9999", OrderTier3},
		{"10000", OrderTier4},
		{"100000", OrderTier5},
		{"999999", OrderTier5},
		{"1000000", OrderTier5}, // at and above the top threshold stays top tier
		{"123456789012", OrderTier5},
	}

	for _, tc := range cases {
		amount, _ := new(big.Int).SetString(tc.amount, 10)
		got := s.TierFor(amount)
		if got != tc.want {
			t.Errorf("TierFor(%s) = %v, want %v", tc.amount, got, tc.want)
		}
	}
}

func TestTierSchedule_TierFor_Monotonic(t *testing.T) {
	s := DefaultTierSchedule()
	if err := s.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	prev := OrderTier1
	amount := big.NewInt(1)
	step, _ := new(big.Int).SetString("50000000", 10)
	for i := 0; i < 50000; i++ {
		tier := s.TierFor(amount)
		if tier < prev {
			t.Fatalf("tier decreased from %v to %v at amount %s", prev, tier, amount)
		}
		prev = tier
		amount = new(big.Int).Add(amount, step)
	}
}

func TestFeeConfig_Validate(t *testing.T) {
	f := DefaultFeeConfig()
	if err := f.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	f = DefaultFeeConfig()
	f.ProtocolFeeBps = MaxBPS
	if err := f.Validate(); err == nil {
		t.Error("expected error for protocol fee at denominator")
	}

	f = DefaultFeeConfig()
	f.IntegratorMinBps = 3000
	f.IntegratorMaxBps = 2000
	if err := f.Validate(); err == nil {
		t.Error("expected error for inverted integrator fee range")
	}

	f = DefaultFeeConfig()
	f.ProtocolFeeBps = 60_000
	f.IntegratorMaxBps = 50_000
	if err := f.Validate(); err == nil {
		t.Error("expected error when fees consume the full amount")
	}
}

func TestOrderTier_IsValid(t *testing.T) {
	if OrderTier(0).IsValid() {
		t.Error("tier 0 should be invalid")
	}
	if OrderTier(6).IsValid() {
		t.Error("tier 6 should be invalid")
	}
	for tier := OrderTier1; tier <= OrderTier5; tier++ {
		if !tier.IsValid() {
			t.Errorf("tier %v should be valid", tier)
		}
	}
}
