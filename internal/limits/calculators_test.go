package limits

import (
	"math"
	"testing"
)

func TestIncrementalAvg(t *testing.T) {
	tests := []struct {
		name     string
		oldAvg   float64
		newVal   float64
		newCount int64
		want     float64
	}{
		{"first value", 0, 150, 1, 150},
		{"second value", 150, 160, 2, 155},
		{"third value", 155, 170, 3, 160},
		{"zero count", 100, 50, 0, 0},
		{"negative count", 100, 50, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IncrementalAvg(tt.oldAvg, tt.newVal, tt.newCount); got != tt.want {
				t.Errorf("IncrementalAvg = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotionalAvg(t *testing.T) {
	if got := NotionalAvg(15000, 100); got != 150 {
		t.Errorf("NotionalAvg = %v, want 150", got)
	}
	if got := NotionalAvg(15000, 0); got != 0 {
		t.Errorf("NotionalAvg with zero qty = %v, want 0 (no NaN)", got)
	}
}

func TestConsumables(t *testing.T) {
	if got := ConsumableNotional(100_000, 30_000, 20_000); got != 50_000 {
		t.Errorf("ConsumableNotional = %v, want 50000", got)
	}
	if got := ConsumableOpenNotional(50_000, 20_000); got != 30_000 {
		t.Errorf("ConsumableOpenNotional = %v, want 30000", got)
	}
	// Over-consumed budgets go negative, they are not clamped.
	if got := ConsumableNotional(10_000, 8_000, 5_000); got != -3_000 {
		t.Errorf("ConsumableNotional over budget = %v, want -3000", got)
	}
}

func TestConsumableConcentration(t *testing.T) {
	// float 1M, max 5% -> budget 50k, consumed 30k open + 10k filled.
	if got := ConsumableConcentration(1_000_000, 5, 30_000, 10_000); got != 10_000 {
		t.Errorf("ConsumableConcentration = %v, want 10000", got)
	}
	if got := ConsumableConcentration(0, 5, 100, 100); got != 0 {
		t.Errorf("unknown float must yield 0, got %v", got)
	}
	if got := ConsumableConcentration(-1, 5, 100, 100); got != 0 {
		t.Errorf("negative float must yield 0, got %v", got)
	}
}

func TestConsumableCxlQty(t *testing.T) {
	// (40+40+20)/100 * 30 = 30 budget, 20 cancelled -> 10 left.
	if got := ConsumableCxlQty(40, 40, 20, 30); got != 10 {
		t.Errorf("ConsumableCxlQty = %v, want 10", got)
	}
	// Breach goes negative.
	if got := ConsumableCxlQty(10, 10, 80, 30); got != -50 {
		t.Errorf("ConsumableCxlQty breach = %v, want -50", got)
	}
}

func TestIndicativeParticipationQty(t *testing.T) {
	// 1M traded, 10% cap -> 100k budget, 30k consumed.
	if got := IndicativeParticipationQty(1_000_000, 10, 20_000, 10_000); got != 70_000 {
		t.Errorf("IndicativeParticipationQty = %v, want 70000", got)
	}
}

func TestNettFilledNotionalConsumable(t *testing.T) {
	if got := NettFilledNotionalConsumable(50_000, 30_000, 20_000); got != 40_000 {
		t.Errorf("NettFilledNotionalConsumable = %v, want 40000", got)
	}
	// Symmetric in the legs.
	if got := NettFilledNotionalConsumable(50_000, 20_000, 30_000); got != 40_000 {
		t.Errorf("NettFilledNotionalConsumable reversed = %v, want 40000", got)
	}
}

func TestComputeResidual(t *testing.T) {
	tests := []struct {
		name         string
		qtyA         int64
		pxA          float64
		qtyB         int64
		pxB          float64
		wantSecurity string
		wantNotional float64
	}{
		{"a heavier", 100, 150, 10, 300, "A", 12_000},
		{"b heavier", 10, 150, 100, 300, "B", 28_500},
		{"balanced", 100, 150, 50, 300, "A", 0},
		{"both empty", 0, 0, 0, 0, "A", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ComputeResidual("A", tt.qtyA, tt.pxA, "B", tt.qtyB, tt.pxB)
			if r.Security != tt.wantSecurity {
				t.Errorf("security = %s, want %s", r.Security, tt.wantSecurity)
			}
			if r.Notional != tt.wantNotional {
				t.Errorf("notional = %v, want %v", r.Notional, tt.wantNotional)
			}
		})
	}
}

func TestComputeResidualNeverNaN(t *testing.T) {
	r := ComputeResidual("A", 100, math.NaN(), "B", 0, 0)
	if math.IsNaN(r.Notional) {
		t.Fatal("residual notional must never be NaN")
	}
	if r.Notional != 0 {
		t.Errorf("NaN input must floor to 0, got %v", r.Notional)
	}
}

func TestBalanceNotional(t *testing.T) {
	if got := BalanceNotional(100_000, 30_000, 40_000); got != 70_000 {
		t.Errorf("BalanceNotional = %v, want 70000", got)
	}
	if got := BalanceNotional(100_000, 0, 0); got != 100_000 {
		t.Errorf("BalanceNotional empty = %v, want 100000", got)
	}
}
