// Package limits holds the pure consumable/residual calculators. Every
// function computes a derived figure from current snapshots and configured
// limits only. No I/O, no stored state.
package limits

import "math"

// IncrementalAvg folds one new value into a running average:
// new_avg = old_avg + (new_val - old_avg) / new_count.
func IncrementalAvg(oldAvg, newVal float64, newCount int64) float64 {
	if newCount <= 0 {
		return 0
	}
	return oldAvg + (newVal-oldAvg)/float64(newCount)
}

// NotionalAvg recomputes an average price from running notional and quantity
// totals, guarding divide-by-zero to 0 (never NaN, never a panic).
func NotionalAvg(totalNotional float64, totalQty int64) float64 {
	if totalQty == 0 {
		return 0
	}
	return totalNotional / float64(totalQty)
}

// ConsumableNotional is the single-leg notional budget still available:
// max_single_leg_notional - total_fill_notional - open_notional.
func ConsumableNotional(maxSingleLegNotional, totalFillNotional, openNotional float64) float64 {
	return maxSingleLegNotional - totalFillNotional - openNotional
}

// ConsumableOpenNotional is the open-notional budget still available.
func ConsumableOpenNotional(maxOpenSingleLegNotional, openNotional float64) float64 {
	return maxOpenSingleLegNotional - openNotional
}

// ConsumableConcentration is the concentration budget still available:
// (security_float/100)*max_concentration - (open_qty + total_filled_qty).
// An unknown float yields 0; concentration cannot be consumed blind.
func ConsumableConcentration(securityFloat, maxConcentration float64, openQty, totalFilledQty int64) float64 {
	if securityFloat <= 0 {
		return 0
	}
	return securityFloat/100*maxConcentration - float64(openQty+totalFilledQty)
}

// ConsumableCxlQty is the cancel-rate budget still available:
// ((filled+open+cancelled)/100 * max_cancel_rate) - cancelled.
func ConsumableCxlQty(filledQty, openQty, cxledQty int64, maxCancelRate float64) float64 {
	return float64(filledQty+openQty+cxledQty)/100*maxCancelRate - float64(cxledQty)
}

// IndicativeParticipationQty is the participation budget still available,
// computed against the market volume traded over the applicable window:
// (window_traded_qty/100 * max_participation_rate) - (open + filled).
func IndicativeParticipationQty(windowTradedQty int64, maxParticipationRate float64, openQty, filledQty int64) float64 {
	return float64(windowTradedQty)/100*maxParticipationRate - float64(openQty+filledQty)
}

// NettFilledNotionalConsumable spans both legs:
// max_net_filled_notional - |fill_notional_leg_a - fill_notional_leg_b|.
func NettFilledNotionalConsumable(maxNetFilledNotional, fillNotionalLegA, fillNotionalLegB float64) float64 {
	return maxNetFilledNotional - math.Abs(fillNotionalLegA-fillNotionalLegB)
}

// Residual is the net unhedged exposure between the two legs.
type Residual struct {
	// Security of the leg currently carrying the larger signed notional.
	Security string
	// Notional is |residual_qty_a * usd_px_a - residual_qty_b * usd_px_b|,
	// zero-floored: residual notional is never negative and never NaN.
	Notional float64
}

// ComputeResidual computes the residual between two legs from their residual
// quantities and USD last-trade prices. The residual is assigned to the leg
// with the larger signed notional; equal notionals (incl. both zero) go to
// leg A with notional 0.
func ComputeResidual(securityA string, residualQtyA int64, usdPxA float64,
	securityB string, residualQtyB int64, usdPxB float64) Residual {

	notionalA := float64(residualQtyA) * usdPxA
	notionalB := float64(residualQtyB) * usdPxB

	notional := math.Abs(notionalA - notionalB)
	if math.IsNaN(notional) || notional < 0 {
		notional = 0
	}

	security := securityA
	if notionalB > notionalA {
		security = securityB
	}

	return Residual{Security: security, Notional: notional}
}

// BalanceNotional is the strategy's remaining single-leg budget after the
// lesser-filled side: max_single_leg_notional - min(fill_buy, fill_sell).
func BalanceNotional(maxSingleLegNotional, fillBuyNotional, fillSellNotional float64) float64 {
	return maxSingleLegNotional - math.Min(fillBuyNotional, fillSellNotional)
}
