package snapshot

import (
	"time"

	"stratbook/internal/event"
)

// OrderSnapshot is the derived latest-state aggregate for one order.
// Created on the first OE_NEW journal for the order id, mutated by every
// subsequent order or fill journal, never deleted (archival).
// Invariant: FilledQty + CxledQty <= Order.Qty except during the single
// tick where an over-fill is detected and the strategy is paused.
type OrderSnapshot struct {
	ID                string
	Order             event.OrderBrief
	FilledQty         int64
	AvgFillPx         float64
	FillNotional      float64
	CxledQty          int64
	AvgCxledPx        float64
	CxledNotional     float64
	LastUpdateFillQty int64
	LastUpdateFillPx  float64
	Status            event.OrderStatus
	CreateTime        time.Time
	LastUpdateTime    time.Time
	Version           int64
}

// VacantQty returns the quantity still open to fill or cancel.
func (o *OrderSnapshot) VacantQty() int64 {
	return o.Order.Qty - o.FilledQty
}

// SymbolSideSnapshot aggregates all orders of one (symbol, side) for the
// strategy. Updated additively on every order/fill event; deleted only when
// the strategy unloads.
type SymbolSideSnapshot struct {
	ID                 string
	Security           string
	Side               event.Side
	TotalQty           int64
	AvgPx              float64
	TotalFilledQty     int64
	AvgFillPx          float64
	TotalFillNotional  float64
	TotalCxledQty      int64
	AvgCxledPx         float64
	TotalCxledNotional float64
	OrderCount         int64
	LastUpdateFillQty  int64
	LastUpdateFillPx   float64
	LastUpdateTime     time.Time
	Version            int64
}

// PairSideBrief is the limits-consumption view of one leg.
type PairSideBrief struct {
	Security                             string
	Side                                 event.Side
	LastUpdateTime                       time.Time
	ResidualQty                          int64
	IndicativeConsumableResidual         float64
	AllBrokerCxledQty                    int64
	OpenQty                              int64
	OpenNotional                         float64
	ConsumableOpenNotional               float64
	ConsumableNotional                   float64
	ConsumableConcentration              float64
	ConsumableCxlQty                     float64
	IndicativeConsumableParticipationQty float64
}

// StratBrief is the per-strategy limits-consumption view: one PairSideBrief
// per leg plus the single cross-leg net-filled consumable.
type StratBrief struct {
	ID                           string
	Buy                          PairSideBrief
	Sell                         PairSideBrief
	ConsumableNettFilledNotional float64
	Version                      int64
}

// LegFor returns the leg brief for the given side.
func (b *StratBrief) LegFor(side event.Side) *PairSideBrief {
	if side == event.SideSell {
		return &b.Sell
	}
	return &b.Buy
}

// ResidualPart is the net unhedged exposure between the two legs, assigned
// to whichever leg currently carries the larger signed notional.
type ResidualPart struct {
	Security         string
	ResidualNotional float64
}

// StratStatusSide holds the per-side running totals of StratStatus.
type StratStatusSide struct {
	TotalQty          int64
	AvgPx             float64
	TotalNotional     float64
	TotalOpenQty      int64
	AvgOpenPx         float64
	TotalOpenNotional float64
	TotalFillQty      int64
	AvgFillPx         float64
	TotalFillNotional float64
	TotalCxlQty       int64
	AvgCxlPx          float64
	TotalCxlNotional  float64
}

// StratStatus is the per-strategy running-totals aggregate and the control
// surface: writing StratStatePaused to State halts order flow externally.
type StratStatus struct {
	ID                string
	Buy               StratStatusSide
	Sell              StratStatusSide
	TotalOrderQty     int64
	TotalOpenExposure float64
	TotalFillExposure float64
	TotalCxlExposure  float64
	TotalExposure     float64
	BalanceNotional   float64
	Residual          ResidualPart
	State             event.StratState
	LastUpdateTime    time.Time
	Version           int64
}

// SideFor returns the side totals for the given side.
func (s *StratStatus) SideFor(side event.Side) *StratStatusSide {
	if side == event.SideSell {
		return &s.Sell
	}
	return &s.Buy
}

// CancelRateLimit is the cancel-rate breach policy.
type CancelRateLimit struct {
	MaxCancelRate   float64
	WaivedMinOrders int64
}

// ParticipationLimit is the market-participation policy.
type ParticipationLimit struct {
	MaxParticipationRate float64
	ApplicableWindow     time.Duration
}

// ResidualRestriction is the residual-exposure policy.
type ResidualRestriction struct {
	MaxResidual float64
}

// StratLimits is the per-strategy configuration entity. Read-only from the
// engine's perspective after creation.
type StratLimits struct {
	ID                       string
	MaxSingleLegNotional     float64
	MaxOpenSingleLegNotional float64
	MaxNetFilledNotional     float64
	MaxConcentration         float64
	CancelRate               CancelRateLimit
	MarketParticipation      ParticipationLimit
	Residual                 ResidualRestriction
	Version                  int64
}

// PortfolioStatusDelta is the signed cross-strategy aggregate contribution of
// one cascade: positive notional on a new order, negative on the unfilled
// remainder of a cancel/reject, and a separate fill-notional delta on fills.
// The portfolio-level aggregator applies it as overall_notional += delta.
type PortfolioStatusDelta struct {
	StratID                      string
	OverallBuyNotionalDelta      float64
	OverallSellNotionalDelta     float64
	OverallBuyFillNotionalDelta  float64
	OverallSellFillNotionalDelta float64
}

// IsZero reports whether the delta carries no change.
func (d PortfolioStatusDelta) IsZero() bool {
	return d.OverallBuyNotionalDelta == 0 && d.OverallSellNotionalDelta == 0 &&
		d.OverallBuyFillNotionalDelta == 0 && d.OverallSellFillNotionalDelta == 0
}
