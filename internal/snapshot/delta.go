package snapshot

import (
	"time"

	"stratbook/internal/event"
)

// Typed deltas: each entity has a delta struct whose fields are all optional.
// Apply only overwrites fields that are provided, bumping the entity version.
// These replace ad-hoc JSON partial-update payloads end to end: the same
// delta value drives the store partial_update and the cache merge.

// OrderSnapshotDelta is a partial update against an OrderSnapshot.
type OrderSnapshotDelta struct {
	FilledQty         *int64
	AvgFillPx         *float64
	FillNotional      *float64
	CxledQty          *int64
	AvgCxledPx        *float64
	CxledNotional     *float64
	LastUpdateFillQty *int64
	LastUpdateFillPx  *float64
	Status            *event.OrderStatus
	LastUpdateTime    *time.Time
}

// Apply merges the delta into the snapshot, overwriting provided fields only.
func (d OrderSnapshotDelta) Apply(o *OrderSnapshot) {
	if d.FilledQty != nil {
		o.FilledQty = *d.FilledQty
	}
	if d.AvgFillPx != nil {
		o.AvgFillPx = *d.AvgFillPx
	}
	if d.FillNotional != nil {
		o.FillNotional = *d.FillNotional
	}
	if d.CxledQty != nil {
		o.CxledQty = *d.CxledQty
	}
	if d.AvgCxledPx != nil {
		o.AvgCxledPx = *d.AvgCxledPx
	}
	if d.CxledNotional != nil {
		o.CxledNotional = *d.CxledNotional
	}
	if d.LastUpdateFillQty != nil {
		o.LastUpdateFillQty = *d.LastUpdateFillQty
	}
	if d.LastUpdateFillPx != nil {
		o.LastUpdateFillPx = *d.LastUpdateFillPx
	}
	if d.Status != nil {
		o.Status = *d.Status
	}
	if d.LastUpdateTime != nil {
		o.LastUpdateTime = *d.LastUpdateTime
	}
	o.Version++
}

// SymbolSideSnapshotDelta is a partial update against a SymbolSideSnapshot.
type SymbolSideSnapshotDelta struct {
	TotalQty           *int64
	AvgPx              *float64
	TotalFilledQty     *int64
	AvgFillPx          *float64
	TotalFillNotional  *float64
	TotalCxledQty      *int64
	AvgCxledPx         *float64
	TotalCxledNotional *float64
	OrderCount         *int64
	LastUpdateFillQty  *int64
	LastUpdateFillPx   *float64
	LastUpdateTime     *time.Time
}

// Apply merges the delta into the snapshot, overwriting provided fields only.
func (d SymbolSideSnapshotDelta) Apply(s *SymbolSideSnapshot) {
	if d.TotalQty != nil {
		s.TotalQty = *d.TotalQty
	}
	if d.AvgPx != nil {
		s.AvgPx = *d.AvgPx
	}
	if d.TotalFilledQty != nil {
		s.TotalFilledQty = *d.TotalFilledQty
	}
	if d.AvgFillPx != nil {
		s.AvgFillPx = *d.AvgFillPx
	}
	if d.TotalFillNotional != nil {
		s.TotalFillNotional = *d.TotalFillNotional
	}
	if d.TotalCxledQty != nil {
		s.TotalCxledQty = *d.TotalCxledQty
	}
	if d.AvgCxledPx != nil {
		s.AvgCxledPx = *d.AvgCxledPx
	}
	if d.TotalCxledNotional != nil {
		s.TotalCxledNotional = *d.TotalCxledNotional
	}
	if d.OrderCount != nil {
		s.OrderCount = *d.OrderCount
	}
	if d.LastUpdateFillQty != nil {
		s.LastUpdateFillQty = *d.LastUpdateFillQty
	}
	if d.LastUpdateFillPx != nil {
		s.LastUpdateFillPx = *d.LastUpdateFillPx
	}
	if d.LastUpdateTime != nil {
		s.LastUpdateTime = *d.LastUpdateTime
	}
	s.Version++
}

// PairSideBriefDelta is a partial update against one leg of a StratBrief.
type PairSideBriefDelta struct {
	ResidualQty                          *int64
	IndicativeConsumableResidual         *float64
	AllBrokerCxledQty                    *int64
	OpenQty                              *int64
	OpenNotional                         *float64
	ConsumableOpenNotional               *float64
	ConsumableNotional                   *float64
	ConsumableConcentration              *float64
	ConsumableCxlQty                     *float64
	IndicativeConsumableParticipationQty *float64
	LastUpdateTime                       *time.Time
}

func (d PairSideBriefDelta) apply(l *PairSideBrief) {
	if d.ResidualQty != nil {
		l.ResidualQty = *d.ResidualQty
	}
	if d.IndicativeConsumableResidual != nil {
		l.IndicativeConsumableResidual = *d.IndicativeConsumableResidual
	}
	if d.AllBrokerCxledQty != nil {
		l.AllBrokerCxledQty = *d.AllBrokerCxledQty
	}
	if d.OpenQty != nil {
		l.OpenQty = *d.OpenQty
	}
	if d.OpenNotional != nil {
		l.OpenNotional = *d.OpenNotional
	}
	if d.ConsumableOpenNotional != nil {
		l.ConsumableOpenNotional = *d.ConsumableOpenNotional
	}
	if d.ConsumableNotional != nil {
		l.ConsumableNotional = *d.ConsumableNotional
	}
	if d.ConsumableConcentration != nil {
		l.ConsumableConcentration = *d.ConsumableConcentration
	}
	if d.ConsumableCxlQty != nil {
		l.ConsumableCxlQty = *d.ConsumableCxlQty
	}
	if d.IndicativeConsumableParticipationQty != nil {
		l.IndicativeConsumableParticipationQty = *d.IndicativeConsumableParticipationQty
	}
	if d.LastUpdateTime != nil {
		l.LastUpdateTime = *d.LastUpdateTime
	}
}

// StratBriefDelta is a partial update against a StratBrief. At most one leg
// is touched per cascade step; the other leg delta stays nil.
type StratBriefDelta struct {
	Buy                          *PairSideBriefDelta
	Sell                         *PairSideBriefDelta
	ConsumableNettFilledNotional *float64
}

// Apply merges the delta into the brief, overwriting provided fields only.
func (d StratBriefDelta) Apply(b *StratBrief) {
	if d.Buy != nil {
		d.Buy.apply(&b.Buy)
	}
	if d.Sell != nil {
		d.Sell.apply(&b.Sell)
	}
	if d.ConsumableNettFilledNotional != nil {
		b.ConsumableNettFilledNotional = *d.ConsumableNettFilledNotional
	}
	b.Version++
}

// LegDeltaFor returns the delta slot for the given side, allocating it.
func (d *StratBriefDelta) LegDeltaFor(side event.Side) *PairSideBriefDelta {
	if side == event.SideSell {
		if d.Sell == nil {
			d.Sell = &PairSideBriefDelta{}
		}
		return d.Sell
	}
	if d.Buy == nil {
		d.Buy = &PairSideBriefDelta{}
	}
	return d.Buy
}

// StratStatusSideDelta is a partial update against one side of a StratStatus.
type StratStatusSideDelta struct {
	TotalQty          *int64
	AvgPx             *float64
	TotalNotional     *float64
	TotalOpenQty      *int64
	AvgOpenPx         *float64
	TotalOpenNotional *float64
	TotalFillQty      *int64
	AvgFillPx         *float64
	TotalFillNotional *float64
	TotalCxlQty       *int64
	AvgCxlPx          *float64
	TotalCxlNotional  *float64
}

func (d StratStatusSideDelta) apply(s *StratStatusSide) {
	if d.TotalQty != nil {
		s.TotalQty = *d.TotalQty
	}
	if d.AvgPx != nil {
		s.AvgPx = *d.AvgPx
	}
	if d.TotalNotional != nil {
		s.TotalNotional = *d.TotalNotional
	}
	if d.TotalOpenQty != nil {
		s.TotalOpenQty = *d.TotalOpenQty
	}
	if d.AvgOpenPx != nil {
		s.AvgOpenPx = *d.AvgOpenPx
	}
	if d.TotalOpenNotional != nil {
		s.TotalOpenNotional = *d.TotalOpenNotional
	}
	if d.TotalFillQty != nil {
		s.TotalFillQty = *d.TotalFillQty
	}
	if d.AvgFillPx != nil {
		s.AvgFillPx = *d.AvgFillPx
	}
	if d.TotalFillNotional != nil {
		s.TotalFillNotional = *d.TotalFillNotional
	}
	if d.TotalCxlQty != nil {
		s.TotalCxlQty = *d.TotalCxlQty
	}
	if d.AvgCxlPx != nil {
		s.AvgCxlPx = *d.AvgCxlPx
	}
	if d.TotalCxlNotional != nil {
		s.TotalCxlNotional = *d.TotalCxlNotional
	}
}

// StratStatusDelta is a partial update against a StratStatus.
type StratStatusDelta struct {
	Buy               *StratStatusSideDelta
	Sell              *StratStatusSideDelta
	TotalOrderQty     *int64
	TotalOpenExposure *float64
	TotalFillExposure *float64
	TotalCxlExposure  *float64
	TotalExposure     *float64
	BalanceNotional   *float64
	Residual          *ResidualPart
	State             *event.StratState
	LastUpdateTime    *time.Time
}

// Apply merges the delta into the status, overwriting provided fields only.
func (d StratStatusDelta) Apply(s *StratStatus) {
	if d.Buy != nil {
		d.Buy.apply(&s.Buy)
	}
	if d.Sell != nil {
		d.Sell.apply(&s.Sell)
	}
	if d.TotalOrderQty != nil {
		s.TotalOrderQty = *d.TotalOrderQty
	}
	if d.TotalOpenExposure != nil {
		s.TotalOpenExposure = *d.TotalOpenExposure
	}
	if d.TotalFillExposure != nil {
		s.TotalFillExposure = *d.TotalFillExposure
	}
	if d.TotalCxlExposure != nil {
		s.TotalCxlExposure = *d.TotalCxlExposure
	}
	if d.TotalExposure != nil {
		s.TotalExposure = *d.TotalExposure
	}
	if d.BalanceNotional != nil {
		s.BalanceNotional = *d.BalanceNotional
	}
	if d.Residual != nil {
		s.Residual = *d.Residual
	}
	if d.State != nil {
		s.State = *d.State
	}
	if d.LastUpdateTime != nil {
		s.LastUpdateTime = *d.LastUpdateTime
	}
	s.Version++
}

// SideDeltaFor returns the delta slot for the given side, allocating it.
func (d *StratStatusDelta) SideDeltaFor(side event.Side) *StratStatusSideDelta {
	if side == event.SideSell {
		if d.Sell == nil {
			d.Sell = &StratStatusSideDelta{}
		}
		return d.Sell
	}
	if d.Buy == nil {
		d.Buy = &StratStatusSideDelta{}
	}
	return d.Buy
}

// Pointer helpers for building deltas.

func Int64(v int64) *int64                          { return &v }
func Float64(v float64) *float64                    { return &v }
func Time(v time.Time) *time.Time                   { return &v }
func Status(v event.OrderStatus) *event.OrderStatus { return &v }
func State(v event.StratState) *event.StratState    { return &v }
