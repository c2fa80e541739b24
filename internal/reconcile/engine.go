// Package reconcile implements the order-event reconciliation state machine:
// one inbound order-journal or fills-journal record is transformed into a
// consistent update across OrderSnapshot -> SymbolSideSnapshot -> StratBrief
// -> StratStatus -> PortfolioStatus, in that fixed order, with a pause issued
// on any limit breach.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/limits"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

// Store is the persistent-store client the cascade writes through. The
// concrete wire behind it is generated CRUD plumbing and stays external;
// the engine only depends on this contract.
type Store interface {
	CreateOrderJournal(ctx context.Context, j *event.OrderJournal) error
	CreateFillsJournal(ctx context.Context, j *event.FillsJournal) error
	RecentOrderJournals(ctx context.Context, orderID string, n int) ([]event.OrderJournal, error)

	CreateOrderSnapshot(ctx context.Context, o *snapshot.OrderSnapshot) error
	UpdateOrderSnapshot(ctx context.Context, orderID string, d snapshot.OrderSnapshotDelta) error
	CreateSymbolSideSnapshot(ctx context.Context, s *snapshot.SymbolSideSnapshot) error
	UpdateSymbolSideSnapshot(ctx context.Context, id string, d snapshot.SymbolSideSnapshotDelta) error
	UpdateStratBrief(ctx context.Context, id string, d snapshot.StratBriefDelta) error
	UpdateStratStatus(ctx context.Context, id string, d snapshot.StratStatusDelta) error

	// WindowTradedQty aggregates market volume for the security over the
	// trailing window (participation input).
	WindowTradedQty(ctx context.Context, security string, window time.Duration) (int64, error)
}

// MarketView is the synchronous top-of-book / static-data lookup used inline
// by cascade steps.
type MarketView interface {
	LastTradePx(security string) (float64, bool)
	SecurityFloat(security string) (float64, bool)
}

// PortfolioLimitChecker is invoked once per successfully completed cascade.
// The engine does not block on its result.
type PortfolioLimitChecker interface {
	CheckPortfolioLimits(stratID string, oj *event.OrderJournal,
		os *snapshot.OrderSnapshot, brief *snapshot.StratBrief,
		delta snapshot.PortfolioStatusDelta)
}

// Notifier fans out entity updates, portfolio deltas, and pause alerts to
// downstream subscribers (UI filters, alert bus). All methods must be
// non-blocking from the engine's point of view.
type Notifier interface {
	PublishPortfolioDelta(d snapshot.PortfolioStatusDelta)
	PublishPauseAlert(stratID, reason string)
	NotifyOrderSnapshot(o *snapshot.OrderSnapshot)
	NotifySymbolSideSnapshot(s *snapshot.SymbolSideSnapshot)
	NotifyStratBrief(b *snapshot.StratBrief)
	NotifyStratStatus(s *snapshot.StratStatus)
}

// Engine is the reconciliation core for exactly one strategy's order flow.
/// One cascade is in flight at a time: the engine mutex is the shared lock
// serializing the whole post-persist critical section, and the cache's
// per-entity locks guard against non-cascade readers.
type Engine struct {
	stratID string

	cache    *snapshot.StratCache
	store    Store
	market   MarketView
	fxConv   *fx.Converter
	checker  PortfolioLimitChecker
	notifier Notifier
	metrics  *observability.Metrics
	log      zerolog.Logger

	// ready flips once the startup sequencer reaches SERVICE_READY.
	ready atomic.Bool

	// mu serializes the reconciliation cascade (residual/notional critical
	// section). One process handles one strategy, so the lock stays coarse.
	mu sync.Mutex
}

// NewEngine wires the reconciliation core. All collaborators are explicit;
// nothing is resolved through globals.
func NewEngine(
	stratID string,
	cache *snapshot.StratCache,
	store Store,
	market MarketView,
	fxConv *fx.Converter,
	checker PortfolioLimitChecker,
	notifier Notifier,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		stratID:  stratID,
		cache:    cache,
		store:    store,
		market:   market,
		fxConv:   fxConv,
		checker:  checker,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// SetReady opens (or closes) the readiness gate.
func (e *Engine) SetReady(ready bool) {
	e.ready.Store(ready)
}

// Ready reports whether the engine accepts journal events.
func (e *Engine) Ready() bool {
	return e.ready.Load() && e.fxConv.Ready()
}

// Lock takes the cascade critical section for non-cascade callers (admin
// handlers) that must observe a quiesced engine.
func (e *Engine) Lock() { e.mu.Lock() }

// Unlock releases the cascade critical section.
func (e *Engine) Unlock() { e.mu.Unlock() }

// orderEffect carries the outcome of the OrderSnapshot step into the
// dependent cascade steps.
type orderEffect struct {
	snap       *snapshot.OrderSnapshot
	prevStatus event.OrderStatus
	newOrder   bool
	// cxlQty/cxlNotional is the unfilled remainder newly confirmed cancelled
	// or rejected out on this event (zero for ack/cxl-request/revert).
	cxlQty      int64
	cxlNotional float64
}

// fillEffect carries the outcome of the fill OrderSnapshot step.
type fillEffect struct {
	snap         *snapshot.OrderSnapshot
	prevStatus   event.OrderStatus
	fillQty      int64
	fillNotional float64
	// lateFill marks a fill landing after OE_DOD: the quantity is backed out
	// of the cancelled totals instead of reducing open.
	lateFill bool
	// openQtyReduced/openNotionalReduced is the open consumed by this fill
	// (zero for late fills).
	openQtyReduced      int64
	openNotionalReduced float64
}

// HandleOrderJournal runs the §pre-hook validation, persists the journal,
// then runs the reconciliation cascade. Pre-persist failures propagate to
// the caller (ErrNotReady is retryable); post-persist cascade failures are
// logged and absorbed; a partial update never propagates as an error once
// the journal is accepted.
func (e *Engine) HandleOrderJournal(ctx context.Context, oj *event.OrderJournal) error {
	if !e.Ready() {
		e.metrics.EventsRejected.WithLabelValues("OrderJournal", "not_ready").Inc()
		return ErrNotReady
	}

	if st := e.cache.StratState(); !st.IsOngoing() {
		e.metrics.EventsRejected.WithLabelValues("OrderJournal", "not_ongoing").Inc()
		return fmt.Errorf("%w: strat %s is %s", ErrStratNotOngoing, e.stratID, st)
	}

	// Zero-price OE_NEW: backfill from top-of-book last trade. A missing
	// book here is a hard dependency failure, not a readiness retry.
	if oj.Event == event.OrderEventNew && oj.Order.Px == 0 {
		px, ok := e.market.LastTradePx(oj.Order.Security)
		if !ok {
			e.metrics.EventsRejected.WithLabelValues("OrderJournal", "no_top_of_book").Inc()
			return fmt.Errorf("px backfill for %s: no top of book cached", oj.Order.Security)
		}
		oj.Order.Px = px
	}

	if err := e.store.CreateOrderJournal(ctx, oj); err != nil {
		return fmt.Errorf("persist order journal %s: %w", oj.IdempotencyKey(), err)
	}
	e.cache.AppendOrderJournal(*oj)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.runOrderCascade(ctx, oj)
	e.metrics.CascadeDuration.WithLabelValues("OrderJournal").Observe(time.Since(start).Seconds())
	return nil
}

// runOrderCascade executes §order-snapshot through §portfolio-delta in fixed
// order. A step returning nil short-circuits the remaining steps: partial
// updates are tolerated, never rolled back, and always logged.
func (e *Engine) runOrderCascade(ctx context.Context, oj *event.OrderJournal) {
	eff := e.applyOrderToOrderSnapshot(ctx, oj)
	if eff == nil {
		return
	}

	sss := e.applyOrderToSymbolSide(ctx, oj, eff)
	if sss == nil {
		return
	}

	brief, residual := e.updateStratBrief(ctx, oj.Order.Security, oj.Order.Side, eff, nil, sss)
	if brief == nil {
		return
	}

	status, pauseReasons := e.updateStratStatusForOrder(ctx, oj, eff, brief, residual, sss)
	if status == nil {
		return
	}

	delta := snapshot.PortfolioStatusDelta{StratID: e.stratID}
	if eff.newOrder {
		e.addSideNotional(&delta, oj.Order.Side, e.fxConv.USDNotional(oj.Order.Px, oj.Order.Qty), 0)
	}
	if eff.cxlQty > 0 {
		e.addSideNotional(&delta, oj.Order.Side, -eff.cxlNotional, 0)
	}
	e.emitPortfolioDelta(oj, eff.snap, brief, delta)

	e.metrics.EventsApplied.WithLabelValues("OrderJournal").Inc()

	for _, reason := range pauseReasons {
		e.pauseStrat(ctx, reason)
	}
}

// applyOrderToOrderSnapshot is the first cascade step: create a snapshot on
// OE_NEW, otherwise drive the order_status state machine.
func (e *Engine) applyOrderToOrderSnapshot(ctx context.Context, oj *event.OrderJournal) *orderEffect {
	now := oj.EventTime

	if oj.Event == event.OrderEventNew {
		if existing := e.cache.GetOrderSnapshot(oj.Order.OrderID); existing != nil {
			e.abandon("order_snapshot", "duplicate_new", &DataInconsistencyError{
				OrderID: oj.Order.OrderID,
				Detail:  "OE_NEW for an order that already has a snapshot",
			})
			return nil
		}

		snap := &snapshot.OrderSnapshot{
			ID:             oj.Order.OrderID,
			Order:          oj.Order,
			Status:         event.OrderStatusUnack,
			CreateTime:     now,
			LastUpdateTime: now,
		}
		if err := e.store.CreateOrderSnapshot(ctx, snap); err != nil {
			e.abandon("order_snapshot", "store_create", err)
			return nil
		}
		e.cache.PutOrderSnapshot(snap)
		e.notifier.NotifyOrderSnapshot(snap)
		e.metrics.OrderTransitions.WithLabelValues("NONE", snap.Status.String()).Inc()
		return &orderEffect{snap: snap, newOrder: true}
	}

	snap := e.cache.GetOrderSnapshot(oj.Order.OrderID)
	if snap == nil {
		e.abandon("order_snapshot", "missing_dependency", &MissingDependencyError{
			Step: "order_snapshot", Entity: "OrderSnapshot", Key: oj.Order.OrderID,
		})
		return nil
	}
	prev := snap.Status

	tr := classifyOrderEvent(snap.Status, oj.Event)
	delta := snapshot.OrderSnapshotDelta{LastUpdateTime: snapshot.Time(now)}
	eff := &orderEffect{snap: snap, prevStatus: prev}

	switch tr.kind {
	case transitionReject:
		e.abandon("order_snapshot", "illegal_transition", &DataInconsistencyError{
			OrderID: oj.Order.OrderID,
			Detail:  fmt.Sprintf("event %s against status %s", oj.Event, snap.Status),
		})
		return nil

	case transitionNoop:
		return nil

	case transitionApply:
		delta.Status = snapshot.Status(tr.next)
		if tr.next == event.OrderStatusDOD {
			// Confirmed out: the unfilled remainder is cancelled.
			unfilled := snap.VacantQty()
			if unfilled > 0 {
				cxlNotional := e.fxConv.USDNotional(snap.Order.Px, unfilled)
				eff.cxlQty = unfilled
				eff.cxlNotional = cxlNotional
				delta.CxledQty = snapshot.Int64(snap.CxledQty + unfilled)
				delta.CxledNotional = snapshot.Float64(snap.CxledNotional + cxlNotional)
				delta.AvgCxledPx = snapshot.Float64(
					limits.NotionalAvg(snap.CxledNotional+cxlNotional, snap.CxledQty+unfilled))
			}
		}

	case transitionRevert:
		next, err := e.resolveCxlReject(ctx, oj, snap)
		if err != nil {
			e.abandon("order_snapshot", "cxl_reject_lookback", err)
			return nil
		}
		delta.Status = snapshot.Status(next)
	}

	if err := e.store.UpdateOrderSnapshot(ctx, snap.Order.OrderID, delta); err != nil {
		e.abandon("order_snapshot", "store_update", err)
		return nil
	}
	delta.Apply(snap)
	e.cache.PutOrderSnapshot(snap)
	e.notifier.NotifyOrderSnapshot(snap)
	e.metrics.OrderTransitions.WithLabelValues(prev.String(), snap.Status.String()).Inc()
	return eff
}

// resolveCxlReject picks the post-reject status: over-fill and exact-fill
// shortcuts first, then the 3-deep journal lookback.
func (e *Engine) resolveCxlReject(ctx context.Context, oj *event.OrderJournal, snap *snapshot.OrderSnapshot) (event.OrderStatus, error) {
	if snap.FilledQty > snap.Order.Qty {
		e.metrics.OverFills.Inc()
		return event.OrderStatusOverFilled, nil
	}
	if snap.FilledQty == snap.Order.Qty {
		return event.OrderStatusFilled, nil
	}

	journals := e.cache.RecentOrderJournals(oj.Order.OrderID, 3)
	if len(journals) < 3 {
		var err error
		journals, err = e.store.RecentOrderJournals(ctx, oj.Order.OrderID, 3)
		if err != nil {
			return event.OrderStatusUnspecified, fmt.Errorf("journal lookback: %w", err)
		}
	}
	return revertStatusFromLookback(oj.Order.OrderID, journals)
}

// applyOrderToSymbolSide is the second cascade step.
func (e *Engine) applyOrderToSymbolSide(ctx context.Context, oj *event.OrderJournal, eff *orderEffect) *snapshot.SymbolSideSnapshot {
	now := oj.EventTime
	sss := e.cache.GetSymbolSideSnapshot(oj.Order.Security, oj.Order.Side)

	if eff.newOrder {
		if sss == nil {
			// First OE_NEW for this symbol/side creates the aggregate.
			sss = &snapshot.SymbolSideSnapshot{
				ID:             fmt.Sprintf("%s:%s:%s", e.stratID, oj.Order.Security, oj.Order.Side),
				Security:       oj.Order.Security,
				Side:           oj.Order.Side,
				TotalQty:       oj.Order.Qty,
				AvgPx:          oj.Order.Px,
				OrderCount:     1,
				LastUpdateTime: now,
			}
			if err := e.store.CreateSymbolSideSnapshot(ctx, sss); err != nil {
				e.abandon("symbol_side_snapshot", "store_create", err)
				return nil
			}
			e.cache.PutSymbolSideSnapshot(sss)
			e.notifier.NotifySymbolSideSnapshot(sss)
			return sss
		}

		newCount := sss.OrderCount + 1
		delta := snapshot.SymbolSideSnapshotDelta{
			OrderCount:     snapshot.Int64(newCount),
			TotalQty:       snapshot.Int64(sss.TotalQty + oj.Order.Qty),
			AvgPx:          snapshot.Float64(limits.IncrementalAvg(sss.AvgPx, oj.Order.Px, newCount)),
			LastUpdateTime: snapshot.Time(now),
		}
		if err := e.store.UpdateSymbolSideSnapshot(ctx, sss.ID, delta); err != nil {
			e.abandon("symbol_side_snapshot", "store_update", err)
			return nil
		}
		delta.Apply(sss)
		e.cache.PutSymbolSideSnapshot(sss)
		e.notifier.NotifySymbolSideSnapshot(sss)
		return sss
	}

	if sss == nil {
		e.abandon("symbol_side_snapshot", "missing_dependency", &MissingDependencyError{
			Step:   "symbol_side_snapshot",
			Entity: "SymbolSideSnapshot",
			Key:    fmt.Sprintf("%s/%s", oj.Order.Security, oj.Order.Side),
		})
		return nil
	}

	if eff.cxlQty == 0 {
		// Ack, cancel-request, and reverts change no side totals; the
		// dependent steps still refresh their consumables.
		return sss
	}

	totalCxledQty := sss.TotalCxledQty + eff.cxlQty
	totalCxledNotional := sss.TotalCxledNotional + eff.cxlNotional
	delta := snapshot.SymbolSideSnapshotDelta{
		TotalCxledQty:      snapshot.Int64(totalCxledQty),
		TotalCxledNotional: snapshot.Float64(totalCxledNotional),
		AvgCxledPx:         snapshot.Float64(limits.NotionalAvg(totalCxledNotional, totalCxledQty)),
		LastUpdateTime:     snapshot.Time(now),
	}
	if err := e.store.UpdateSymbolSideSnapshot(ctx, sss.ID, delta); err != nil {
		e.abandon("symbol_side_snapshot", "store_update", err)
		return nil
	}
	delta.Apply(sss)
	e.cache.PutSymbolSideSnapshot(sss)
	e.notifier.NotifySymbolSideSnapshot(sss)
	return sss
}

// updateStratBrief is the third cascade step: recompute the affected leg's
// open figures and consumables, the cross-leg residual, and the net-filled
// consumable. Shared by the order and fill paths (exactly one of eff/fe is
// non-nil).
func (e *Engine) updateStratBrief(ctx context.Context, security string, side event.Side,
	eff *orderEffect, fe *fillEffect, sss *snapshot.SymbolSideSnapshot) (*snapshot.StratBrief, *snapshot.ResidualPart) {

	brief := e.cache.GetStratBrief()
	if brief == nil {
		e.abandon("strat_brief", "missing_dependency", &MissingDependencyError{
			Step: "strat_brief", Entity: "StratBrief", Key: e.stratID,
		})
		return nil, nil
	}
	lim := e.cache.GetStratLimits()
	if lim == nil {
		e.abandon("strat_brief", "missing_dependency", &MissingDependencyError{
			Step: "strat_brief", Entity: "StratLimits", Key: e.stratID,
		})
		return nil, nil
	}

	leg := brief.LegFor(side)
	if leg.Security != security {
		e.abandon("strat_brief", "leg_mismatch", &DataInconsistencyError{
			OrderID: "",
			Detail:  fmt.Sprintf("event security %s does not match %s leg %s", security, side, leg.Security),
		})
		return nil, nil
	}

	openQty := leg.OpenQty
	openNotional := leg.OpenNotional
	allBrokerCxled := leg.AllBrokerCxledQty
	residualQty := leg.ResidualQty
	now := time.Now()

	switch {
	case eff != nil && eff.newOrder:
		openQty += eff.snap.Order.Qty
		openNotional += e.fxConv.USDNotional(eff.snap.Order.Px, eff.snap.Order.Qty)
		now = eff.snap.LastUpdateTime
	case eff != nil && eff.cxlQty > 0:
		openQty -= eff.cxlQty
		openNotional -= eff.cxlNotional
		allBrokerCxled += eff.cxlQty
		now = eff.snap.LastUpdateTime
	case fe != nil:
		if !fe.lateFill {
			openQty -= fe.openQtyReduced
			openNotional -= fe.openNotionalReduced
		} else {
			// Late fill after DOD: the quantity comes back out of the
			// broker-cancelled total, not out of open.
			allBrokerCxled -= fe.fillQty
		}
		residualQty = sss.TotalFilledQty
		now = fe.snap.LastUpdateTime
	}

	legDelta := snapshot.PairSideBriefDelta{
		OpenQty:           snapshot.Int64(openQty),
		OpenNotional:      snapshot.Float64(openNotional),
		AllBrokerCxledQty: snapshot.Int64(allBrokerCxled),
		ResidualQty:       snapshot.Int64(residualQty),
		LastUpdateTime:    snapshot.Time(now),
	}
	e.fillLegConsumables(ctx, security, openQty, openNotional, sss, lim, &legDelta)

	// Residual between the legs, from both legs' current top-of-book.
	residual := e.computeResidual(brief, side, residualQty)
	legDelta.IndicativeConsumableResidual = snapshot.Float64(lim.Residual.MaxResidual - residual.ResidualNotional)

	// Net-filled consumable spans both legs.
	otherLeg := brief.LegFor(side.Opposite())
	otherSide := e.cache.GetSymbolSideSnapshot(otherLeg.Security, side.Opposite())
	var otherFillNotional float64
	if otherSide != nil {
		otherFillNotional = otherSide.TotalFillNotional
	}
	nett := limits.NettFilledNotionalConsumable(lim.MaxNetFilledNotional, sss.TotalFillNotional, otherFillNotional)

	briefDelta := snapshot.StratBriefDelta{
		ConsumableNettFilledNotional: snapshot.Float64(nett),
	}
	if side == event.SideSell {
		briefDelta.Sell = &legDelta
	} else {
		briefDelta.Buy = &legDelta
	}

	if err := e.store.UpdateStratBrief(ctx, brief.ID, briefDelta); err != nil {
		e.abandon("strat_brief", "store_update", err)
		return nil, nil
	}
	briefDelta.Apply(brief)
	e.cache.PutStratBrief(brief)
	e.notifier.NotifyStratBrief(brief)

	e.metrics.ConsumableNotional.WithLabelValues(side.String()).Set(brief.LegFor(side).ConsumableNotional)
	e.metrics.ConsumableCxlQty.WithLabelValues(side.String()).Set(brief.LegFor(side).ConsumableCxlQty)

	return brief, &residual
}

// fillLegConsumables computes the §limit-calculator figures for one leg.
func (e *Engine) fillLegConsumables(ctx context.Context, security string,
	openQty int64, openNotional float64, sss *snapshot.SymbolSideSnapshot,
	lim *snapshot.StratLimits, out *snapshot.PairSideBriefDelta) {

	out.ConsumableNotional = snapshot.Float64(
		limits.ConsumableNotional(lim.MaxSingleLegNotional, sss.TotalFillNotional, openNotional))
	out.ConsumableOpenNotional = snapshot.Float64(
		limits.ConsumableOpenNotional(lim.MaxOpenSingleLegNotional, openNotional))

	secFloat, _ := e.market.SecurityFloat(security)
	out.ConsumableConcentration = snapshot.Float64(
		limits.ConsumableConcentration(secFloat, lim.MaxConcentration, openQty, sss.TotalFilledQty))

	out.ConsumableCxlQty = snapshot.Float64(
		limits.ConsumableCxlQty(sss.TotalFilledQty, openQty, sss.TotalCxledQty, lim.CancelRate.MaxCancelRate))

	windowQty, err := e.store.WindowTradedQty(ctx, security, lim.MarketParticipation.ApplicableWindow)
	if err != nil {
		// Participation is an external aggregation; a failed window query
		// degrades to the previous figure rather than abandoning the step.
		e.log.Warn().Err(err).Str("security", security).Msg("participation window query failed")
		out.IndicativeConsumableParticipationQty = nil
		return
	}
	out.IndicativeConsumableParticipationQty = snapshot.Float64(
		limits.IndicativeParticipationQty(windowQty, lim.MarketParticipation.MaxParticipationRate,
			openQty, sss.TotalFilledQty))
}

// computeResidual evaluates the cross-leg residual using both legs' USD
// last-trade prices; the affected side contributes the freshly updated
// residual quantity. Absent top-of-book degrades that leg's price to 0 with
// an error log (skip-and-alert, not a hard failure).
func (e *Engine) computeResidual(brief *snapshot.StratBrief, affected event.Side, affectedResidualQty int64) snapshot.ResidualPart {
	buyQty, sellQty := brief.Buy.ResidualQty, brief.Sell.ResidualQty
	if affected == event.SideBuy {
		buyQty = affectedResidualQty
	} else {
		sellQty = affectedResidualQty
	}

	buyPx := e.legUSDPx(brief.Buy.Security)
	sellPx := e.legUSDPx(brief.Sell.Security)

	r := limits.ComputeResidual(brief.Buy.Security, buyQty, buyPx, brief.Sell.Security, sellQty, sellPx)
	return snapshot.ResidualPart{Security: r.Security, ResidualNotional: r.Notional}
}

func (e *Engine) legUSDPx(security string) float64 {
	px, ok := e.market.LastTradePx(security)
	if !ok {
		e.log.Error().Str("security", security).Msg("no top of book for residual computation")
		return 0
	}
	return e.fxConv.USDPx(px)
}

// updateStratStatusForOrder is the fourth cascade step for order journals.
func (e *Engine) updateStratStatusForOrder(ctx context.Context, oj *event.OrderJournal,
	eff *orderEffect, brief *snapshot.StratBrief, residual *snapshot.ResidualPart,
	sss *snapshot.SymbolSideSnapshot) (*snapshot.StratStatus, []string) {

	status := e.cache.GetStratStatus()
	if status == nil {
		e.abandon("strat_status", "missing_dependency", &MissingDependencyError{
			Step: "strat_status", Entity: "StratStatus", Key: e.stratID,
		})
		return nil, nil
	}
	lim := e.cache.GetStratLimits()
	if lim == nil {
		e.abandon("strat_status", "missing_dependency", &MissingDependencyError{
			Step: "strat_status", Entity: "StratLimits", Key: e.stratID,
		})
		return nil, nil
	}

	side := status.SideFor(oj.Order.Side)
	sideDelta := snapshot.StratStatusSideDelta{}

	if eff.newOrder {
		notional := e.fxConv.USDNotional(oj.Order.Px, oj.Order.Qty)
		totalQty := side.TotalQty + oj.Order.Qty
		totalNotional := side.TotalNotional + notional
		sideDelta.TotalQty = snapshot.Int64(totalQty)
		sideDelta.TotalNotional = snapshot.Float64(totalNotional)
		sideDelta.AvgPx = snapshot.Float64(limits.NotionalAvg(totalNotional, totalQty))
		openQty := side.TotalOpenQty + oj.Order.Qty
		openNotional := side.TotalOpenNotional + notional
		sideDelta.TotalOpenQty = snapshot.Int64(openQty)
		sideDelta.TotalOpenNotional = snapshot.Float64(openNotional)
		sideDelta.AvgOpenPx = snapshot.Float64(limits.NotionalAvg(openNotional, openQty))
	}
	if eff.cxlQty > 0 {
		cxlQty := side.TotalCxlQty + eff.cxlQty
		cxlNotional := side.TotalCxlNotional + eff.cxlNotional
		sideDelta.TotalCxlQty = snapshot.Int64(cxlQty)
		sideDelta.TotalCxlNotional = snapshot.Float64(cxlNotional)
		sideDelta.AvgCxlPx = snapshot.Float64(limits.NotionalAvg(cxlNotional, cxlQty))
		openQty := side.TotalOpenQty - eff.cxlQty
		openNotional := side.TotalOpenNotional - eff.cxlNotional
		sideDelta.TotalOpenQty = snapshot.Int64(openQty)
		sideDelta.TotalOpenNotional = snapshot.Float64(openNotional)
		sideDelta.AvgOpenPx = snapshot.Float64(limits.NotionalAvg(openNotional, openQty))
	}

	return e.finishStratStatus(ctx, status, lim, oj.Order.Side, sideDelta, residual, brief, sss, oj.EventTime)
}

// finishStratStatus applies a side delta plus the recomputed exposures,
// balance notional, residual assignment, and the pause-on-breach check.
func (e *Engine) finishStratStatus(ctx context.Context, status *snapshot.StratStatus,
	lim *snapshot.StratLimits, affected event.Side, sideDelta snapshot.StratStatusSideDelta,
	residual *snapshot.ResidualPart, brief *snapshot.StratBrief,
	sss *snapshot.SymbolSideSnapshot, at time.Time) (*snapshot.StratStatus, []string) {

	delta := snapshot.StratStatusDelta{LastUpdateTime: snapshot.Time(at)}
	if affected == event.SideSell {
		delta.Sell = &sideDelta
	} else {
		delta.Buy = &sideDelta
	}
	if residual != nil {
		delta.Residual = residual
	}

	// Apply the side delta to a scratch copy to derive the exposures.
	scratch := *status
	delta.Apply(&scratch)
	scratch.Version-- // scratch apply is not a real version bump

	openExposure := scratch.Buy.TotalOpenNotional + scratch.Sell.TotalOpenNotional
	fillExposure := scratch.Buy.TotalFillNotional + scratch.Sell.TotalFillNotional
	cxlExposure := scratch.Buy.TotalCxlNotional + scratch.Sell.TotalCxlNotional
	delta.TotalOrderQty = snapshot.Int64(scratch.Buy.TotalQty + scratch.Sell.TotalQty)
	delta.TotalOpenExposure = snapshot.Float64(openExposure)
	delta.TotalFillExposure = snapshot.Float64(fillExposure)
	delta.TotalCxlExposure = snapshot.Float64(cxlExposure)
	delta.TotalExposure = snapshot.Float64(openExposure + fillExposure + cxlExposure)
	delta.BalanceNotional = snapshot.Float64(limits.BalanceNotional(
		lim.MaxSingleLegNotional, scratch.Buy.TotalFillNotional, scratch.Sell.TotalFillNotional))

	if err := e.store.UpdateStratStatus(ctx, status.ID, delta); err != nil {
		e.abandon("strat_status", "store_update", err)
		return nil, nil
	}
	delta.Apply(status)
	e.cache.PutStratStatus(status)
	e.notifier.NotifyStratStatus(status)

	e.metrics.ResidualNotional.Set(status.Residual.ResidualNotional)
	e.metrics.BalanceNotional.Set(status.BalanceNotional)
	e.metrics.OpenExposure.WithLabelValues("BUY").Set(status.Buy.TotalOpenNotional)
	e.metrics.OpenExposure.WithLabelValues("SELL").Set(status.Sell.TotalOpenNotional)
	e.metrics.FillExposure.WithLabelValues("BUY").Set(status.Buy.TotalFillNotional)
	e.metrics.FillExposure.WithLabelValues("SELL").Set(status.Sell.TotalFillNotional)

	return status, e.pauseReasons(status, lim, brief, affected, sss)
}

// pauseReasons runs the §pause-on-breach check after every StratStatus
// recomputation.
func (e *Engine) pauseReasons(status *snapshot.StratStatus, lim *snapshot.StratLimits,
	brief *snapshot.StratBrief, affected event.Side, sss *snapshot.SymbolSideSnapshot) []string {

	var reasons []string

	if status.Residual.ResidualNotional > lim.Residual.MaxResidual {
		reasons = append(reasons, fmt.Sprintf("residual notional %.2f exceeds max %.2f",
			status.Residual.ResidualNotional, lim.Residual.MaxResidual))
	}

	leg := brief.LegFor(affected)
	if sss.OrderCount > lim.CancelRate.WaivedMinOrders &&
		leg.ConsumableCxlQty < 0 && leg.AllBrokerCxledQty > 0 {
		reasons = append(reasons, fmt.Sprintf("cancel-rate breach on %s leg: consumable cxl qty %.2f",
			affected, leg.ConsumableCxlQty))
	}

	return reasons
}

// pauseStrat writes StratStatePaused through the store and cache and raises
// the operator alert. Fire-and-forget relative to the cascade that flagged
// it: the cascade has already completed, the pause takes effect on the next
// event through the ongoing gate.
func (e *Engine) pauseStrat(ctx context.Context, reason string) {
	status := e.cache.GetStratStatus()
	if status == nil || status.State == event.StratStatePaused {
		return
	}

	e.log.Error().Str("strat_id", e.stratID).Str("reason", reason).Msg("pausing strategy on limit breach")
	e.metrics.PauseTriggered.WithLabelValues("limit_breach").Inc()

	delta := snapshot.StratStatusDelta{
		State:          snapshot.State(event.StratStatePaused),
		LastUpdateTime: snapshot.Time(time.Now()),
	}
	if err := e.store.UpdateStratStatus(ctx, status.ID, delta); err != nil {
		// The cache still flips so the ongoing gate closes locally; the
		// orchestrator record catches up via the alert path.
		e.log.Error().Err(err).Msg("persist pause failed")
		e.metrics.PersistErrors.WithLabelValues("pause").Inc()
	}
	delta.Apply(status)
	e.cache.PutStratStatus(status)
	e.notifier.NotifyStratStatus(status)
	e.notifier.PublishPauseAlert(e.stratID, reason)
}

// HandleFillsJournal mirrors HandleOrderJournal for fill events.
func (e *Engine) HandleFillsJournal(ctx context.Context, fj *event.FillsJournal) error {
	if !e.Ready() {
		e.metrics.EventsRejected.WithLabelValues("FillsJournal", "not_ready").Inc()
		return ErrNotReady
	}

	if st := e.cache.StratState(); !st.IsOngoing() {
		e.metrics.EventsRejected.WithLabelValues("FillsJournal", "not_ongoing").Inc()
		return fmt.Errorf("%w: strat %s is %s", ErrStratNotOngoing, e.stratID, st)
	}

	// Pre-hook enrichment: the fill notional travels with the journal.
	fj.FillNotional = e.fxConv.USDNotional(fj.FillPx, fj.FillQty)

	if err := e.store.CreateFillsJournal(ctx, fj); err != nil {
		return fmt.Errorf("persist fills journal %s: %w", fj.IdempotencyKey(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.runFillCascade(ctx, fj)
	e.metrics.CascadeDuration.WithLabelValues("FillsJournal").Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) runFillCascade(ctx context.Context, fj *event.FillsJournal) {
	fe, pause := e.applyFillToOrderSnapshot(ctx, fj)
	if pause != "" {
		e.pauseStrat(ctx, pause)
	}
	if fe == nil {
		return
	}

	sss := e.applyFillToSymbolSide(ctx, fj, fe)
	if sss == nil {
		return
	}

	brief, residual := e.updateStratBrief(ctx, fj.Security, fj.Side, nil, fe, sss)
	if brief == nil {
		return
	}

	status, pauseReasons := e.updateStratStatusForFill(ctx, fj, fe, brief, residual, sss)
	if status == nil {
		return
	}

	delta := snapshot.PortfolioStatusDelta{StratID: e.stratID}
	e.addSideNotional(&delta, fj.Side, 0, fe.fillNotional)
	if !fe.lateFill {
		e.addSideNotional(&delta, fj.Side, -fe.openNotionalReduced, 0)
	}
	e.emitPortfolioDelta(nil, fe.snap, brief, delta)

	e.metrics.EventsApplied.WithLabelValues("FillsJournal").Inc()

	for _, reason := range pauseReasons {
		e.pauseStrat(ctx, reason)
	}
}

// applyFillToOrderSnapshot validates the fill against the snapshot status
// and applies the fill totals. The second return value is a non-empty pause
// reason for the over-fill anomaly (cascade abandoned, strategy paused).
func (e *Engine) applyFillToOrderSnapshot(ctx context.Context, fj *event.FillsJournal) (*fillEffect, string) {
	snap := e.cache.GetOrderSnapshot(fj.OrderID)
	if snap == nil {
		e.abandon("order_snapshot", "missing_dependency", &MissingDependencyError{
			Step: "order_snapshot", Entity: "OrderSnapshot", Key: fj.OrderID,
		})
		return nil, ""
	}
	prev := snap.Status

	switch snap.Status {
	case event.OrderStatusAcked, event.OrderStatusCxlUnack, event.OrderStatusDOD:
		// Legal fill targets; OE_DOD is the late-fill race.
	default:
		if snap.Status == event.OrderStatusFilled || snap.Status == event.OrderStatusOverFilled {
			// A fill against a fully-filled order is the over-fill anomaly.
			return nil, e.markOverFilled(ctx, fj, snap)
		}
		e.abandon("order_snapshot", "illegal_fill_status", &DataInconsistencyError{
			OrderID: fj.OrderID,
			Detail:  fmt.Sprintf("fill against status %s", snap.Status),
		})
		return nil, ""
	}

	if snap.FilledQty+fj.FillQty > snap.Order.Qty {
		return nil, e.markOverFilled(ctx, fj, snap)
	}

	filledQty := snap.FilledQty + fj.FillQty
	fillNotional := snap.FillNotional + fj.FillNotional
	delta := snapshot.OrderSnapshotDelta{
		FilledQty:         snapshot.Int64(filledQty),
		FillNotional:      snapshot.Float64(fillNotional),
		AvgFillPx:         snapshot.Float64(limits.NotionalAvg(fillNotional, filledQty)),
		LastUpdateFillQty: snapshot.Int64(fj.FillQty),
		LastUpdateFillPx:  snapshot.Float64(fj.FillPx),
		LastUpdateTime:    snapshot.Time(fj.FillDate),
	}

	fe := &fillEffect{
		prevStatus:   prev,
		fillQty:      fj.FillQty,
		fillNotional: fj.FillNotional,
		lateFill:     snap.Status == event.OrderStatusDOD,
	}

	if fe.lateFill {
		// Back the late-filled quantity out of the cancelled totals instead
		// of double counting it as both cancelled and filled.
		cxledQty := snap.CxledQty - fj.FillQty
		cxledNotional := snap.CxledNotional - e.fxConv.USDNotional(snap.Order.Px, fj.FillQty)
		delta.CxledQty = snapshot.Int64(cxledQty)
		delta.CxledNotional = snapshot.Float64(cxledNotional)
		delta.AvgCxledPx = snapshot.Float64(limits.NotionalAvg(cxledNotional, cxledQty))
	} else {
		fe.openQtyReduced = fj.FillQty
		fe.openNotionalReduced = e.fxConv.USDNotional(snap.Order.Px, fj.FillQty)
	}

	if filledQty == snap.Order.Qty {
		delta.Status = snapshot.Status(event.OrderStatusFilled)
	}

	if err := e.store.UpdateOrderSnapshot(ctx, snap.Order.OrderID, delta); err != nil {
		e.abandon("order_snapshot", "store_update", err)
		return nil, ""
	}
	delta.Apply(snap)
	e.cache.PutOrderSnapshot(snap)
	e.notifier.NotifyOrderSnapshot(snap)
	if snap.Status != prev {
		e.metrics.OrderTransitions.WithLabelValues(prev.String(), snap.Status.String()).Inc()
	}
	fe.snap = snap
	return fe, ""
}

// markOverFilled applies the conservative over-fill policy: mark the
// snapshot OE_OVER_FILLED, abandon the cascade, pause the strategy.
func (e *Engine) markOverFilled(ctx context.Context, fj *event.FillsJournal, snap *snapshot.OrderSnapshot) string {
	overErr := &OverFillError{
		OrderID:   fj.OrderID,
		OrderQty:  snap.Order.Qty,
		FilledQty: snap.FilledQty,
		FillQty:   fj.FillQty,
	}
	e.log.Error().Err(overErr).Str("order_id", fj.OrderID).Msg("over-fill detected")
	e.metrics.OverFills.Inc()

	if snap.Status != event.OrderStatusOverFilled {
		delta := snapshot.OrderSnapshotDelta{
			Status:         snapshot.Status(event.OrderStatusOverFilled),
			LastUpdateTime: snapshot.Time(fj.FillDate),
		}
		if err := e.store.UpdateOrderSnapshot(ctx, snap.Order.OrderID, delta); err != nil {
			e.log.Error().Err(err).Msg("persist over-fill status failed")
		}
		delta.Apply(snap)
		e.cache.PutOrderSnapshot(snap)
		e.notifier.NotifyOrderSnapshot(snap)
	}

	return overErr.Error()
}

// applyFillToSymbolSide adds the fill into the side totals, adjusting the
// cancelled totals on a late fill.
func (e *Engine) applyFillToSymbolSide(ctx context.Context, fj *event.FillsJournal, fe *fillEffect) *snapshot.SymbolSideSnapshot {
	sss := e.cache.GetSymbolSideSnapshot(fj.Security, fj.Side)
	if sss == nil {
		e.abandon("symbol_side_snapshot", "missing_dependency", &MissingDependencyError{
			Step:   "symbol_side_snapshot",
			Entity: "SymbolSideSnapshot",
			Key:    fmt.Sprintf("%s/%s", fj.Security, fj.Side),
		})
		return nil
	}

	totalFilledQty := sss.TotalFilledQty + fj.FillQty
	totalFillNotional := sss.TotalFillNotional + fj.FillNotional
	delta := snapshot.SymbolSideSnapshotDelta{
		TotalFilledQty:    snapshot.Int64(totalFilledQty),
		TotalFillNotional: snapshot.Float64(totalFillNotional),
		AvgFillPx:         snapshot.Float64(limits.NotionalAvg(totalFillNotional, totalFilledQty)),
		LastUpdateFillQty: snapshot.Int64(fj.FillQty),
		LastUpdateFillPx:  snapshot.Float64(fj.FillPx),
		LastUpdateTime:    snapshot.Time(fj.FillDate),
	}

	if fe.lateFill {
		totalCxledQty := sss.TotalCxledQty - fj.FillQty
		totalCxledNotional := sss.TotalCxledNotional - e.fxConv.USDNotional(fe.snap.Order.Px, fj.FillQty)
		delta.TotalCxledQty = snapshot.Int64(totalCxledQty)
		delta.TotalCxledNotional = snapshot.Float64(totalCxledNotional)
		delta.AvgCxledPx = snapshot.Float64(limits.NotionalAvg(totalCxledNotional, totalCxledQty))
	}

	if err := e.store.UpdateSymbolSideSnapshot(ctx, sss.ID, delta); err != nil {
		e.abandon("symbol_side_snapshot", "store_update", err)
		return nil
	}
	delta.Apply(sss)
	e.cache.PutSymbolSideSnapshot(sss)
	e.notifier.NotifySymbolSideSnapshot(sss)
	return sss
}

// updateStratStatusForFill is the fourth cascade step for fills journals.
func (e *Engine) updateStratStatusForFill(ctx context.Context, fj *event.FillsJournal,
	fe *fillEffect, brief *snapshot.StratBrief, residual *snapshot.ResidualPart,
	sss *snapshot.SymbolSideSnapshot) (*snapshot.StratStatus, []string) {

	status := e.cache.GetStratStatus()
	if status == nil {
		e.abandon("strat_status", "missing_dependency", &MissingDependencyError{
			Step: "strat_status", Entity: "StratStatus", Key: e.stratID,
		})
		return nil, nil
	}
	lim := e.cache.GetStratLimits()
	if lim == nil {
		e.abandon("strat_status", "missing_dependency", &MissingDependencyError{
			Step: "strat_status", Entity: "StratLimits", Key: e.stratID,
		})
		return nil, nil
	}

	side := status.SideFor(fj.Side)
	fillQty := side.TotalFillQty + fe.fillQty
	fillNotional := side.TotalFillNotional + fe.fillNotional
	sideDelta := snapshot.StratStatusSideDelta{
		TotalFillQty:      snapshot.Int64(fillQty),
		TotalFillNotional: snapshot.Float64(fillNotional),
		AvgFillPx:         snapshot.Float64(limits.NotionalAvg(fillNotional, fillQty)),
	}

	if fe.lateFill {
		cxlQty := side.TotalCxlQty - fe.fillQty
		cxlNotional := side.TotalCxlNotional - e.fxConv.USDNotional(fe.snap.Order.Px, fe.fillQty)
		sideDelta.TotalCxlQty = snapshot.Int64(cxlQty)
		sideDelta.TotalCxlNotional = snapshot.Float64(cxlNotional)
		sideDelta.AvgCxlPx = snapshot.Float64(limits.NotionalAvg(cxlNotional, cxlQty))
	} else {
		openQty := side.TotalOpenQty - fe.openQtyReduced
		openNotional := side.TotalOpenNotional - fe.openNotionalReduced
		sideDelta.TotalOpenQty = snapshot.Int64(openQty)
		sideDelta.TotalOpenNotional = snapshot.Float64(openNotional)
		sideDelta.AvgOpenPx = snapshot.Float64(limits.NotionalAvg(openNotional, openQty))
	}

	return e.finishStratStatus(ctx, status, lim, fj.Side, sideDelta, residual, brief, sss, fj.FillDate)
}

// emitPortfolioDelta publishes the portfolio delta and hands the completed
// cascade to the portfolio-limit checker without blocking on it.
func (e *Engine) emitPortfolioDelta(oj *event.OrderJournal, os *snapshot.OrderSnapshot,
	brief *snapshot.StratBrief, delta snapshot.PortfolioStatusDelta) {

	if !delta.IsZero() {
		e.notifier.PublishPortfolioDelta(delta)
	}
	if e.checker != nil {
		go e.checker.CheckPortfolioLimits(e.stratID, oj, os, brief, delta)
	}
}

func (e *Engine) addSideNotional(d *snapshot.PortfolioStatusDelta, side event.Side, notional, fillNotional float64) {
	if side == event.SideSell {
		d.OverallSellNotionalDelta += notional
		d.OverallSellFillNotionalDelta += fillNotional
		return
	}
	d.OverallBuyNotionalDelta += notional
	d.OverallBuyFillNotionalDelta += fillNotional
}

// abandon logs a failed cascade step with full context. Remaining steps are
// skipped by the caller; prior steps stay applied (no rollback) and the
// triggering event is not requeued.
func (e *Engine) abandon(step, reason string, err error) {
	e.log.Error().Err(err).
		Str("strat_id", e.stratID).
		Str("step", step).
		Str("reason", reason).
		Msg("cascade step abandoned")
	e.metrics.CascadeAbandoned.WithLabelValues(step, reason).Inc()
}
