package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
	"stratbook/internal/testutil"
)

// --- fakes ---

type fakeStore struct {
	mu sync.Mutex

	orderJournals []event.OrderJournal
	fillsJournals []event.FillsJournal

	failCreateOrderJournal error
	failUpdateStratBrief   error

	windowQty int64
	windowErr error

	recentFromStore []event.OrderJournal
}

func (s *fakeStore) CreateOrderJournal(_ context.Context, j *event.OrderJournal) error {
	if s.failCreateOrderJournal != nil {
		return s.failCreateOrderJournal
	}
	s.mu.Lock()
	s.orderJournals = append(s.orderJournals, *j)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) CreateFillsJournal(_ context.Context, j *event.FillsJournal) error {
	s.mu.Lock()
	s.fillsJournals = append(s.fillsJournals, *j)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) RecentOrderJournals(_ context.Context, _ string, n int) ([]event.OrderJournal, error) {
	if len(s.recentFromStore) > n {
		return s.recentFromStore[:n], nil
	}
	return s.recentFromStore, nil
}

func (s *fakeStore) CreateOrderSnapshot(_ context.Context, _ *snapshot.OrderSnapshot) error {
	return nil
}

func (s *fakeStore) UpdateOrderSnapshot(_ context.Context, _ string, _ snapshot.OrderSnapshotDelta) error {
	return nil
}

func (s *fakeStore) CreateSymbolSideSnapshot(_ context.Context, _ *snapshot.SymbolSideSnapshot) error {
	return nil
}

func (s *fakeStore) UpdateSymbolSideSnapshot(_ context.Context, _ string, _ snapshot.SymbolSideSnapshotDelta) error {
	return nil
}

func (s *fakeStore) UpdateStratBrief(_ context.Context, _ string, _ snapshot.StratBriefDelta) error {
	return s.failUpdateStratBrief
}

func (s *fakeStore) UpdateStratStatus(_ context.Context, _ string, _ snapshot.StratStatusDelta) error {
	return nil
}

func (s *fakeStore) WindowTradedQty(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return s.windowQty, s.windowErr
}

type fakeMarket struct {
	lastTrade map[string]float64
	secFloat  map[string]float64
}

func (m *fakeMarket) LastTradePx(security string) (float64, bool) {
	px, ok := m.lastTrade[security]
	return px, ok
}

func (m *fakeMarket) SecurityFloat(security string) (float64, bool) {
	f, ok := m.secFloat[security]
	return f, ok
}

type fakeNotifier struct {
	mu sync.Mutex

	portfolioDeltas []snapshot.PortfolioStatusDelta
	pauseAlerts     []string
	orderNotifies   int
	statusNotifies  int
}

func (n *fakeNotifier) PublishPortfolioDelta(d snapshot.PortfolioStatusDelta) {
	n.mu.Lock()
	n.portfolioDeltas = append(n.portfolioDeltas, d)
	n.mu.Unlock()
}

func (n *fakeNotifier) PublishPauseAlert(_, reason string) {
	n.mu.Lock()
	n.pauseAlerts = append(n.pauseAlerts, reason)
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifyOrderSnapshot(_ *snapshot.OrderSnapshot) {
	n.mu.Lock()
	n.orderNotifies++
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifySymbolSideSnapshot(_ *snapshot.SymbolSideSnapshot) {}
func (n *fakeNotifier) NotifyStratBrief(_ *snapshot.StratBrief)                 {}

func (n *fakeNotifier) NotifyStratStatus(_ *snapshot.StratStatus) {
	n.mu.Lock()
	n.statusNotifies++
	n.mu.Unlock()
}

// --- harness ---

type harness struct {
	engine   *Engine
	cache    *snapshot.StratCache
	store    *fakeStore
	market   *fakeMarket
	notifier *fakeNotifier
	fxConv   *fx.Converter
}

func defaultLimits() *snapshot.StratLimits {
	return &snapshot.StratLimits{
		ID:                       "strat-1",
		MaxSingleLegNotional:     1_000_000,
		MaxOpenSingleLegNotional: 500_000,
		MaxNetFilledNotional:     200_000,
		MaxConcentration:         5,
		CancelRate:               snapshot.CancelRateLimit{MaxCancelRate: 30, WaivedMinOrders: 10},
		MarketParticipation:      snapshot.ParticipationLimit{MaxParticipationRate: 10, ApplicableWindow: time.Hour},
		Residual:                 snapshot.ResidualRestriction{MaxResidual: 100_000},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cache := snapshot.NewStratCache()
	cache.PutStratLimits(defaultLimits())
	cache.PutStratStatus(&snapshot.StratStatus{ID: "strat-1", State: event.StratStateActive})
	cache.PutStratBrief(&snapshot.StratBrief{
		ID:   "strat-1",
		Buy:  snapshot.PairSideBrief{Security: "AAPL", Side: event.SideBuy},
		Sell: snapshot.PairSideBrief{Security: "MSFT", Side: event.SideSell},
	})

	store := &fakeStore{windowQty: 1_000_000}
	market := &fakeMarket{
		lastTrade: map[string]float64{"AAPL": 150, "MSFT": 300},
		secFloat:  map[string]float64{"AAPL": 10_000_000, "MSFT": 10_000_000},
	}
	notifier := &fakeNotifier{}
	fxConv := fx.NewConverter()
	fxConv.SetRate(1.0, time.Now())

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	engine := NewEngine("strat-1", cache, store, market, fxConv, nil, notifier, metrics, zerolog.Nop())
	engine.SetReady(true)

	return &harness{
		engine:   engine,
		cache:    cache,
		store:    store,
		market:   market,
		notifier: notifier,
		fxConv:   fxConv,
	}
}

func (h *harness) mustHandleOrder(t *testing.T, oj *event.OrderJournal) {
	t.Helper()
	if err := h.engine.HandleOrderJournal(context.Background(), oj); err != nil {
		t.Fatalf("HandleOrderJournal(%s): %v", oj.Event, err)
	}
}

func (h *harness) mustHandleFill(t *testing.T, fj *event.FillsJournal) {
	t.Helper()
	if err := h.engine.HandleFillsJournal(context.Background(), fj); err != nil {
		t.Fatalf("HandleFillsJournal: %v", err)
	}
}

// openOrder drives an order through OE_NEW + OE_ACK.
func (h *harness) openOrder(t *testing.T, orderID string, qty int64, px float64) {
	t.Helper()
	h.mustHandleOrder(t, testutil.NewOrderJournal(orderID, event.OrderEventNew).Qty(qty).Px(px).Seq(1).Build())
	h.mustHandleOrder(t, testutil.NewOrderJournal(orderID, event.OrderEventAck).Qty(qty).Px(px).Seq(2).Build())
}

// --- gates ---

func TestHandleOrderJournalNotReady(t *testing.T) {
	h := newHarness(t)
	h.engine.SetReady(false)

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Build()
	if err := h.engine.HandleOrderJournal(context.Background(), oj); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
	if len(h.store.orderJournals) != 0 {
		t.Fatal("journal persisted before readiness")
	}
}

func TestHandleOrderJournalNotReadyWithoutFxRate(t *testing.T) {
	h := newHarness(t)
	// Ready but the FX converter never refreshed.
	h.fxConv = fx.NewConverter()
	engine := NewEngine("strat-1", h.cache, h.store, h.market, h.fxConv, nil, h.notifier,
		observability.NewMetricsWith(prometheus.NewRegistry()), zerolog.Nop())
	engine.SetReady(true)

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Build()
	if err := engine.HandleOrderJournal(context.Background(), oj); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
}

func TestHandleOrderJournalPausedStrat(t *testing.T) {
	h := newHarness(t)
	status := h.cache.GetStratStatus()
	status.State = event.StratStatePaused
	h.cache.PutStratStatus(status)

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Build()
	if err := h.engine.HandleOrderJournal(context.Background(), oj); !errors.Is(err, ErrStratNotOngoing) {
		t.Fatalf("want ErrStratNotOngoing, got %v", err)
	}
}

func TestHandleFillsJournalNotReady(t *testing.T) {
	h := newHarness(t)
	h.engine.SetReady(false)

	fj := testutil.NewFillsJournal("ord-1").Build()
	if err := h.engine.HandleFillsJournal(context.Background(), fj); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
}

// --- order cascade ---

func TestNewOrderCascade(t *testing.T) {
	h := newHarness(t)

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Build()
	h.mustHandleOrder(t, oj)

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap == nil {
		t.Fatal("order snapshot not cached")
	}
	if snap.Status != event.OrderStatusUnack {
		t.Errorf("status = %s, want OE_UNACK", snap.Status)
	}

	sss := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy)
	if sss == nil {
		t.Fatal("symbol-side snapshot not created")
	}
	if sss.TotalQty != 100 || sss.OrderCount != 1 || sss.AvgPx != 150 {
		t.Errorf("symbol-side totals = qty %d count %d avg %.2f, want 100/1/150",
			sss.TotalQty, sss.OrderCount, sss.AvgPx)
	}
	if sss.ID != "strat-1:AAPL:BUY" {
		t.Errorf("symbol-side id = %s", sss.ID)
	}

	brief := h.cache.GetStratBrief()
	if brief.Buy.OpenQty != 100 || brief.Buy.OpenNotional != 15000 {
		t.Errorf("buy leg open = %d/%.2f, want 100/15000", brief.Buy.OpenQty, brief.Buy.OpenNotional)
	}

	status := h.cache.GetStratStatus()
	if status.Buy.TotalQty != 100 || status.Buy.TotalNotional != 15000 {
		t.Errorf("status buy totals = %d/%.2f, want 100/15000", status.Buy.TotalQty, status.Buy.TotalNotional)
	}
	if status.Buy.TotalOpenQty != 100 || status.TotalOpenExposure != 15000 {
		t.Errorf("open exposure = %d/%.2f, want 100/15000", status.Buy.TotalOpenQty, status.TotalOpenExposure)
	}

	if len(h.notifier.portfolioDeltas) != 1 {
		t.Fatalf("portfolio deltas = %d, want 1", len(h.notifier.portfolioDeltas))
	}
	if d := h.notifier.portfolioDeltas[0]; d.OverallBuyNotionalDelta != 15000 {
		t.Errorf("portfolio buy delta = %.2f, want 15000", d.OverallBuyNotionalDelta)
	}
}

func TestNewOrderSecondOrderAveragesIn(t *testing.T) {
	h := newHarness(t)

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Seq(1).Build())
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-2", event.OrderEventNew).Qty(100).Px(160).Seq(2).Build())

	sss := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy)
	if sss.OrderCount != 2 || sss.TotalQty != 200 {
		t.Errorf("count/qty = %d/%d, want 2/200", sss.OrderCount, sss.TotalQty)
	}
	if sss.AvgPx != 155 {
		t.Errorf("avg px = %.2f, want 155", sss.AvgPx)
	}
}

func TestDuplicateNewAbandonsCascade(t *testing.T) {
	h := newHarness(t)

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Seq(1).Build())
	before := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy).TotalQty

	// Duplicate OE_NEW is persisted (idempotent store) but the cascade stops.
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Seq(2).Build())

	if got := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy).TotalQty; got != before {
		t.Errorf("symbol-side qty moved on duplicate OE_NEW: %d -> %d", before, got)
	}
}

func TestZeroPxBackfillFromTopOfBook(t *testing.T) {
	h := newHarness(t)

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(0).Build()
	h.mustHandleOrder(t, oj)

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.Order.Px != 150 {
		t.Errorf("backfilled px = %.2f, want 150 from top of book", snap.Order.Px)
	}
}

func TestZeroPxNoTopOfBookFails(t *testing.T) {
	h := newHarness(t)
	delete(h.market.lastTrade, "AAPL")

	oj := testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(0).Build()
	if err := h.engine.HandleOrderJournal(context.Background(), oj); err == nil {
		t.Fatal("want error when no top of book for px backfill")
	}
	if len(h.store.orderJournals) != 0 {
		t.Fatal("journal persisted despite failed backfill")
	}
}

func TestAckTransition(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusAcked {
		t.Errorf("status = %s, want OE_ACKED", got)
	}
}

func TestIllegalTransitionAbandons(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	// Second ack against OE_ACKED is an inconsistency; the journal is
	// persisted but the snapshot does not move.
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventAck).Seq(3).Build())

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusAcked {
		t.Errorf("status = %s, want OE_ACKED unchanged", got)
	}
}

func TestCancelConfirmCancelsRemainder(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxl).Seq(3).Build())
	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusCxlUnack {
		t.Fatalf("status = %s, want OE_CXL_UNACK", got)
	}

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxlAck).Seq(4).Build())

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.Status != event.OrderStatusDOD {
		t.Fatalf("status = %s, want OE_DOD", snap.Status)
	}
	if snap.CxledQty != 100 || snap.CxledNotional != 15000 {
		t.Errorf("cxled = %d/%.2f, want 100/15000", snap.CxledQty, snap.CxledNotional)
	}

	brief := h.cache.GetStratBrief()
	if brief.Buy.OpenQty != 0 || brief.Buy.AllBrokerCxledQty != 100 {
		t.Errorf("buy leg open/cxled = %d/%d, want 0/100", brief.Buy.OpenQty, brief.Buy.AllBrokerCxledQty)
	}

	status := h.cache.GetStratStatus()
	if status.Buy.TotalCxlQty != 100 || status.Buy.TotalOpenQty != 0 {
		t.Errorf("status cxl/open = %d/%d, want 100/0", status.Buy.TotalCxlQty, status.Buy.TotalOpenQty)
	}

	// New order +15000, cancel -15000.
	last := h.notifier.portfolioDeltas[len(h.notifier.portfolioDeltas)-1]
	if last.OverallBuyNotionalDelta != -15000 {
		t.Errorf("cancel portfolio delta = %.2f, want -15000", last.OverallBuyNotionalDelta)
	}
}

func TestNewRejectGoesDOD(t *testing.T) {
	h := newHarness(t)
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Seq(1).Build())
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventBrkRej).Seq(2).Build())

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.Status != event.OrderStatusDOD {
		t.Fatalf("status = %s, want OE_DOD", snap.Status)
	}
	if snap.CxledQty != 100 {
		t.Errorf("cxled qty = %d, want full remainder 100", snap.CxledQty)
	}
}

func TestCxlRejectRevertsViaLookback(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxl).Seq(3).Build())

	// Broker rejects the cancel: the 3-deep lookback sees
	// [CXL_BRK_REJ, OE_CXL, OE_ACK] and reverts to OE_ACKED.
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxlBrkRej).Seq(4).Build())

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusAcked {
		t.Errorf("status = %s, want OE_ACKED after revert", got)
	}
}

func TestCxlRejectAfterFullFillGoesFilled(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxl).Seq(3).Build())
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(100).Px(150).Seq(4).Build())

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxlIntRej).Seq(5).Build())

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusFilled {
		t.Errorf("status = %s, want OE_FILLED", got)
	}
}

// --- fill cascade ---

func TestFillReducesOpenAndAccumulates(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(40).Px(151).Seq(3).Build())

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.FilledQty != 40 {
		t.Errorf("filled qty = %d, want 40", snap.FilledQty)
	}
	if snap.Status != event.OrderStatusAcked {
		t.Errorf("status = %s, want OE_ACKED on partial fill", snap.Status)
	}
	if snap.FillNotional != 40*151 {
		t.Errorf("fill notional = %.2f, want %.2f", snap.FillNotional, float64(40*151))
	}

	sss := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy)
	if sss.TotalFilledQty != 40 {
		t.Errorf("symbol-side filled = %d, want 40", sss.TotalFilledQty)
	}

	brief := h.cache.GetStratBrief()
	// Open reduced at order px, not fill px.
	if brief.Buy.OpenQty != 60 || brief.Buy.OpenNotional != 60*150 {
		t.Errorf("buy leg open = %d/%.2f, want 60/%d", brief.Buy.OpenQty, brief.Buy.OpenNotional, 60*150)
	}
	if brief.Buy.ResidualQty != 40 {
		t.Errorf("residual qty = %d, want total filled 40", brief.Buy.ResidualQty)
	}

	status := h.cache.GetStratStatus()
	if status.Buy.TotalFillQty != 40 || status.Buy.TotalFillNotional != 40*151 {
		t.Errorf("status fill = %d/%.2f", status.Buy.TotalFillQty, status.Buy.TotalFillNotional)
	}
}

func TestExactFillMarksFilled(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(100).Px(150).Seq(3).Build())

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusFilled {
		t.Errorf("status = %s, want OE_FILLED", got)
	}
}

func TestOverFillPausesStrategy(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)

	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(150).Px(150).Seq(3).Build())

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.Status != event.OrderStatusOverFilled {
		t.Fatalf("status = %s, want OE_OVER_FILLED", snap.Status)
	}
	if snap.FilledQty != 0 {
		t.Errorf("filled qty = %d, over-fill must not apply totals", snap.FilledQty)
	}
	if h.cache.StratState() != event.StratStatePaused {
		t.Error("strategy not paused on over-fill")
	}
	if len(h.notifier.pauseAlerts) == 0 {
		t.Fatal("no pause alert raised")
	}

	// Further events bounce off the ongoing gate.
	fj := testutil.NewFillsJournal("ord-1").Qty(1).Seq(4).Build()
	if err := h.engine.HandleFillsJournal(context.Background(), fj); !errors.Is(err, ErrStratNotOngoing) {
		t.Fatalf("want ErrStratNotOngoing after pause, got %v", err)
	}
}

func TestFillAgainstFilledOrderIsOverFill(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(100).Px(150).Seq(3).Build())

	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(1).Px(150).Seq(4).Build())

	if got := h.cache.GetOrderSnapshot("ord-1").Status; got != event.OrderStatusOverFilled {
		t.Errorf("status = %s, want OE_OVER_FILLED", got)
	}
	if h.cache.StratState() != event.StratStatePaused {
		t.Error("strategy not paused")
	}
}

func TestLateFillBacksOutCancelledTotals(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxl).Seq(3).Build())
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventCxlAck).Seq(4).Build())

	briefBefore := h.cache.GetStratBrief()
	if briefBefore.Buy.AllBrokerCxledQty != 100 {
		t.Fatalf("precondition: cxled qty = %d, want 100", briefBefore.Buy.AllBrokerCxledQty)
	}

	// Fill lands after the cancel confirm.
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(30).Px(150).Seq(5).Build())

	snap := h.cache.GetOrderSnapshot("ord-1")
	if snap.Status != event.OrderStatusDOD {
		t.Errorf("status = %s, late fill must not move OE_DOD", snap.Status)
	}
	if snap.FilledQty != 30 || snap.CxledQty != 70 {
		t.Errorf("filled/cxled = %d/%d, want 30/70", snap.FilledQty, snap.CxledQty)
	}

	sss := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy)
	if sss.TotalCxledQty != 70 || sss.TotalFilledQty != 30 {
		t.Errorf("symbol-side cxled/filled = %d/%d, want 70/30", sss.TotalCxledQty, sss.TotalFilledQty)
	}

	brief := h.cache.GetStratBrief()
	if brief.Buy.AllBrokerCxledQty != 70 {
		t.Errorf("leg cxled = %d, want 70", brief.Buy.AllBrokerCxledQty)
	}
	if brief.Buy.OpenQty != 0 {
		t.Errorf("open qty = %d, late fill must not change open", brief.Buy.OpenQty)
	}

	status := h.cache.GetStratStatus()
	if status.Buy.TotalCxlQty != 70 || status.Buy.TotalFillQty != 30 {
		t.Errorf("status cxl/fill = %d/%d, want 70/30", status.Buy.TotalCxlQty, status.Buy.TotalFillQty)
	}
}

func TestFillAgainstUnknownOrderAbandons(t *testing.T) {
	h := newHarness(t)

	fj := testutil.NewFillsJournal("ghost").Qty(10).Build()
	if err := h.engine.HandleFillsJournal(context.Background(), fj); err != nil {
		t.Fatalf("post-persist abandon must not error: %v", err)
	}
	if len(h.store.fillsJournals) != 1 {
		t.Error("fill journal should persist before the cascade abandons")
	}
	if h.cache.StratState() != event.StratStateActive {
		t.Error("missing dependency must not pause the strategy")
	}
}

// --- residual + pause ---

func TestResidualBreachPauses(t *testing.T) {
	h := newHarness(t)
	lim := defaultLimits()
	lim.Residual.MaxResidual = 1000
	h.cache.PutStratLimits(lim)

	h.openOrder(t, "ord-1", 100, 150)
	// 100 * 150 = 15000 residual on the buy leg, nothing hedged on sell.
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(100).Px(150).Seq(3).Build())

	if h.cache.StratState() != event.StratStatePaused {
		t.Fatal("residual breach must pause the strategy")
	}
	found := false
	for _, reason := range h.notifier.pauseAlerts {
		if strings.Contains(reason, "residual") {
			found = true
		}
	}
	if !found {
		t.Errorf("no residual pause alert in %v", h.notifier.pauseAlerts)
	}

	status := h.cache.GetStratStatus()
	if status.Residual.ResidualNotional != 15000 {
		t.Errorf("residual notional = %.2f, want 15000", status.Residual.ResidualNotional)
	}
	if status.Residual.Security != "AAPL" {
		t.Errorf("residual assigned to %s, want the larger-notional leg AAPL", status.Residual.Security)
	}
}

func TestSellFillHedgesResidual(t *testing.T) {
	h := newHarness(t)

	h.openOrder(t, "ord-1", 100, 150)
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(100).Px(150).Seq(3).Build())

	// Hedge with 50 MSFT @ 300: both legs now carry 15000 USD.
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-2", event.OrderEventNew).
		Security("MSFT").Side(event.SideSell).Qty(50).Px(300).Seq(4).Build())
	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-2", event.OrderEventAck).
		Security("MSFT").Side(event.SideSell).Seq(5).Build())
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-2").
		Security("MSFT").Side(event.SideSell).Qty(50).Px(300).Seq(6).Build())

	status := h.cache.GetStratStatus()
	if status.Residual.ResidualNotional != 0 {
		t.Errorf("residual notional = %.2f, want 0 when legs balance", status.Residual.ResidualNotional)
	}
}

func TestFxConversionAffectsNotional(t *testing.T) {
	h := newHarness(t)
	h.fxConv.SetRate(2.0, time.Now())

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Build())

	// 150 local / 2.0 fx * 100 qty.
	brief := h.cache.GetStratBrief()
	if brief.Buy.OpenNotional != 7500 {
		t.Errorf("open notional = %.2f, want 7500 at fx 2.0", brief.Buy.OpenNotional)
	}
}

func TestBriefStoreFailureSkipsStatusStep(t *testing.T) {
	h := newHarness(t)
	h.openOrder(t, "ord-1", 100, 150)
	h.store.failUpdateStratBrief = errors.New("pg down")

	statusBefore := h.cache.GetStratStatus().Version
	h.mustHandleFill(t, testutil.NewFillsJournal("ord-1").Qty(10).Px(150).Seq(3).Build())

	// Order and symbol-side snapshots applied, brief failed, status skipped.
	if got := h.cache.GetOrderSnapshot("ord-1").FilledQty; got != 10 {
		t.Errorf("filled qty = %d, prior steps must stay applied", got)
	}
	if got := h.cache.GetStratStatus().Version; got != statusBefore {
		t.Error("status updated despite abandoned brief step")
	}
}

func TestWindowQueryFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.store.windowErr = errors.New("aggregate timeout")

	h.mustHandleOrder(t, testutil.NewOrderJournal("ord-1", event.OrderEventNew).Qty(100).Px(150).Build())

	// Cascade completes; participation stays at its zero value.
	brief := h.cache.GetStratBrief()
	if brief.Buy.OpenQty != 100 {
		t.Errorf("open qty = %d, participation failure must not abandon", brief.Buy.OpenQty)
	}
	if brief.Buy.IndicativeConsumableParticipationQty != 0 {
		t.Errorf("participation = %.2f, want untouched 0", brief.Buy.IndicativeConsumableParticipationQty)
	}
}
