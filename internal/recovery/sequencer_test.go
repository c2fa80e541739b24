package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/marketdata"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

type fakeLoader struct {
	pingErr error

	limits     *snapshot.StratLimits
	brief      *snapshot.StratBrief
	status     *snapshot.StratStatus
	sides      []snapshot.SymbolSideSnapshot
	openOrders []snapshot.OrderSnapshot

	createdLimits int
	createdBriefs int
	createdStatus int
	createdSides  []string
}

func (f *fakeLoader) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeLoader) LoadStratLimits(ctx context.Context, stratID string) (*snapshot.StratLimits, error) {
	return f.limits, nil
}

func (f *fakeLoader) LoadStratBrief(ctx context.Context, stratID string) (*snapshot.StratBrief, error) {
	return f.brief, nil
}

func (f *fakeLoader) LoadStratStatus(ctx context.Context, stratID string) (*snapshot.StratStatus, error) {
	return f.status, nil
}

func (f *fakeLoader) LoadSymbolSideSnapshots(ctx context.Context, stratID string) ([]snapshot.SymbolSideSnapshot, error) {
	return f.sides, nil
}

func (f *fakeLoader) LoadOpenOrderSnapshots(ctx context.Context, stratID string) ([]snapshot.OrderSnapshot, error) {
	return f.openOrders, nil
}

func (f *fakeLoader) CreateStratLimits(ctx context.Context, l *snapshot.StratLimits) error {
	f.createdLimits++
	lim := *l
	f.limits = &lim
	return nil
}

func (f *fakeLoader) CreateStratBrief(ctx context.Context, b *snapshot.StratBrief) error {
	f.createdBriefs++
	br := *b
	f.brief = &br
	return nil
}

func (f *fakeLoader) CreateStratStatus(ctx context.Context, s *snapshot.StratStatus) error {
	f.createdStatus++
	st := *s
	f.status = &st
	return nil
}

func (f *fakeLoader) CreateSymbolSideSnapshot(ctx context.Context, s *snapshot.SymbolSideSnapshot) error {
	f.createdSides = append(f.createdSides, s.ID)
	f.sides = append(f.sides, *s)
	return nil
}

type fakeReadyTarget struct {
	ready bool
}

func (f *fakeReadyTarget) SetReady(ready bool) { f.ready = ready }

type seqHarness struct {
	seq    *Sequencer
	loader *fakeLoader
	cache  *snapshot.StratCache
	market *marketdata.Cache
	fxConv *fx.Converter
	target *fakeReadyTarget
}

func newSeqHarness(t *testing.T, cfg Config, loader *fakeLoader) *seqHarness {
	t.Helper()
	cfg.StratID = "strat-1"
	cfg.BuySecurity = "AAPL"
	cfg.SellSecurity = "MSFT"
	cfg.ProbeInterval = time.Minute
	cfg.ProbeTimeout = time.Second

	h := &seqHarness{
		loader: loader,
		cache:  snapshot.NewStratCache(),
		market: marketdata.NewCache(time.Hour),
		fxConv: fx.NewConverter(),
		target: &fakeReadyTarget{},
	}
	h.seq = NewSequencer(cfg, loader, h.cache, h.market, h.fxConv,
		h.target, observability.NewHealthChecker(),
		observability.NewMetricsWith(prometheus.NewRegistry()), nil, zerolog.Nop())
	return h
}

// primeMarket satisfies the fx and symbol-overview rungs.
func (h *seqHarness) primeMarket() {
	h.fxConv.SetRate(1.0, time.Now())
	h.market.ApplySymbolOverview(&event.SymbolOverviewUpdate{Security: "AAPL", SecurityFloat: 1e7, Sequence: 1, Time: time.Now()})
	h.market.ApplySymbolOverview(&event.SymbolOverviewUpdate{Security: "MSFT", SecurityFloat: 1e7, Sequence: 1, Time: time.Now()})
}

func TestFreshLaunchSeedsEntities(t *testing.T) {
	loader := &fakeLoader{}
	h := newSeqHarness(t, Config{
		Fresh: true,
		InitialState: StateSeed{
			Limits:     snapshot.StratLimits{MaxSingleLegNotional: 1e6},
			StratState: event.StratStateActive,
		},
	}, loader)
	h.primeMarket()

	if err := h.seq.advance(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if h.seq.State() != StateServiceReady {
		t.Fatalf("state = %s, want SERVICE_READY", h.seq.State())
	}

	if loader.createdLimits != 1 || loader.createdStatus != 1 || loader.createdBriefs != 1 {
		t.Errorf("creates = limits %d / status %d / briefs %d, want 1 each",
			loader.createdLimits, loader.createdStatus, loader.createdBriefs)
	}
	if len(loader.createdSides) != 4 {
		t.Errorf("created %d symbol sides, want 4: %v", len(loader.createdSides), loader.createdSides)
	}
	if loader.limits.ID != "strat-1" {
		t.Errorf("seeded limits ID = %q", loader.limits.ID)
	}
	if loader.status.State != event.StratStateActive {
		t.Errorf("seeded state = %s, want ACTIVE", loader.status.State)
	}
	if loader.brief.Buy.Security != "AAPL" || loader.brief.Sell.Security != "MSFT" {
		t.Errorf("seeded brief legs = %q/%q", loader.brief.Buy.Security, loader.brief.Sell.Security)
	}

	// Everything seeded lands in the cache.
	if h.cache.GetStratLimits() == nil || h.cache.GetStratBrief() == nil {
		t.Error("cache missing limits or brief after seed")
	}
	if h.cache.StratState() != event.StratStateActive {
		t.Errorf("cached state = %s", h.cache.StratState())
	}
	if !h.target.ready {
		t.Error("ready target not flipped")
	}
}

func TestFreshLaunchPartialSeedIsIdempotent(t *testing.T) {
	loader := &fakeLoader{
		status: &snapshot.StratStatus{ID: "strat-1", State: event.StratStateReady},
		sides: []snapshot.SymbolSideSnapshot{
			{ID: "strat-1:AAPL:BUY", Security: "AAPL", Side: event.SideBuy},
		},
	}
	h := newSeqHarness(t, Config{Fresh: true}, loader)
	h.primeMarket()

	if err := h.seq.advance(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if loader.createdStatus != 0 {
		t.Errorf("re-created existing status %d times", loader.createdStatus)
	}
	if len(loader.createdSides) != 3 {
		t.Errorf("created %d symbol sides, want the 3 missing ones: %v", len(loader.createdSides), loader.createdSides)
	}
}

func TestRecoveryRequiresExistingEntities(t *testing.T) {
	loader := &fakeLoader{}
	h := newSeqHarness(t, Config{Fresh: false}, loader)
	h.primeMarket()

	err := h.seq.advance(context.Background())
	if err == nil {
		t.Fatal("recovery with no persisted limits must fail")
	}
	if h.seq.State() != StateServicesUp {
		t.Errorf("state = %s, want stuck at SERVICES_UP", h.seq.State())
	}
	if h.target.ready {
		t.Error("ready target flipped despite failed ladder")
	}
}

func TestRecoveryHydratesCache(t *testing.T) {
	loader := &fakeLoader{
		limits: &snapshot.StratLimits{ID: "strat-1", MaxSingleLegNotional: 1e6},
		status: &snapshot.StratStatus{ID: "strat-1", State: event.StratStatePaused},
		brief:  &snapshot.StratBrief{ID: "strat-1"},
		sides: []snapshot.SymbolSideSnapshot{
			{ID: "strat-1:AAPL:BUY", Security: "AAPL", Side: event.SideBuy, TotalQty: 500},
		},
		openOrders: []snapshot.OrderSnapshot{
			{ID: "ord-1", Order: event.OrderBrief{OrderID: "ord-1", Security: "AAPL"}, Status: event.OrderStatusAcked},
		},
	}
	h := newSeqHarness(t, Config{Fresh: false}, loader)
	h.primeMarket()

	if err := h.seq.advance(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if h.cache.StratState() != event.StratStatePaused {
		t.Errorf("cached state = %s, want PAUSED", h.cache.StratState())
	}
	if ss := h.cache.GetSymbolSideSnapshot("AAPL", event.SideBuy); ss == nil || ss.TotalQty != 500 {
		t.Errorf("symbol side = %+v", ss)
	}
	if o := h.cache.GetOrderSnapshot("ord-1"); o == nil || o.Status != event.OrderStatusAcked {
		t.Errorf("open order = %+v", o)
	}
	if loader.createdStatus != 0 || loader.createdBriefs != 0 {
		t.Error("recovery mode must not create entities")
	}
}

func TestLadderStopsAtFirstFailedRung(t *testing.T) {
	loader := &fakeLoader{
		limits: &snapshot.StratLimits{ID: "strat-1"},
		status: &snapshot.StratStatus{ID: "strat-1", State: event.StratStateActive},
		brief:  &snapshot.StratBrief{ID: "strat-1"},
	}
	h := newSeqHarness(t, Config{Fresh: false}, loader)
	// No fx rate: ladder must stop at the fx rung.

	err := h.seq.advance(context.Background())
	if err == nil {
		t.Fatal("want fx rung failure")
	}
	if h.seq.State() != StateStaticDataReady {
		t.Errorf("state = %s, want STATIC_DATA_READY", h.seq.State())
	}

	// A later pass resumes from the failed rung only.
	h.primeMarket()
	if err := h.seq.advance(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.seq.State() != StateServiceReady {
		t.Errorf("state = %s, want SERVICE_READY", h.seq.State())
	}
}

func TestBusProbeFailureBlocksServicesUp(t *testing.T) {
	loader := &fakeLoader{}
	h := newSeqHarness(t, Config{Fresh: true}, loader)
	h.primeMarket()
	h.seq.busProbe = func() error { return errors.New("nats disconnected") }

	err := h.seq.advance(context.Background())
	if err == nil {
		t.Fatal("want bus probe failure")
	}
	if h.seq.State() != StateNotReady {
		t.Errorf("state = %s, want NOT_READY", h.seq.State())
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	loader := &fakeLoader{pingErr: errors.New("store down")}
	h := newSeqHarness(t, Config{Fresh: true}, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.seq.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
