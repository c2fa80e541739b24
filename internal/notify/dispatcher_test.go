package notify

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

type captureBus struct {
	subjects []string
	payloads []interface{}
}

func (b *captureBus) Enqueue(subject string, payload interface{}) bool {
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, payload)
	return true
}

func newTestDispatcher(filters Filters) (*Dispatcher, *captureBus) {
	bus := &captureBus{}
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	return NewDispatcher("strat-1", bus, filters, m, zerolog.Nop()), bus
}

func TestSymbolSetFiltersOrders(t *testing.T) {
	d, bus := newTestDispatcher(SymbolSet("AAPL", "MSFT"))

	d.NotifyOrderSnapshot(&snapshot.OrderSnapshot{
		Order: event.OrderBrief{OrderID: "ord-1", Security: "AAPL"},
	})
	d.NotifyOrderSnapshot(&snapshot.OrderSnapshot{
		Order: event.OrderBrief{OrderID: "ord-2", Security: "TSLA"},
	})

	if len(bus.subjects) != 1 {
		t.Fatalf("published %d updates, want 1", len(bus.subjects))
	}
	if bus.subjects[0] != "strat.out.entities.order.AAPL" {
		t.Errorf("subject = %q", bus.subjects[0])
	}
}

func TestSymbolSetFiltersSymbolSides(t *testing.T) {
	d, bus := newTestDispatcher(SymbolSet("MSFT"))

	d.NotifySymbolSideSnapshot(&snapshot.SymbolSideSnapshot{Security: "MSFT", Side: event.SideSell})
	d.NotifySymbolSideSnapshot(&snapshot.SymbolSideSnapshot{Security: "AAPL", Side: event.SideBuy})

	if len(bus.subjects) != 1 {
		t.Fatalf("published %d updates, want 1", len(bus.subjects))
	}
	if bus.subjects[0] != "strat.out.entities.symbol_side.MSFT" {
		t.Errorf("subject = %q", bus.subjects[0])
	}
}

func TestNilFiltersPassEverything(t *testing.T) {
	d, bus := newTestDispatcher(Filters{})

	d.NotifyOrderSnapshot(&snapshot.OrderSnapshot{Order: event.OrderBrief{Security: "ANY"}})
	d.NotifySymbolSideSnapshot(&snapshot.SymbolSideSnapshot{Security: "ANY"})

	if len(bus.subjects) != 2 {
		t.Fatalf("published %d updates, want 2", len(bus.subjects))
	}
}

func TestBriefAndStatusAreNeverFiltered(t *testing.T) {
	// Strategy-scoped entities publish even when the symbol set is empty.
	d, bus := newTestDispatcher(SymbolSet())

	d.NotifyStratBrief(&snapshot.StratBrief{ID: "strat-1"})
	d.NotifyStratStatus(&snapshot.StratStatus{ID: "strat-1"})

	want := []string{
		"strat.out.entities.brief.strat-1",
		"strat.out.entities.status.strat-1",
	}
	if len(bus.subjects) != 2 || bus.subjects[0] != want[0] || bus.subjects[1] != want[1] {
		t.Errorf("subjects = %v, want %v", bus.subjects, want)
	}
}

func TestPortfolioDeltaSubject(t *testing.T) {
	d, bus := newTestDispatcher(Filters{})

	d.PublishPortfolioDelta(snapshot.PortfolioStatusDelta{OverallBuyNotionalDelta: 100})

	if len(bus.subjects) != 1 || bus.subjects[0] != "strat.out.portfolio.strat-1" {
		t.Fatalf("subjects = %v", bus.subjects)
	}
	delta, ok := bus.payloads[0].(snapshot.PortfolioStatusDelta)
	if !ok || delta.OverallBuyNotionalDelta != 100 {
		t.Errorf("payload = %#v", bus.payloads[0])
	}
}

func TestPauseAlertThrottling(t *testing.T) {
	d, bus := newTestDispatcher(Filters{})

	// The limiter allows a burst of 3, then refills one per 10s.
	for i := 0; i < 10; i++ {
		d.PublishPauseAlert("strat-1", "residual breach")
	}

	if len(bus.subjects) != 3 {
		t.Fatalf("published %d alerts, want burst of 3", len(bus.subjects))
	}
	for _, subj := range bus.subjects {
		if subj != "strat.out.alerts.pause" {
			t.Errorf("subject = %q", subj)
		}
	}
	alert, ok := bus.payloads[0].(pauseAlert)
	if !ok || alert.Reason != "residual breach" || alert.StratID != "strat-1" {
		t.Errorf("payload = %#v", bus.payloads[0])
	}
}
