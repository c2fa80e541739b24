package marketdata

import (
	"testing"
	"time"

	"stratbook/internal/event"
)

func TestApplyTopOfBook(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()

	c.ApplyTopOfBook(&event.TopOfBookUpdate{
		Security: "AAPL", LastTradePx: 150, LastTradeQty: 10,
		BidPx: 149.9, AskPx: 150.1, Sequence: 1, Time: now,
	})

	tob, ok := c.GetTopOfBook("AAPL")
	if !ok {
		t.Fatal("book missing after apply")
	}
	if tob.LastTradePx != 150 || tob.BidPx != 149.9 || tob.AskPx != 150.1 {
		t.Errorf("book = %+v", tob)
	}
	if !c.HasTopOfBook("AAPL") || c.HasTopOfBook("MSFT") {
		t.Error("HasTopOfBook wrong")
	}
}

func TestStaleSequenceIgnored(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()

	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 150, Sequence: 5, Time: now})
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 140, Sequence: 4, Time: now})
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 145, Sequence: 5, Time: now})

	px, ok := c.LastTradePx("AAPL")
	if !ok || px != 150 {
		t.Errorf("LastTradePx = %f, want 150 after stale replays", px)
	}
}

func TestLastTradePxUnknown(t *testing.T) {
	c := NewCache(time.Hour)
	if _, ok := c.LastTradePx("AAPL"); ok {
		t.Error("unknown symbol reported a price")
	}

	// Book without a trade print is not a usable price.
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", BidPx: 149, AskPx: 151, Sequence: 1, Time: time.Now()})
	if _, ok := c.LastTradePx("AAPL"); ok {
		t.Error("zero last-trade px reported as available")
	}
}

func TestSymbolOverview(t *testing.T) {
	c := NewCache(time.Hour)

	if _, ok := c.SecurityFloat("AAPL"); ok {
		t.Error("float reported before any overview push")
	}

	c.ApplySymbolOverview(&event.SymbolOverviewUpdate{Security: "AAPL", SecurityFloat: 1e7, Sequence: 1, Time: time.Now()})
	c.ApplySymbolOverview(&event.SymbolOverviewUpdate{Security: "AAPL", SecurityFloat: 5, Sequence: 1, Time: time.Now()})

	f, ok := c.SecurityFloat("AAPL")
	if !ok || f != 1e7 {
		t.Errorf("SecurityFloat = %f, want 1e7 (stale sequence ignored)", f)
	}
	if c.OverviewCount() != 1 {
		t.Errorf("OverviewCount = %d, want 1", c.OverviewCount())
	}
}

func TestWindowTradedQty(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()

	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 150, LastTradeQty: 100, Sequence: 1, Time: now.Add(-40 * time.Minute)})
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 151, LastTradeQty: 200, Sequence: 2, Time: now.Add(-10 * time.Minute)})
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 152, LastTradeQty: 300, Sequence: 3, Time: now})

	if got := c.WindowTradedQty("AAPL", 30*time.Minute, now); got != 500 {
		t.Errorf("30m window = %d, want 500", got)
	}
	if got := c.WindowTradedQty("AAPL", time.Hour, now); got != 600 {
		t.Errorf("1h window = %d, want 600", got)
	}
	if got := c.WindowTradedQty("MSFT", time.Hour, now); got != 0 {
		t.Errorf("unknown symbol window = %d, want 0", got)
	}
}

func TestWindowEvictsBeyondMaxWindow(t *testing.T) {
	c := NewCache(10 * time.Minute)
	now := time.Now()

	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 150, LastTradeQty: 100, Sequence: 1, Time: now.Add(-20 * time.Minute)})
	c.ApplyTopOfBook(&event.TopOfBookUpdate{Security: "AAPL", LastTradePx: 151, LastTradeQty: 200, Sequence: 2, Time: now})

	// The old tick fell out of the retained window entirely.
	if got := c.WindowTradedQty("AAPL", time.Hour, now); got != 200 {
		t.Errorf("qty = %d, want 200 after eviction", got)
	}
}
