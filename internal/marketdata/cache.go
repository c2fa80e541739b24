// Package marketdata maintains the in-memory top-of-book and symbol-overview
// caches feeding the reconciliation cascade. The cache is write-through:
// the feed pushes updates in, cascade steps and calculators only ever read
// the cache, never a stale store row.
package marketdata

import (
	"sync"
	"time"

	"stratbook/internal/event"
)

// TopOfBook is the latest market picture for one symbol.
type TopOfBook struct {
	Security     string
	LastTradePx  float64
	LastTradeQty int64
	BidPx        float64
	AskPx        float64
	Sequence     int64
	Time         time.Time
}

// SymbolOverview carries security static data (float) for concentration math.
type SymbolOverview struct {
	Security      string
	SecurityFloat float64
	Sequence      int64
	Time          time.Time
}

// tradeTick is one observed market trade, kept for windowed participation.
type tradeTick struct {
	qty int64
	at  time.Time
}

// Cache holds top-of-book, symbol overviews, and a rolling window of market
// trade quantities per symbol for the participation calculator.
type Cache struct {
	mu        sync.RWMutex
	books     map[string]*TopOfBook
	overviews map[string]*SymbolOverview
	trades    map[string][]tradeTick
	maxWindow time.Duration
}

func NewCache(maxWindow time.Duration) *Cache {
	if maxWindow <= 0 {
		maxWindow = 5 * time.Minute
	}
	return &Cache{
		books:     make(map[string]*TopOfBook),
		overviews: make(map[string]*SymbolOverview),
		trades:    make(map[string][]tradeTick),
		maxWindow: maxWindow,
	}
}

// ApplyTopOfBook installs a pushed top-of-book update. Stale sequences are
// silently ignored (idempotent feed replays).
func (c *Cache) ApplyTopOfBook(u *event.TopOfBookUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.books[u.Security]
	if cur != nil && u.Sequence <= cur.Sequence {
		return
	}

	c.books[u.Security] = &TopOfBook{
		Security:     u.Security,
		LastTradePx:  u.LastTradePx,
		LastTradeQty: u.LastTradeQty,
		BidPx:        u.BidPx,
		AskPx:        u.AskPx,
		Sequence:     u.Sequence,
		Time:         u.Time,
	}

	if u.LastTradeQty > 0 {
		ticks := append(c.trades[u.Security], tradeTick{qty: u.LastTradeQty, at: u.Time})
		cutoff := u.Time.Add(-c.maxWindow)
		for len(ticks) > 0 && ticks[0].at.Before(cutoff) {
			ticks = ticks[1:]
		}
		c.trades[u.Security] = ticks
	}
}

// ApplySymbolOverview installs a pushed symbol overview update.
func (c *Cache) ApplySymbolOverview(u *event.SymbolOverviewUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.overviews[u.Security]
	if cur != nil && u.Sequence <= cur.Sequence {
		return
	}

	c.overviews[u.Security] = &SymbolOverview{
		Security:      u.Security,
		SecurityFloat: u.SecurityFloat,
		Sequence:      u.Sequence,
		Time:          u.Time,
	}
}

// GetTopOfBook returns a copy of the top-of-book for the symbol.
func (c *Cache) GetTopOfBook(security string) (TopOfBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tob := c.books[security]
	if tob == nil {
		return TopOfBook{}, false
	}
	return *tob, true
}

// LastTradePx returns the last-trade price for the symbol.
func (c *Cache) LastTradePx(security string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tob := c.books[security]
	if tob == nil || tob.LastTradePx <= 0 {
		return 0, false
	}
	return tob.LastTradePx, true
}

// SecurityFloat returns the security float for the symbol (0, false when the
// overview was never pushed; concentration is then not consumable).
func (c *Cache) SecurityFloat(security string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ov := c.overviews[security]
	if ov == nil {
		return 0, false
	}
	return ov.SecurityFloat, true
}

// WindowTradedQty sums market trade quantity for the symbol over the last
// `window`, evaluated against `now`.
func (c *Cache) WindowTradedQty(security string, window time.Duration, now time.Time) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := now.Add(-window)
	var total int64
	for _, t := range c.trades[security] {
		if !t.at.Before(cutoff) {
			total += t.qty
		}
	}
	return total
}

// OverviewCount returns how many symbol overviews are cached. The readiness
// sequencer requires one per leg before SYMBOL_OVERVIEW_READY.
func (c *Cache) OverviewCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.overviews)
}

// HasTopOfBook reports whether a book is cached for the symbol.
func (c *Cache) HasTopOfBook(security string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.books[security] != nil
}
