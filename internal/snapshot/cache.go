package snapshot

import (
	"sync"

	"stratbook/internal/event"
)

// symbolSideKey keys SymbolSideSnapshots by (security, side).
type symbolSideKey struct {
	Security string
	Side     event.Side
}

// journalRingCap bounds the per-order journal history kept in memory. The
// cancel-reject revert needs the 3 most recent records; the rest is slack
// for diagnostics.
const journalRingCap = 8

// StratCache is the keyed in-memory cache of current entity snapshots for
// one strategy. The engine never recomputes from full history, only from
// the latest cached snapshot plus the incoming event.
//
// Locks live here, not on the entity types: one RWMutex per entity family
// guards its read-modify-write sequences against non-cascade readers (query
// handlers, the readiness poller). Writes are write-through: the cascade
// persists to the store first, then updates the cache; readers only ever see
// cache contents.
type StratCache struct {
	ordersMu      sync.RWMutex
	orders        map[string]*OrderSnapshot
	orderJournals map[string][]event.OrderJournal // newest last, capped

	symbolSidesMu sync.RWMutex
	symbolSides   map[symbolSideKey]*SymbolSideSnapshot

	briefMu sync.RWMutex
	brief   *StratBrief

	statusMu sync.RWMutex
	status   *StratStatus

	limitsMu sync.RWMutex
	limits   *StratLimits
}

func NewStratCache() *StratCache {
	return &StratCache{
		orders:        make(map[string]*OrderSnapshot),
		orderJournals: make(map[string][]event.OrderJournal),
		symbolSides:   make(map[symbolSideKey]*SymbolSideSnapshot),
	}
}

// --- OrderSnapshot ---

// GetOrderSnapshot returns a copy of the snapshot for the order id, or nil.
func (c *StratCache) GetOrderSnapshot(orderID string) *OrderSnapshot {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()
	o := c.orders[orderID]
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// PutOrderSnapshot stores a copy of the snapshot.
func (c *StratCache) PutOrderSnapshot(o *OrderSnapshot) {
	cp := *o
	c.ordersMu.Lock()
	c.orders[o.Order.OrderID] = &cp
	c.ordersMu.Unlock()
}

// AppendOrderJournal records an order journal into the per-order ring.
func (c *StratCache) AppendOrderJournal(j event.OrderJournal) {
	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()
	ring := append(c.orderJournals[j.Order.OrderID], j)
	if len(ring) > journalRingCap {
		ring = ring[len(ring)-journalRingCap:]
	}
	c.orderJournals[j.Order.OrderID] = ring
}

// RecentOrderJournals returns up to n most recent journals for the order id,
// newest first.
func (c *StratCache) RecentOrderJournals(orderID string, n int) []event.OrderJournal {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()
	ring := c.orderJournals[orderID]
	if len(ring) < n {
		n = len(ring)
	}
	out := make([]event.OrderJournal, 0, n)
	for i := len(ring) - 1; i >= len(ring)-n; i-- {
		out = append(out, ring[i])
	}
	return out
}

// OrderCount returns the number of cached order snapshots.
func (c *StratCache) OrderCount() int {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()
	return len(c.orders)
}

// --- SymbolSideSnapshot ---

// GetSymbolSideSnapshot returns a copy for (security, side), or nil.
func (c *StratCache) GetSymbolSideSnapshot(security string, side event.Side) *SymbolSideSnapshot {
	c.symbolSidesMu.RLock()
	defer c.symbolSidesMu.RUnlock()
	s := c.symbolSides[symbolSideKey{Security: security, Side: side}]
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// PutSymbolSideSnapshot stores a copy of the snapshot.
func (c *StratCache) PutSymbolSideSnapshot(s *SymbolSideSnapshot) {
	cp := *s
	c.symbolSidesMu.Lock()
	c.symbolSides[symbolSideKey{Security: s.Security, Side: s.Side}] = &cp
	c.symbolSidesMu.Unlock()
}

// DeleteSymbolSideSnapshots drops all symbol-side snapshots (strategy unload).
func (c *StratCache) DeleteSymbolSideSnapshots() {
	c.symbolSidesMu.Lock()
	c.symbolSides = make(map[symbolSideKey]*SymbolSideSnapshot)
	c.symbolSidesMu.Unlock()
}

// --- StratBrief ---

// GetStratBrief returns a copy of the brief, or nil when not yet created.
func (c *StratCache) GetStratBrief() *StratBrief {
	c.briefMu.RLock()
	defer c.briefMu.RUnlock()
	if c.brief == nil {
		return nil
	}
	cp := *c.brief
	return &cp
}

// PutStratBrief stores a copy of the brief.
func (c *StratCache) PutStratBrief(b *StratBrief) {
	cp := *b
	c.briefMu.Lock()
	c.brief = &cp
	c.briefMu.Unlock()
}

// --- StratStatus ---

// GetStratStatus returns a copy of the status, or nil when not yet created.
func (c *StratCache) GetStratStatus() *StratStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	if c.status == nil {
		return nil
	}
	cp := *c.status
	return &cp
}

// PutStratStatus stores a copy of the status.
func (c *StratCache) PutStratStatus(s *StratStatus) {
	cp := *s
	c.statusMu.Lock()
	c.status = &cp
	c.statusMu.Unlock()
}

// StratState returns the cached strategy state without copying the whole
// status (hot path for the ongoing gate).
func (c *StratCache) StratState() event.StratState {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	if c.status == nil {
		return event.StratStateUnspecified
	}
	return c.status.State
}

// --- StratLimits ---

// GetStratLimits returns a copy of the limits, or nil when not yet created.
func (c *StratCache) GetStratLimits() *StratLimits {
	c.limitsMu.RLock()
	defer c.limitsMu.RUnlock()
	if c.limits == nil {
		return nil
	}
	cp := *c.limits
	return &cp
}

// PutStratLimits stores a copy of the limits.
func (c *StratCache) PutStratLimits(l *StratLimits) {
	cp := *l
	c.limitsMu.Lock()
	c.limits = &cp
	c.limitsMu.Unlock()
}
