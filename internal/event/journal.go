package event

import (
	"fmt"
	"time"
)

// EventType discriminator for inbound payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOrderJournal
	EventTypeFillsJournal
	EventTypeTopOfBook
	EventTypeFxRate
	EventTypeSymbolOverview
)

func (et EventType) String() string {
	switch et {
	case EventTypeOrderJournal:
		return "OrderJournal"
	case EventTypeFillsJournal:
		return "FillsJournal"
	case EventTypeTopOfBook:
		return "TopOfBook"
	case EventTypeFxRate:
		return "FxRate"
	case EventTypeSymbolOverview:
		return "SymbolOverview"
	default:
		return "Unknown"
	}
}

// Event is the interface all inbound payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Symbol returns the security context ("" for global events)
	Symbol() string
}

// OrderBrief is the immutable intent part of an order journal entry:
// what was sent to the market, not what happened to it.
type OrderBrief struct {
	OrderID  string
	Security string
	Side     Side
	Px       float64
	Qty      int64
	Text     []string
}

// OrderJournal is one immutable order-lifecycle record. Journals are
// append-only; all mutable state is derived into snapshots by the
// reconciliation engine.
type OrderJournal struct {
	JournalID      string
	Order          OrderBrief
	Event          OrderEvent
	EventTime      time.Time
	SourceSequence int64
}

func (o *OrderJournal) IdempotencyKey() string {
	if o.JournalID != "" {
		return o.JournalID
	}
	return fmt.Sprintf("%s:%s:%d", o.Order.OrderID, o.Event, o.SourceSequence)
}

func (o *OrderJournal) EventType() EventType { return EventTypeOrderJournal }

func (o *OrderJournal) Symbol() string { return o.Order.Security }

// FillsJournal is one immutable fill record reported by the execution venue.
type FillsJournal struct {
	JournalID      string
	OrderID        string
	FillID         string
	Security       string
	Side           Side
	FillPx         float64
	FillQty        int64
	FillNotional   float64 // backfilled by the pre-hook (usd px * qty)
	FillDate       time.Time
	SourceSequence int64
}

func (f *FillsJournal) IdempotencyKey() string {
	if f.FillID != "" {
		return f.FillID
	}
	return f.JournalID
}

func (f *FillsJournal) EventType() EventType { return EventTypeFillsJournal }

func (f *FillsJournal) Symbol() string { return f.Security }

// TopOfBookUpdate carries the latest last-trade price for a symbol.
// Pushed by the market-data feed; the engine reads it synchronously from
// the marketdata cache during cascade steps.
type TopOfBookUpdate struct {
	Security     string
	LastTradePx  float64
	LastTradeQty int64
	BidPx        float64
	AskPx        float64
	Sequence     int64
	Time         time.Time
}

func (t *TopOfBookUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:tob:%d", t.Security, t.Sequence)
}

func (t *TopOfBookUpdate) EventType() EventType { return EventTypeTopOfBook }

func (t *TopOfBookUpdate) Symbol() string { return t.Security }

// FxRateUpdate carries the live USD FX rate. Single currency pair for both
// legs; multi-currency support is a known restriction.
type FxRateUpdate struct {
	CurrencyPair string
	ClosingPx    float64
	Sequence     int64
	Time         time.Time
}

func (f *FxRateUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:fx:%d", f.CurrencyPair, f.Sequence)
}

func (f *FxRateUpdate) EventType() EventType { return EventTypeFxRate }

func (f *FxRateUpdate) Symbol() string { return "" }

// SymbolOverviewUpdate carries security static/float data used by the
// concentration calculator.
type SymbolOverviewUpdate struct {
	Security      string
	SecurityFloat float64
	Sequence      int64
	Time          time.Time
}

func (s *SymbolOverviewUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:overview:%d", s.Security, s.Sequence)
}

func (s *SymbolOverviewUpdate) EventType() EventType { return EventTypeSymbolOverview }

func (s *SymbolOverviewUpdate) Symbol() string { return s.Security }
