package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"stratbook/internal/event"
)

// OrderJournalBuilder assembles order journals for tests with sensible
// defaults so scenarios only state what they care about.
type OrderJournalBuilder struct {
	j event.OrderJournal
}

func NewOrderJournal(orderID string, ev event.OrderEvent) *OrderJournalBuilder {
	return &OrderJournalBuilder{
		j: event.OrderJournal{
			JournalID: uuid.NewString(),
			Order: event.OrderBrief{
				OrderID:  orderID,
				Security: "AAPL",
				Side:     event.SideBuy,
				Px:       150.0,
				Qty:      100,
			},
			Event:          ev,
			EventTime:      time.Now(),
			SourceSequence: 1,
		},
	}
}

func (b *OrderJournalBuilder) Security(s string) *OrderJournalBuilder {
	b.j.Order.Security = s
	return b
}

func (b *OrderJournalBuilder) Side(s event.Side) *OrderJournalBuilder {
	b.j.Order.Side = s
	return b
}

func (b *OrderJournalBuilder) Px(px float64) *OrderJournalBuilder {
	b.j.Order.Px = px
	return b
}

func (b *OrderJournalBuilder) Qty(qty int64) *OrderJournalBuilder {
	b.j.Order.Qty = qty
	return b
}

func (b *OrderJournalBuilder) Seq(seq int64) *OrderJournalBuilder {
	b.j.SourceSequence = seq
	return b
}

func (b *OrderJournalBuilder) At(t time.Time) *OrderJournalBuilder {
	b.j.EventTime = t
	return b
}

func (b *OrderJournalBuilder) Text(lines ...string) *OrderJournalBuilder {
	b.j.Order.Text = lines
	return b
}

func (b *OrderJournalBuilder) Build() *event.OrderJournal {
	j := b.j
	return &j
}

// FillsJournalBuilder assembles fill journals for tests.
type FillsJournalBuilder struct {
	j event.FillsJournal
}

func NewFillsJournal(orderID string) *FillsJournalBuilder {
	return &FillsJournalBuilder{
		j: event.FillsJournal{
			JournalID:      uuid.NewString(),
			OrderID:        orderID,
			FillID:         fmt.Sprintf("fill-%s", uuid.NewString()[:8]),
			Security:       "AAPL",
			Side:           event.SideBuy,
			FillPx:         150.0,
			FillQty:        10,
			FillDate:       time.Now(),
			SourceSequence: 1,
		},
	}
}

func (b *FillsJournalBuilder) Security(s string) *FillsJournalBuilder {
	b.j.Security = s
	return b
}

func (b *FillsJournalBuilder) Side(s event.Side) *FillsJournalBuilder {
	b.j.Side = s
	return b
}

func (b *FillsJournalBuilder) Px(px float64) *FillsJournalBuilder {
	b.j.FillPx = px
	return b
}

func (b *FillsJournalBuilder) Qty(qty int64) *FillsJournalBuilder {
	b.j.FillQty = qty
	return b
}

func (b *FillsJournalBuilder) Seq(seq int64) *FillsJournalBuilder {
	b.j.SourceSequence = seq
	return b
}

func (b *FillsJournalBuilder) FillID(id string) *FillsJournalBuilder {
	b.j.FillID = id
	return b
}

func (b *FillsJournalBuilder) Build() *event.FillsJournal {
	j := b.j
	return &j
}
