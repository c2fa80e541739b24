package ingestion

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"stratbook/internal/event"
)

// Wire formats for inbound journal payloads. Field names are snake_case to
// match the upstream execution gateway; timestamps are epoch microseconds.

type orderJournalJSON struct {
	JournalID      string   `json:"journal_id"`
	OrderID        string   `json:"order_id"`
	Security       string   `json:"security"`
	Side           string   `json:"side"`
	Px             float64  `json:"px"`
	Qty            int64    `json:"qty"`
	Text           []string `json:"text"`
	Event          string   `json:"event"`
	EventTimeUs    int64    `json:"event_time_us"`
	SourceSequence int64    `json:"source_sequence"`
}

// ParseOrderJournal validates and converts one order-journal payload.
func ParseOrderJournal(data []byte) (*event.OrderJournal, error) {
	var j orderJournalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderJournal: %w", err)
	}

	if j.OrderID == "" {
		return nil, fmt.Errorf("parse OrderJournal: empty order_id")
	}
	if j.Security == "" {
		return nil, fmt.Errorf("parse OrderJournal: empty security")
	}
	side := event.ParseSide(j.Side)
	if side == event.SideUnspecified {
		return nil, fmt.Errorf("parse OrderJournal: bad side %q", j.Side)
	}
	ev := event.ParseOrderEvent(j.Event)
	if ev == event.OrderEventUnknown {
		return nil, fmt.Errorf("parse OrderJournal: unknown event %q", j.Event)
	}
	if j.Qty <= 0 {
		return nil, fmt.Errorf("parse OrderJournal: non-positive qty %d", j.Qty)
	}
	if j.Px < 0 {
		return nil, fmt.Errorf("parse OrderJournal: negative px %f", j.Px)
	}

	return &event.OrderJournal{
		JournalID: j.JournalID,
		Order: event.OrderBrief{
			OrderID:  j.OrderID,
			Security: j.Security,
			Side:     side,
			Px:       j.Px,
			Qty:      j.Qty,
			Text:     j.Text,
		},
		Event:          ev,
		EventTime:      time.UnixMicro(j.EventTimeUs),
		SourceSequence: j.SourceSequence,
	}, nil
}

type fillsJournalJSON struct {
	JournalID      string  `json:"journal_id"`
	OrderID        string  `json:"order_id"`
	FillID         string  `json:"fill_id"`
	Security       string  `json:"security"`
	Side           string  `json:"side"`
	FillPx         float64 `json:"fill_px"`
	FillQty        int64   `json:"fill_qty"`
	FillDateUs     int64   `json:"fill_date_us"`
	SourceSequence int64   `json:"source_sequence"`
}

// ParseFillsJournal validates and converts one fills-journal payload.
func ParseFillsJournal(data []byte) (*event.FillsJournal, error) {
	var j fillsJournalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FillsJournal: %w", err)
	}

	if j.OrderID == "" {
		return nil, fmt.Errorf("parse FillsJournal: empty order_id")
	}
	if j.Security == "" {
		return nil, fmt.Errorf("parse FillsJournal: empty security")
	}
	side := event.ParseSide(j.Side)
	if side == event.SideUnspecified {
		return nil, fmt.Errorf("parse FillsJournal: bad side %q", j.Side)
	}
	if j.FillQty <= 0 {
		return nil, fmt.Errorf("parse FillsJournal: non-positive fill_qty %d", j.FillQty)
	}
	if j.FillPx <= 0 {
		return nil, fmt.Errorf("parse FillsJournal: non-positive fill_px %f", j.FillPx)
	}

	return &event.FillsJournal{
		JournalID:      j.JournalID,
		OrderID:        j.OrderID,
		FillID:         j.FillID,
		Security:       j.Security,
		Side:           side,
		FillPx:         j.FillPx,
		FillQty:        j.FillQty,
		FillDate:       time.UnixMicro(j.FillDateUs),
		SourceSequence: j.SourceSequence,
	}, nil
}
