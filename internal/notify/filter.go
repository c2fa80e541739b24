// Package notify decides which entity updates leave the process. Filters
// are pure predicates plugged in per entity family; a subscriber watching a
// symbol subset only hears about its symbols.
package notify

import (
	"stratbook/internal/snapshot"
)

// OrderFilter decides whether an order snapshot update is published.
type OrderFilter func(o *snapshot.OrderSnapshot) bool

// SymbolSideFilter decides whether a symbol-side update is published.
type SymbolSideFilter func(s *snapshot.SymbolSideSnapshot) bool

// Filters is the pluggable predicate set. A nil predicate passes everything.
type Filters struct {
	Order      OrderFilter
	SymbolSide SymbolSideFilter
}

// SymbolSet builds filters that pass only the given securities. The brief
// and status entities are strategy-scoped, not symbol-scoped, so they are
// never symbol-filtered.
func SymbolSet(securities ...string) Filters {
	set := make(map[string]bool, len(securities))
	for _, s := range securities {
		set[s] = true
	}
	return Filters{
		Order: func(o *snapshot.OrderSnapshot) bool {
			return set[o.Order.Security]
		},
		SymbolSide: func(s *snapshot.SymbolSideSnapshot) bool {
			return set[s.Security]
		},
	}
}

func (f Filters) passOrder(o *snapshot.OrderSnapshot) bool {
	return f.Order == nil || f.Order(o)
}

func (f Filters) passSymbolSide(s *snapshot.SymbolSideSnapshot) bool {
	return f.SymbolSide == nil || f.SymbolSide(s)
}
