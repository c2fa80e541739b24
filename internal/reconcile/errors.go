package reconcile

import (
	"errors"
	"fmt"
)

// ErrNotReady gates every inbound journal until the cache is hydrated, the
// FX rate is known, and the strategy is loaded. Surfaced to the ingress
// caller as a retryable service-unavailable signal: the event is NAKed and
// redelivered, never silently dropped.
var ErrNotReady = errors.New("service not ready")

// ErrStratNotOngoing rejects events while the strategy is in a non-ongoing
// state (PAUSED/DONE/ERROR/SNOOZED). Not retryable.
var ErrStratNotOngoing = errors.New("strat not in ongoing state")

// MissingDependencyError marks a cascade step whose required upstream entity
// is absent from store and cache. The step is skipped, remaining steps are
// abandoned, and the triggering event is not requeued.
type MissingDependencyError struct {
	Step   string
	Entity string
	Key    string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: missing %s for %s", e.Step, e.Entity, e.Key)
}

// DataInconsistencyError marks state that contradicts the event stream:
// an unexpected order status for the incoming event, a cancel-reject
// lookback mismatch, or duplicate entities where one was expected.
// The update is abandoned with no partial write for the failing step.
type DataInconsistencyError struct {
	OrderID string
	Detail  string
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency on order %s: %s", e.OrderID, e.Detail)
}

// OverFillError marks a fill that would take filled_qty past the order
// quantity. Policy here is conservative: the snapshot is marked
// OE_OVER_FILLED, the strategy is paused, and the cascade is abandoned.
type OverFillError struct {
	OrderID   string
	OrderQty  int64
	FilledQty int64
	FillQty   int64
}

func (e *OverFillError) Error() string {
	return fmt.Sprintf("over-fill on order %s: filled %d + fill %d > order qty %d",
		e.OrderID, e.FilledQty, e.FillQty, e.OrderQty)
}
