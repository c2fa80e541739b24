package reconcile

import (
	"fmt"

	"stratbook/internal/event"
)

// transitionKind classifies what an order-journal event does to the snapshot.
type transitionKind int

const (
	// transitionApply moves the snapshot to a new status directly.
	transitionApply transitionKind = iota
	// transitionNoop leaves the snapshot untouched (legal but inert, e.g.
	// a cancel-ack landing on an already-filled order).
	transitionNoop
	// transitionRevert needs the 3-deep journal lookback to pick the status.
	transitionRevert
	// transitionReject is an illegal event for the current status.
	transitionReject
)

// transition is the outcome of classifying one order event against the
// current snapshot status.
type transition struct {
	kind transitionKind
	next event.OrderStatus
}

// classifyOrderEvent implements the order_status state machine:
//
//	OE_UNACK --(OE_ACK)--> OE_ACKED
//	OE_UNACK|OE_ACKED --(OE_CXL)--> OE_CXL_UNACK
//	OE_UNACK|OE_ACKED|OE_CXL_UNACK --(OE_CXL_ACK|OE_UNSOL_CXL)--> OE_DOD
//	  (no-op when already OE_FILLED)
//	OE_CXL_UNACK|OE_FILLED --(cxl reject)--> revert via lookback
//	OE_UNACK|OE_ACKED --(new reject)--> OE_DOD
//
// Fill-driven transitions (reaching OE_FILLED) live in the fill path.
func classifyOrderEvent(cur event.OrderStatus, ev event.OrderEvent) transition {
	switch ev {
	case event.OrderEventAck:
		if cur == event.OrderStatusUnack {
			return transition{kind: transitionApply, next: event.OrderStatusAcked}
		}
		return transition{kind: transitionReject}

	case event.OrderEventCxl:
		if cur == event.OrderStatusUnack || cur == event.OrderStatusAcked {
			return transition{kind: transitionApply, next: event.OrderStatusCxlUnack}
		}
		return transition{kind: transitionReject}

	case event.OrderEventCxlAck, event.OrderEventUnsolCxl:
		if cur == event.OrderStatusFilled {
			return transition{kind: transitionNoop}
		}
		if cur.IsOpen() {
			return transition{kind: transitionApply, next: event.OrderStatusDOD}
		}
		return transition{kind: transitionReject}

	case event.OrderEventCxlIntRej, event.OrderEventCxlBrkRej, event.OrderEventCxlExhRej:
		if cur == event.OrderStatusCxlUnack || cur == event.OrderStatusFilled {
			return transition{kind: transitionRevert}
		}
		return transition{kind: transitionReject}

	case event.OrderEventIntRej, event.OrderEventBrkRej, event.OrderEventExhRej:
		if cur == event.OrderStatusUnack || cur == event.OrderStatusAcked {
			return transition{kind: transitionApply, next: event.OrderStatusDOD}
		}
		return transition{kind: transitionReject}

	default:
		return transition{kind: transitionReject}
	}
}

// revertStatusFromLookback resolves a cancel-reject by inspecting the 3 most
// recent journal records for the order, newest first. The newest must be the
// cancel-reject itself (it was persisted before the cascade ran; this
// validates the lookup matched the expected records) and the oldest decides
// the status to revert to: OE_NEW -> OE_UNACK, OE_ACK -> OE_ACKED. Any other
// combination is an unrecoverable inconsistency and the update is abandoned
// with no partial write.
//
// Over-fill shortcut applies before the lookback: a snapshot whose filled
// quantity already exceeds the order quantity goes to OE_OVER_FILLED, an
// exactly-equal one to OE_FILLED.
func revertStatusFromLookback(orderID string, journals []event.OrderJournal) (event.OrderStatus, error) {
	if len(journals) < 3 {
		return event.OrderStatusUnspecified, &DataInconsistencyError{
			OrderID: orderID,
			Detail:  fmt.Sprintf("cancel-reject lookback needs 3 journals, found %d", len(journals)),
		}
	}

	newest, oldest := journals[0], journals[2]

	if !newest.Event.IsCxlReject() {
		return event.OrderStatusUnspecified, &DataInconsistencyError{
			OrderID: orderID,
			Detail:  fmt.Sprintf("cancel-reject lookback: latest journal is %s, want a CXL reject", newest.Event),
		}
	}

	switch oldest.Event {
	case event.OrderEventNew:
		return event.OrderStatusUnack, nil
	case event.OrderEventAck:
		return event.OrderStatusAcked, nil
	default:
		return event.OrderStatusUnspecified, &DataInconsistencyError{
			OrderID: orderID,
			Detail:  fmt.Sprintf("cancel-reject lookback: oldest journal is %s, want OE_NEW or OE_ACK", oldest.Event),
		}
	}
}
