package event

// Side represents order direction
type Side int32

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNSPECIFIED"
	}
}

// Opposite returns the other leg's side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnspecified
	}
}

// ParseSide converts the wire representation ("BUY"/"SELL") to a Side.
func ParseSide(s string) Side {
	switch s {
	case "BUY", "buy":
		return SideBuy
	case "SELL", "sell":
		return SideSell
	default:
		return SideUnspecified
	}
}

// OrderEvent is the order-execution event carried by an order journal entry.
type OrderEvent int32

const (
	OrderEventUnknown OrderEvent = iota
	OrderEventNew                // OE_NEW
	OrderEventAck                // OE_ACK
	OrderEventCxl                // OE_CXL
	OrderEventCxlAck             // OE_CXL_ACK
	OrderEventUnsolCxl           // OE_UNSOL_CXL
	OrderEventCxlIntRej          // OE_CXL_INT_REJ
	OrderEventCxlBrkRej          // OE_CXL_BRK_REJ
	OrderEventCxlExhRej          // OE_CXL_EXH_REJ
	OrderEventIntRej             // OE_INT_REJ
	OrderEventBrkRej             // OE_BRK_REJ
	OrderEventExhRej             // OE_EXH_REJ
)

func (e OrderEvent) String() string {
	switch e {
	case OrderEventNew:
		return "OE_NEW"
	case OrderEventAck:
		return "OE_ACK"
	case OrderEventCxl:
		return "OE_CXL"
	case OrderEventCxlAck:
		return "OE_CXL_ACK"
	case OrderEventUnsolCxl:
		return "OE_UNSOL_CXL"
	case OrderEventCxlIntRej:
		return "OE_CXL_INT_REJ"
	case OrderEventCxlBrkRej:
		return "OE_CXL_BRK_REJ"
	case OrderEventCxlExhRej:
		return "OE_CXL_EXH_REJ"
	case OrderEventIntRej:
		return "OE_INT_REJ"
	case OrderEventBrkRej:
		return "OE_BRK_REJ"
	case OrderEventExhRej:
		return "OE_EXH_REJ"
	default:
		return "OE_UNKNOWN"
	}
}

// ParseOrderEvent converts the wire representation to an OrderEvent.
func ParseOrderEvent(s string) OrderEvent {
	switch s {
	case "OE_NEW":
		return OrderEventNew
	case "OE_ACK":
		return OrderEventAck
	case "OE_CXL":
		return OrderEventCxl
	case "OE_CXL_ACK":
		return OrderEventCxlAck
	case "OE_UNSOL_CXL":
		return OrderEventUnsolCxl
	case "OE_CXL_INT_REJ":
		return OrderEventCxlIntRej
	case "OE_CXL_BRK_REJ":
		return OrderEventCxlBrkRej
	case "OE_CXL_EXH_REJ":
		return OrderEventCxlExhRej
	case "OE_INT_REJ":
		return OrderEventIntRej
	case "OE_BRK_REJ":
		return OrderEventBrkRej
	case "OE_EXH_REJ":
		return OrderEventExhRej
	default:
		return OrderEventUnknown
	}
}

// IsCxlReject reports whether the event is one of the cancel-reject events
// that trigger the 3-deep journal lookback revert.
func (e OrderEvent) IsCxlReject() bool {
	return e == OrderEventCxlIntRej || e == OrderEventCxlBrkRej || e == OrderEventCxlExhRej
}

// IsNewReject reports whether the event rejects the order itself.
func (e OrderEvent) IsNewReject() bool {
	return e == OrderEventIntRej || e == OrderEventBrkRej || e == OrderEventExhRej
}

// OrderStatus is the derived state of an OrderSnapshot.
type OrderStatus int32

const (
	OrderStatusUnspecified OrderStatus = iota
	OrderStatusUnack                   // OE_UNACK
	OrderStatusAcked                   // OE_ACKED
	OrderStatusCxlUnack                // OE_CXL_UNACK
	OrderStatusFilled                  // OE_FILLED
	OrderStatusOverFilled              // OE_OVER_FILLED
	OrderStatusDOD                     // OE_DOD ("done for the day")
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusUnack:
		return "OE_UNACK"
	case OrderStatusAcked:
		return "OE_ACKED"
	case OrderStatusCxlUnack:
		return "OE_CXL_UNACK"
	case OrderStatusFilled:
		return "OE_FILLED"
	case OrderStatusOverFilled:
		return "OE_OVER_FILLED"
	case OrderStatusDOD:
		return "OE_DOD"
	default:
		return "OE_UNSPECIFIED"
	}
}

// ParseOrderStatus converts the wire representation to an OrderStatus.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "OE_UNACK":
		return OrderStatusUnack
	case "OE_ACKED":
		return OrderStatusAcked
	case "OE_CXL_UNACK":
		return OrderStatusCxlUnack
	case "OE_FILLED":
		return OrderStatusFilled
	case "OE_OVER_FILLED":
		return OrderStatusOverFilled
	case "OE_DOD":
		return OrderStatusDOD
	default:
		return OrderStatusUnspecified
	}
}

// IsOpen reports whether the order can still trade.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusUnack || s == OrderStatusAcked || s == OrderStatusCxlUnack
}

// StratState is the strategy lifecycle state machine field.
// The engine only ever writes StratStatePaused; the orchestration service
// owns the rest of the transitions.
type StratState int32

const (
	StratStateUnspecified StratState = iota
	StratStateReady
	StratStateActive
	StratStatePaused
	StratStateError
	StratStateSnoozed
	StratStateDone
)

func (s StratState) String() string {
	switch s {
	case StratStateReady:
		return "READY"
	case StratStateActive:
		return "ACTIVE"
	case StratStatePaused:
		return "PAUSED"
	case StratStateError:
		return "ERROR"
	case StratStateSnoozed:
		return "SNOOZED"
	case StratStateDone:
		return "DONE"
	default:
		return "UNSPECIFIED"
	}
}

// ParseStratState converts the wire representation to a StratState.
func ParseStratState(s string) StratState {
	switch s {
	case "READY":
		return StratStateReady
	case "ACTIVE":
		return StratStateActive
	case "PAUSED":
		return StratStatePaused
	case "ERROR":
		return StratStateError
	case "SNOOZED":
		return StratStateSnoozed
	case "DONE":
		return StratStateDone
	default:
		return StratStateUnspecified
	}
}

// IsOngoing reports whether the strategy accepts reconciliation events.
// PAUSED/DONE/ERROR/SNOOZED block further reconciliation.
func (s StratState) IsOngoing() bool {
	return s == StratStateReady || s == StratStateActive
}
