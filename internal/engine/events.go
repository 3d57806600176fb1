package engine

import "time"

type EventKind uint8

const (
	EventOrderPlaced EventKind = iota + 1
	EventTrade
	EventOrderCanceled
	EventOrderExpired
)

func (k EventKind) String() string {
	switch k {
	case EventOrderPlaced:
		return "order_placed"
	case EventTrade:
		return "trade"
	case EventOrderCanceled:
		return "order_canceled"
	case EventOrderExpired:
		return "order_expired"
	}
	return "unknown"
}

// Event is one book mutation, published to the configured sinks in the
// order the mutations were applied. Trade is set only for EventTrade.
type Event struct {
	Kind     EventKind
	Sequence uint64
	Pair     string
	Time     time.Time
	OrderID  uint64
	Side     Side
	Price    int64
	Quantity int64
	Trade    *Trade
}

// Sink consumes the engine's event stream. Publish must not block the
// caller; slow consumers are expected to buffer or drop.
type Sink interface {
	Publish(Event)
}

// MultiSink fans a single event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
