package engine

import (
	"fmt"
	"time"
)

// Order is a single request to trade, owned by the OrderBook that assigned
// its ID. Price level queues hold references to it; they never own it.
// A terminal order stays in the book's index for queries but is unlinked
// from its level.
type Order struct {
	ID         uint64      // monotonically assigned by the owning book
	Pair       string      //
	Trader     string      // owner, checked on cancellation
	Side       Side        //
	Type       OrderType   //
	Status     OrderStatus //
	LimitPrice int64       // in ticks; zero for market orders
	Quantity   int64       // total volume requested
	Filled     int64       // cumulative filled volume
	PlacedAt   uint64      // book sequence at arrival, FIFO tie-breaker
	Expiry     time.Time   // zero means good-till-canceled

	// Intrusive queue links, valid only while resting.
	level *priceLevel
	prev  *Order
	next  *Order
}

// Remaining returns the unfilled volume.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// ExpiredAt reports whether the order's expiry marker has passed.
func (o *Order) ExpiredAt(now time.Time) bool {
	return !o.Expiry.IsZero() && now.After(o.Expiry)
}

// transitions is the lifecycle table. Terminal states have no entries.
var transitions = map[OrderStatus]map[OrderStatus]bool{
	Open: {
		PartiallyFilled: true,
		Filled:          true,
		Canceled:        true,
		Expired:         true,
	},
	PartiallyFilled: {
		PartiallyFilled: true,
		Filled:          true,
		Canceled:        true,
		Expired:         true,
	},
}

// transitionTo moves the order through its lifecycle, rejecting any move
// out of a terminal state or not present in the table.
func (o *Order) transitionTo(next OrderStatus) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrOrderTerminal, orderRef(o), o.Status)
	}
	if !transitions[o.Status][next] {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, o.Status, next)
	}
	o.Status = next
	return nil
}

// applyFill credits qty against the order and advances its status.
// The caller guarantees qty is positive and at most Remaining().
func (o *Order) applyFill(qty int64) error {
	if qty <= 0 || qty > o.Remaining() {
		return fmt.Errorf("%w: %s qty %d remaining %d", ErrOverFill, orderRef(o), qty, o.Remaining())
	}
	o.Filled += qty
	if o.Remaining() == 0 {
		return o.transitionTo(Filled)
	}
	return o.transitionTo(PartiallyFilled)
}

func orderRef(o *Order) string {
	return fmt.Sprintf("order %d (%s)", o.ID, o.Pair)
}
