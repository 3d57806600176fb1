package engine

import (
	"fmt"
	"time"
)

// OrderBook owns both sides of one trading pair plus the id index over
// every order it has ever created. All mutating methods assume the
// caller serializes access per pair; the book itself holds no locks.
type OrderBook struct {
	pair string
	bids *SidedBook
	asks *SidedBook

	// Index over live and terminal orders. Terminal orders stay indexed
	// for audit and query; only live ones are linked into a level.
	orders map[uint64]*Order

	// Single monotonic sequence shared by order ids, trades and events.
	// Advanced only under the pair's writer lock.
	seq uint64
}

func NewOrderBook(pair string) *OrderBook {
	return &OrderBook{
		pair:   pair,
		bids:   newSidedBook(Buy),
		asks:   newSidedBook(Sell),
		orders: make(map[uint64]*Order),
	}
}

func (b *OrderBook) Pair() string { return b.pair }

func (b *OrderBook) nextSeq() uint64 {
	b.seq++
	return b.seq
}

// NewOrder mints an order with the next monotonic id and registers it in
// the index. The order starts Open with nothing filled.
func (b *OrderBook) NewOrder(trader string, side Side, typ OrderType, price, qty int64, expiry time.Time) *Order {
	id := b.nextSeq()
	o := &Order{
		ID:         id,
		Pair:       b.pair,
		Trader:     trader,
		Side:       side,
		Type:       typ,
		Status:     Open,
		LimitPrice: price,
		Quantity:   qty,
		PlacedAt:   id,
		Expiry:     expiry,
	}
	b.orders[id] = o
	return o
}

// Order looks up any order the book has created, live or terminal.
func (b *OrderBook) Order(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

func (b *OrderBook) side(s Side) *SidedBook {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) BestBid() (int64, bool) { return b.bids.BestPrice() }
func (b *OrderBook) BestAsk() (int64, bool) { return b.asks.BestPrice() }

// Depth snapshots the top max levels of one side.
func (b *OrderBook) Depth(s Side, max int) []LevelView {
	return b.side(s).Depth(max)
}

// Queue lists the resting order ids at a price in FIFO order.
func (b *OrderBook) Queue(s Side, price int64) []uint64 {
	return b.side(s).queueIDs(price)
}

// Rest inserts a limit order's unfilled remainder at the end of the queue
// for its price. Market orders are rejected here; their remainder is the
// caller's to report.
func (b *OrderBook) Rest(o *Order) error {
	if o.Type == MarketOrder {
		return fmt.Errorf("%w: %s", ErrMarketNeverRest, orderRef(o))
	}
	if o.level != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateResting, orderRef(o))
	}
	if o.Status.Terminal() || o.Remaining() <= 0 {
		return fmt.Errorf("%w: %s", ErrNothingToRest, orderRef(o))
	}
	b.side(o.Side).insert(o)
	return nil
}

// Cancel removes an Open or PartiallyFilled order from its queue and marks
// it Canceled. trader must be the owner; pass the empty string for
// administrative cancels. Returns the unfilled remainder for fund release
// along with the cancellation event. Canceling a terminal order reports
// ErrOrderTerminal without touching any state.
func (b *OrderBook) Cancel(id uint64, trader string, now time.Time) (int64, Event, error) {
	o, ok := b.orders[id]
	if !ok {
		return 0, Event{}, fmt.Errorf("%w: id %d", ErrUnknownOrder, id)
	}
	if trader != "" && o.Trader != trader {
		return 0, Event{}, fmt.Errorf("%w: %s belongs to %s", ErrNotOrderOwner, orderRef(o), o.Trader)
	}
	if o.Status.Terminal() {
		return 0, Event{}, fmt.Errorf("%w: %s is %s", ErrOrderTerminal, orderRef(o), o.Status)
	}
	remaining := o.Remaining()
	b.side(o.Side).remove(o)
	if err := o.transitionTo(Canceled); err != nil {
		return 0, Event{}, err
	}
	ev := Event{
		Kind:     EventOrderCanceled,
		Sequence: b.nextSeq(),
		Pair:     b.pair,
		Time:     now,
		OrderID:  o.ID,
		Side:     o.Side,
		Price:    o.LimitPrice,
		Quantity: remaining,
	}
	return remaining, ev, nil
}

// Discard drops an order that never reached the book, reclaiming its index
// slot after an aborted placement. Only untouched Open orders qualify.
func (b *OrderBook) Discard(o *Order) {
	if o.Status == Open && o.Filled == 0 && o.level == nil {
		delete(b.orders, o.ID)
	}
}

// FlatPriceLevel is a comparable snapshot of a level used by tests and
// depth queries.
type FlatPriceLevel struct {
	Price  int64
	Orders []*Order
}

// Flatten snapshots one side's levels in priority order.
func (b *OrderBook) Flatten(s Side) []FlatPriceLevel {
	sb := b.side(s)
	out := make([]FlatPriceLevel, 0, sb.levels.Len())
	sb.levels.Scan(func(lvl *priceLevel) bool {
		flat := FlatPriceLevel{Price: lvl.price}
		for o := lvl.front(); o != nil; o = o.next {
			flat.Orders = append(flat.Orders, o)
		}
		out = append(out, flat)
		return true
	})
	return out
}
