package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

var noFees = FeeSchedule{}

/// placeLimit runs the full place path: match, commit, rest the remainder.
func placeLimit(t *testing.T, b *OrderBook, trader string, side Side, price, qty int64) *Order {
	t.Helper()
	o := b.NewOrder(trader, side, LimitOrder, price, qty, time.Time{})
	plan := b.PlanMatch(o, noFees, time.Now(), 0)
	_, _, err := b.Commit(plan)
	require.NoError(t, err)
	if o.Remaining() > 0 {
		require.NoError(t, b.Rest(o))
	}
	return o
}

func placeMarket(t *testing.T, b *OrderBook, trader string, side Side, qty int64) *Order {
	t.Helper()
	o := b.NewOrder(trader, side, MarketOrder, 0, qty, time.Time{})
	plan := b.PlanMatch(o, noFees, time.Now(), 0)
	_, _, err := b.Commit(plan)
	require.NoError(t, err)
	return o
}

func levelPrices(b *OrderBook, side Side) []int64 {
	var out []int64
	for _, lvl := range b.Depth(side, 0) {
		out = append(out, lvl.Price)
	}
	return out
}

// --- Tests ------------------------------------------------------------------

func TestInsertResting_SortsLevels(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Buy, 99, 100)
	placeLimit(t, b, "alice", Buy, 98, 50)
	placeLimit(t, b, "alice", Buy, 99, 90)
	placeLimit(t, b, "bob", Sell, 101, 20)
	placeLimit(t, b, "bob", Sell, 100, 100)

	assert.Equal(t, []int64{99, 98}, levelPrices(b, Buy), "bids should be sorted high -> low")
	assert.Equal(t, []int64{100, 101}, levelPrices(b, Sell), "asks should be sorted low -> high")

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(99), bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(100), ask)
}

func TestInsertResting_FIFOWithinLevel(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	first := placeLimit(t, b, "alice", Sell, 100, 10)
	second := placeLimit(t, b, "bob", Sell, 100, 20)
	third := placeLimit(t, b, "carol", Sell, 100, 30)

	assert.Equal(t, []uint64{first.ID, second.ID, third.ID}, b.Queue(Sell, 100))
}

func TestBestPrice_EmptySide(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestCancel_MiddleOfQueuePreservesFIFO(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	first := placeLimit(t, b, "alice", Sell, 100, 10)
	second := placeLimit(t, b, "bob", Sell, 100, 20)
	third := placeLimit(t, b, "carol", Sell, 100, 30)

	remaining, _, err := b.Cancel(second.ID, "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(20), remaining)
	assert.Equal(t, Canceled, second.Status)

	// Siblings keep their relative order.
	assert.Equal(t, []uint64{first.ID, third.ID}, b.Queue(Sell, 100))
}

func TestCancel_RoundTripRestoresBook(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 100, 10)
	placeLimit(t, b, "bob", Sell, 101, 20)
	before := b.Queue(Sell, 100)
	bestBefore, _ := b.BestAsk()

	o := placeLimit(t, b, "carol", Sell, 100, 5)
	_, _, err := b.Cancel(o.ID, "carol", time.Now())
	require.NoError(t, err)

	assert.Equal(t, before, b.Queue(Sell, 100))
	bestAfter, _ := b.BestAsk()
	assert.Equal(t, bestBefore, bestAfter)
}

func TestCancel_Errors(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	o := placeLimit(t, b, "alice", Sell, 100, 10)

	// Wrong owner.
	_, _, err := b.Cancel(o.ID, "mallory", time.Now())
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	// Unknown id.
	_, _, err = b.Cancel(4242, "alice", time.Now())
	assert.ErrorIs(t, err, ErrUnknownOrder)

	// Second cancel is an error, not a state change.
	_, _, err = b.Cancel(o.ID, "alice", time.Now())
	require.NoError(t, err)
	_, _, err = b.Cancel(o.ID, "alice", time.Now())
	assert.ErrorIs(t, err, ErrOrderTerminal)
	assert.Equal(t, Canceled, o.Status)
}

func TestCancel_PrunesEmptyLevel(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	o := placeLimit(t, b, "alice", Sell, 100, 10)
	placeLimit(t, b, "alice", Sell, 101, 10)

	_, _, err := b.Cancel(o.ID, "alice", time.Now())
	require.NoError(t, err)

	best, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(101), best, "best ask must never point at an empty level")
	assert.Equal(t, []int64{101}, levelPrices(b, Sell))
}

func TestRest_Rejections(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	market := b.NewOrder("alice", Buy, MarketOrder, 0, 10, time.Time{})
	assert.ErrorIs(t, b.Rest(market), ErrMarketNeverRest)

	resting := placeLimit(t, b, "alice", Buy, 99, 10)
	assert.ErrorIs(t, b.Rest(resting), ErrDuplicateResting)

	canceled := placeLimit(t, b, "alice", Buy, 98, 10)
	_, _, err := b.Cancel(canceled.ID, "alice", time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, b.Rest(canceled), ErrNothingToRest)
}

func TestOrderIDs_Monotonic(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	var last uint64
	for i := 0; i < 10; i++ {
		o := b.NewOrder("alice", Buy, LimitOrder, 99, 1, time.Time{})
		assert.Greater(t, o.ID, last)
		last = o.ID
	}
}

func TestOrderIndex_RetainsTerminalOrders(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	o := placeLimit(t, b, "alice", Sell, 100, 10)
	_, _, err := b.Cancel(o.ID, "alice", time.Now())
	require.NoError(t, err)

	got, ok := b.Order(o.ID)
	require.True(t, ok, "terminal orders stay queryable")
	assert.Equal(t, Canceled, got.Status)
}

func TestDepth_AggregatesLevels(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 100, 10)
	placeLimit(t, b, "bob", Sell, 100, 20)
	placeLimit(t, b, "carol", Sell, 101, 5)

	depth := b.Depth(Sell, 1)
	require.Len(t, depth, 1)
	assert.Equal(t, LevelView{Price: 100, Orders: 2, Volume: 30}, depth[0])
}
