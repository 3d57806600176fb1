package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runMatch plans and commits one sweep for an already-minted taker.
func runMatch(t *testing.T, b *OrderBook, taker *Order, fees FeeSchedule, now time.Time, budget int) ([]Trade, []Event, *MatchPlan) {
	t.Helper()
	plan := b.PlanMatch(taker, fees, now, budget)
	trades, events, err := b.Commit(plan)
	require.NoError(t, err)
	if !plan.Exhausted && taker.Type == LimitOrder && taker.Remaining() > 0 {
		require.NoError(t, b.Rest(taker))
	}
	return trades, events, plan
}

func TestMatch_EmptyBookRests(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	o := b.NewOrder("alice", Sell, LimitOrder, 100, 10, time.Time{})
	trades, _, _ := runMatch(t, b, o, noFees, time.Now(), 0)

	assert.Empty(t, trades)
	assert.Equal(t, Open, o.Status)
	best, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(100), best)
}

func TestMatch_PartialFillOfMaker(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	maker := placeLimit(t, b, "alice", Sell, 100, 10)
	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 6, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	require.Len(t, trades, 1)
	assert.Equal(t, int64(100), trades[0].Price)
	assert.Equal(t, int64(6), trades[0].Quantity)
	assert.Equal(t, maker.ID, trades[0].MakerID)
	assert.Equal(t, taker.ID, trades[0].TakerID)

	assert.Equal(t, PartiallyFilled, maker.Status)
	assert.Equal(t, int64(4), maker.Remaining())
	assert.Equal(t, Filled, taker.Status)
	assert.Equal(t, int64(0), taker.Remaining())
}

func TestMatch_MarketSweepReportsShortfall(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 100, 4)
	placeLimit(t, b, "bob", Sell, 101, 20)

	taker := placeMarket(t, b, "carol", Buy, 100)

	assert.Equal(t, int64(24), taker.Filled, "fills 4@100 then 20@101")
	assert.Equal(t, int64(76), taker.Remaining())
	assert.Equal(t, PartiallyFilled, taker.Status)
	assert.Nil(t, taker.level, "market remainders never rest")

	_, ok := b.BestAsk()
	assert.False(t, ok, "ask side swept clean")
}

func TestMatch_SelfTradePreventionDropsRestingOrder(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	resting := placeLimit(t, b, "alice", Sell, 100, 5)
	taker := b.NewOrder("alice", Buy, LimitOrder, 100, 5, time.Time{})
	trades, events, plan := runMatch(t, b, taker, noFees, time.Now(), 0)

	assert.Empty(t, trades, "no trade may pair a trader with themselves")
	assert.Equal(t, Canceled, resting.Status)
	assert.Equal(t, Open, taker.Status)

	removals := plan.Removals()
	require.Len(t, removals, 1)
	assert.Equal(t, resting.ID, removals[0].OrderID)
	assert.Equal(t, Canceled, removals[0].Status)

	require.Len(t, events, 1)
	assert.Equal(t, EventOrderCanceled, events[0].Kind)

	// The incoming buy rests; the ask side is empty.
	_, ok := b.BestAsk()
	assert.False(t, ok)
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(100), bid)
}

func TestMatch_ExpiredMakerSkippedAndMarkedExpired(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	now := time.Now()

	expired := b.NewOrder("alice", Sell, LimitOrder, 100, 5, now.Add(-time.Minute))
	require.NoError(t, b.Rest(expired))
	live := placeLimit(t, b, "bob", Sell, 101, 5)

	taker := b.NewOrder("carol", Buy, LimitOrder, 101, 5, time.Time{})
	trades, events, _ := runMatch(t, b, taker, noFees, now, 0)

	assert.Equal(t, Expired, expired.Status)
	assert.Equal(t, int64(0), expired.Filled, "expired orders contribute zero fill")

	require.Len(t, trades, 1)
	assert.Equal(t, live.ID, trades[0].MakerID, "matching continues past the expired level")
	assert.Equal(t, int64(101), trades[0].Price)

	require.Len(t, events, 2)
	assert.Equal(t, EventOrderExpired, events[0].Kind)
	assert.Equal(t, EventTrade, events[1].Kind)
}

func TestMatch_PriceTimePriority(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	// Better price beats earlier arrival; equal price goes FIFO.
	late := placeLimit(t, b, "alice", Sell, 99, 5)
	early := placeLimit(t, b, "bob", Sell, 100, 5)
	mid := placeLimit(t, b, "carol", Sell, 100, 7)

	taker := b.NewOrder("dave", Buy, LimitOrder, 100, 12, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	require.Len(t, trades, 3)
	assert.Equal(t, late.ID, trades[0].MakerID, "best price first, regardless of age")
	assert.Equal(t, early.ID, trades[1].MakerID, "then FIFO within the level")
	assert.Equal(t, mid.ID, trades[2].MakerID)
	assert.Equal(t, int64(2), trades[2].Quantity)
	assert.Equal(t, int64(5), mid.Remaining())
}

func TestMatch_PriceImprovementAtMakerPrice(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 95, 10)
	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 10, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	require.Len(t, trades, 1)
	assert.Equal(t, int64(95), trades[0].Price, "fill price is the maker's price")
}

func TestMatch_NoCrossNoTrade(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 101, 10)
	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 10, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	assert.Empty(t, trades)
	assert.Equal(t, Open, taker.Status)
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(100), bid)
}

func TestMatch_FeesFloorOnNotional(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	fees := FeeSchedule{MakerBps: 10, TakerBps: 25}

	placeLimit(t, b, "alice", Sell, 10_000, 5)
	taker := b.NewOrder("bob", Buy, LimitOrder, 10_000, 5, time.Time{})
	trades, _, _ := runMatch(t, b, taker, fees, time.Now(), 0)

	require.Len(t, trades, 1)
	// notional = 50_000: 10bps -> 50, 25bps -> 125.
	assert.Equal(t, int64(50), trades[0].MakerFee)
	assert.Equal(t, int64(125), trades[0].TakerFee)

	// Dust notionals floor to zero.
	b2 := NewOrderBook("BTC-USD")
	placeLimit(t, b2, "alice", Sell, 10, 5)
	dust := b2.NewOrder("bob", Buy, LimitOrder, 10, 5, time.Time{})
	dustTrades, _, _ := runMatch(t, b2, dust, fees, time.Now(), 0)
	require.Len(t, dustTrades, 1)
	assert.Equal(t, int64(0), dustTrades[0].MakerFee)
}

func TestCommit_StalePlanAgainstCanceledTakerRejectedWhole(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	maker := placeLimit(t, b, "alice", Sell, 100, 5)
	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 5, time.Time{})
	plan := b.PlanMatch(taker, noFees, time.Now(), 0)

	// The taker dies between plan and commit.
	_, _, err := b.Cancel(taker.ID, "bob", time.Now())
	require.NoError(t, err)

	_, _, err = b.Commit(plan)
	assert.ErrorIs(t, err, ErrOrderTerminal)

	// Nothing on the book moved: the maker is untouched and still queued.
	assert.Equal(t, Open, maker.Status)
	assert.Equal(t, int64(0), maker.Filled)
	depth := b.Depth(Sell, 0)
	require.Len(t, depth, 1)
	assert.Equal(t, LevelView{Price: 100, Orders: 1, Volume: 5}, depth[0])
}

func TestCommit_StalePlanAgainstCanceledMakerRejectedWhole(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	first := placeLimit(t, b, "alice", Sell, 100, 5)
	second := placeLimit(t, b, "carol", Sell, 100, 5)
	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 10, time.Time{})
	plan := b.PlanMatch(taker, noFees, time.Now(), 0)

	_, _, err := b.Cancel(second.ID, "carol", time.Now())
	require.NoError(t, err)

	// The second planned fill is now impossible; the first must not be
	// half-applied on the way to discovering that.
	_, _, err = b.Commit(plan)
	assert.ErrorIs(t, err, ErrOrderTerminal)
	assert.Equal(t, Open, first.Status)
	assert.Equal(t, int64(0), first.Filled)
	assert.Equal(t, int64(0), taker.Filled)
	assert.Equal(t, []uint64{first.ID}, b.Queue(Sell, 100))
}

func TestFees_LargeNotionalDoesNotOverflow(t *testing.T) {
	fees := FeeSchedule{MakerBps: 10, TakerBps: 10}

	// price * qty = 2^60; the naive notional * bps product would exceed
	// int64 range. floor(2^60 * 10 / 10_000) = 1_152_921_504_606_846.
	price := int64(1) << 40
	qty := int64(1) << 20
	assert.Equal(t, int64(1_152_921_504_606_846), fees.MakerFee(price, qty))
	assert.Equal(t, fees.MakerFee(price, qty), fees.TakerFee(price, qty))

	// The split keeps the exact floor on small notionals too.
	assert.Equal(t, int64(15), FeeSchedule{MakerBps: 10}.MakerFee(15_000, 1))
	assert.Equal(t, int64(0), FeeSchedule{MakerBps: 10}.MakerFee(999, 1))
}

func TestMatch_StepBudgetYieldsContinuation(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	var makers []*Order
	for i := 0; i < 5; i++ {
		makers = append(makers, placeLimit(t, b, "alice", Sell, 100, 2))
	}

	taker := b.NewOrder("bob", Buy, LimitOrder, 100, 10, time.Time{})
	trades, _, plan := runMatch(t, b, taker, noFees, time.Now(), 3)

	assert.True(t, plan.Exhausted)
	require.Len(t, trades, 3)
	assert.Equal(t, int64(6), taker.Filled)
	assert.Nil(t, taker.level, "an exhausted taker must not rest mid-sweep")

	// Resume with a fresh budget finishes the sweep.
	trades2, _, plan2 := runMatch(t, b, taker, noFees, time.Now(), 3)
	assert.False(t, plan2.Exhausted)
	require.Len(t, trades2, 2)
	assert.Equal(t, Filled, taker.Status)
	for _, m := range makers {
		assert.Equal(t, Filled, m.Status)
	}
}

func TestMatch_ConservationAndNoOverfill(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	makers := []*Order{
		placeLimit(t, b, "alice", Sell, 100, 3),
		placeLimit(t, b, "bob", Sell, 100, 4),
		placeLimit(t, b, "carol", Sell, 101, 5),
	}

	taker := b.NewOrder("dave", Buy, LimitOrder, 101, 9, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	var total int64
	for _, tr := range trades {
		total += tr.Quantity
		assert.NotEqual(t, tr.MakerTrader, tr.TakerTrader)
	}
	assert.Equal(t, taker.Filled, total, "taker filled equals the sum of trade quantities")

	var makerFilled int64
	for _, m := range makers {
		makerFilled += m.Filled
		assert.LessOrEqual(t, m.Filled, m.Quantity)
	}
	assert.Equal(t, total, makerFilled, "every unit the taker got came off a maker")
	assert.LessOrEqual(t, taker.Filled, taker.Quantity)

	// Only carol's remainder is left resting.
	flat := b.Flatten(Sell)
	require.Len(t, flat, 1)
	assert.Equal(t, int64(101), flat[0].Price)
	require.Len(t, flat[0].Orders, 1)
	assert.Equal(t, int64(3), flat[0].Orders[0].Remaining())
}

func TestMatch_TradeSequencesIncrease(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	placeLimit(t, b, "alice", Sell, 100, 2)
	placeLimit(t, b, "bob", Sell, 100, 2)
	taker := b.NewOrder("carol", Buy, LimitOrder, 100, 4, time.Time{})
	trades, _, _ := runMatch(t, b, taker, noFees, time.Now(), 0)

	require.Len(t, trades, 2)
	assert.Greater(t, trades[1].Sequence, trades[0].Sequence)
}
