package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krait/internal/engine"
)

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	ev := engine.Event{Kind: engine.EventTrade, Sequence: 7, Pair: "BTC-USD"}
	h.Publish(ev)

	assert.Equal(t, ev, <-a.Events())
	assert.Equal(t, ev, <-b.Events())
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe(1)

	h.Publish(engine.Event{Sequence: 1, Pair: "BTC-USD"})
	h.Publish(engine.Event{Sequence: 2, Pair: "BTC-USD"})

	got := <-slow.Events()
	assert.Equal(t, uint64(1), got.Sequence)
	select {
	case ev := <-slow.Events():
		t.Fatalf("expected the overflow event to be dropped, got seq %d", ev.Sequence)
	default:
	}
}

func TestHub_UnsubscribeClosesFeed(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(1)

	h.Unsubscribe(sub)
	_, open := <-sub.Events()
	assert.False(t, open)

	// Double unsubscribe must not panic or close twice.
	h.Unsubscribe(sub)

	h.Publish(engine.Event{Sequence: 3})
}

func TestToWire(t *testing.T) {
	ev := engine.Event{
		Kind:     engine.EventTrade,
		Sequence: 9,
		Pair:     "BTC-USD",
		OrderID:  4,
		Side:     engine.Sell,
		Price:    100,
		Quantity: 2,
		Trade: &engine.Trade{
			MakerID:  3,
			TakerID:  4,
			Price:    100,
			Quantity: 2,
			MakerFee: 1,
			TakerFee: 2,
		},
	}
	w := toWire(ev)
	assert.Equal(t, "trade", w.Type)
	assert.Equal(t, "sell", w.Side)
	require.NotNil(t, w.Trade)
	assert.Equal(t, uint64(3), w.Trade.MakerID)

	plain := toWire(engine.Event{Kind: engine.EventOrderPlaced, Sequence: 1, Side: engine.Buy})
	assert.Equal(t, "order_placed", plain.Type)
	assert.Nil(t, plain.Trade)
}
