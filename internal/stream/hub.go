// Package stream fans the engine's event feed out to market-data
// subscribers, in-process or over websocket.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"krait/internal/engine"
)

type Subscription struct {
	ch chan engine.Event
}

// Events is the subscriber's feed. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan engine.Event { return s.ch }

// Hub implements engine.Sink: every published event is broadcast to all
// live subscriptions. Delivery is best effort; a subscriber that cannot
// keep up loses events rather than stalling the engine.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) Subscribe(buffer int) *Subscription {
	sub := &Subscription{ch: make(chan engine.Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish implements engine.Sink.
func (h *Hub) Publish(ev engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

type wireTrade struct {
	MakerID  uint64 `json:"makerId"`
	TakerID  uint64 `json:"takerId"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	MakerFee int64  `json:"makerFee"`
	TakerFee int64  `json:"takerFee"`
}

type wireEvent struct {
	Type     string     `json:"type"`
	Sequence uint64     `json:"sequence"`
	Pair     string     `json:"pair"`
	Time     time.Time  `json:"time"`
	OrderID  uint64     `json:"orderId,omitempty"`
	Side     string     `json:"side,omitempty"`
	Price    int64      `json:"price,omitempty"`
	Quantity int64      `json:"quantity,omitempty"`
	Trade    *wireTrade `json:"trade,omitempty"`
}

func toWire(ev engine.Event) wireEvent {
	out := wireEvent{
		Type:     ev.Kind.String(),
		Sequence: ev.Sequence,
		Pair:     ev.Pair,
		Time:     ev.Time,
		OrderID:  ev.OrderID,
		Side:     ev.Side.String(),
		Price:    ev.Price,
		Quantity: ev.Quantity,
	}
	if ev.Trade != nil {
		out.Trade = &wireTrade{
			MakerID:  ev.Trade.MakerID,
			TakerID:  ev.Trade.TakerID,
			Price:    ev.Trade.Price,
			Quantity: ev.Trade.Quantity,
			MakerFee: ev.Trade.MakerFee,
			TakerFee: ev.Trade.TakerFee,
		}
	}
	return out
}

// ServeWS upgrades the request and streams events as JSON until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := h.Subscribe(64)

	go func() {
		defer func() {
			h.Unsubscribe(sub)
			if err := conn.Close(); err != nil {
				log.Error().Err(err).Msg("closing websocket")
			}
		}()
		for ev := range sub.ch {
			if err := conn.WriteJSON(toWire(ev)); err != nil {
				return
			}
		}
	}()

	// Reads are only used to notice the peer hanging up.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}()
}
