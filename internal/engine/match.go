package engine

import (
	"fmt"
	"time"
)

// DefaultStepBudget bounds the resting orders a single matching call may
// touch when the caller supplies no bound of its own.
const DefaultStepBudget = 256

// Trade records one fill. The price is always the maker's resting price,
// so any price improvement accrues to the taker. Immutable once committed.
type Trade struct {
	Sequence    uint64
	Pair        string
	MakerID     uint64
	TakerID     uint64
	MakerTrader string
	TakerTrader string
	Price       int64
	Quantity    int64
	MakerFee    int64
	TakerFee    int64
	Time        time.Time
}

// plannedStep is one maker touched by the walk: a fill when Qty > 0,
// otherwise a removal (expiry or self-trade) with the target status.
type plannedStep struct {
	maker  *Order
	qty    int64
	remove OrderStatus
}

// MatchPlan is the staged outcome of a matching walk. The walk mutates
// nothing; Commit applies the plan. Callers settle external fund
// transfers between the two, so a failed transfer aborts the placement
// with the book untouched.
type MatchPlan struct {
	taker *Order
	fees  FeeSchedule
	now   time.Time
	steps []plannedStep

	// Trades planned in fill order. Sequence and Time are stamped at
	// commit; everything else is final.
	Trades []Trade

	// TakerFilled is the total quantity the plan fills for the taker.
	TakerFilled int64

	// Exhausted is set when the step budget ran out before the walk
	// reached a natural stop. The caller resumes with a fresh budget.
	Exhausted bool
}

// Taker returns the incoming order the plan was built for.
func (p *MatchPlan) Taker() *Order { return p.taker }

// PlannedRemoval describes a resting order the walk will drop without a
// fill, either because its expiry passed or because it collided with its
// own trader's incoming order. Callers release the maker's escrowed
// remainder against these before committing.
type PlannedRemoval struct {
	OrderID   uint64
	Trader    string
	Side      Side
	Price     int64
	Remaining int64
	Status    OrderStatus
}

// Removals lists the plan's expiry and self-trade drops in walk order.
func (p *MatchPlan) Removals() []PlannedRemoval {
	var out []PlannedRemoval
	for _, step := range p.steps {
		if step.qty != 0 {
			continue
		}
		out = append(out, PlannedRemoval{
			OrderID:   step.maker.ID,
			Trader:    step.maker.Trader,
			Side:      step.maker.Side,
			Price:     step.maker.LimitPrice,
			Remaining: step.maker.Remaining(),
			Status:    step.remove,
		})
	}
	return out
}

// crosses reports whether a resting price satisfies the taker's bound.
func crosses(taker *Order, price int64) bool {
	if taker.Type == MarketOrder {
		return true
	}
	if taker.Side == Buy {
		return price <= taker.LimitPrice
	}
	return price >= taker.LimitPrice
}

// PlanMatch walks the opposite side in price-time priority and stages
// fills for the taker. Per maker touched, one budget step is consumed:
//
//   - expired makers are staged for removal as Expired, consuming no
//     taker quantity;
//   - makers owned by the taker's trader are staged for removal as
//     Canceled: self-trade prevention drops the older resting order
//     rather than rejecting the incoming one;
//   - everything else fills min(remainders) at the maker's price.
//
// The walk stops when the taker is satisfied, prices no longer cross, the
// side is exhausted, or the budget runs out (Exhausted set). budget <= 0
// selects DefaultStepBudget.
func (b *OrderBook) PlanMatch(taker *Order, fees FeeSchedule, now time.Time, budget int) *MatchPlan {
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	plan := &MatchPlan{taker: taker, fees: fees, now: now}
	remaining := taker.Remaining()
	opp := b.side(taker.Side.Opposite())

	opp.levels.Scan(func(lvl *priceLevel) bool {
		if remaining == 0 || !crosses(taker, lvl.price) {
			return false
		}
		for maker := lvl.front(); maker != nil; maker = maker.next {
			if remaining == 0 {
				return false
			}
			if budget == 0 {
				plan.Exhausted = true
				return false
			}
			budget--

			if maker.ExpiredAt(now) {
				plan.steps = append(plan.steps, plannedStep{maker: maker, remove: Expired})
				continue
			}
			if maker.Trader == taker.Trader {
				plan.steps = append(plan.steps, plannedStep{maker: maker, remove: Canceled})
				continue
			}

			qty := min(remaining, maker.Remaining())
			remaining -= qty
			plan.TakerFilled += qty
			plan.steps = append(plan.steps, plannedStep{maker: maker, qty: qty})
			plan.Trades = append(plan.Trades, Trade{
				Pair:        b.pair,
				MakerID:     maker.ID,
				TakerID:     taker.ID,
				MakerTrader: maker.Trader,
				TakerTrader: taker.Trader,
				Price:       maker.LimitPrice,
				Quantity:    qty,
				MakerFee:    fees.MakerFee(maker.LimitPrice, qty),
				TakerFee:    fees.TakerFee(maker.LimitPrice, qty),
			})
		}
		return true
	})
	return plan
}

// Commit applies a staged plan: fills are credited to both sides, fully
// consumed makers leave their queues, expired and self-trade makers are
// removed, and emptied levels are pruned. Events are returned in the
// order the mutations were applied. The plan must have been built against
// the book's current state under the same writer lock; a stale plan is
// rejected whole, before any order or level is touched.
func (b *OrderBook) Commit(plan *MatchPlan) ([]Trade, []Event, error) {
	taker := plan.taker
	opp := b.side(taker.Side.Opposite())
	events := make([]Event, 0, len(plan.steps))

	if taker.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: taker %s is %s", ErrOrderTerminal, orderRef(taker), taker.Status)
	}
	if plan.TakerFilled > taker.Remaining() {
		return nil, nil, fmt.Errorf("%w: plan fills %d, taker %s has %d remaining",
			ErrOverFill, plan.TakerFilled, orderRef(taker), taker.Remaining())
	}
	for i := range plan.steps {
		step := plan.steps[i]
		if step.maker.Status.Terminal() {
			return nil, nil, fmt.Errorf("%w: maker %s is %s", ErrOrderTerminal, orderRef(step.maker), step.maker.Status)
		}
		if step.qty > step.maker.Remaining() {
			return nil, nil, fmt.Errorf("%w: plan fills %d, maker %s has %d remaining",
				ErrOverFill, step.qty, orderRef(step.maker), step.maker.Remaining())
		}
	}

	ti := 0
	for i := range plan.steps {
		step := plan.steps[i]
		maker := step.maker

		if step.qty == 0 {
			remaining := maker.Remaining()
			if err := maker.transitionTo(step.remove); err != nil {
				return nil, nil, fmt.Errorf("removing %s: %w", orderRef(maker), err)
			}
			opp.remove(maker)
			kind := EventOrderExpired
			if step.remove == Canceled {
				kind = EventOrderCanceled
			}
			events = append(events, Event{
				Kind:     kind,
				Sequence: b.nextSeq(),
				Pair:     b.pair,
				Time:     plan.now,
				OrderID:  maker.ID,
				Side:     maker.Side,
				Price:    maker.LimitPrice,
				Quantity: remaining,
			})
			continue
		}

		// Keep the level's resting volume in step with the fill before
		// the order's remaining quantity changes under it.
		if maker.level != nil {
			maker.level.volume -= step.qty
		}
		if err := maker.applyFill(step.qty); err != nil {
			return nil, nil, err
		}
		if err := taker.applyFill(step.qty); err != nil {
			return nil, nil, err
		}
		if maker.Remaining() == 0 {
			opp.remove(maker)
		}

		trade := &plan.Trades[ti]
		ti++
		trade.Sequence = b.nextSeq()
		trade.Time = plan.now

		committed := *trade
		events = append(events, Event{
			Kind:     EventTrade,
			Sequence: trade.Sequence,
			Pair:     b.pair,
			Time:     plan.now,
			OrderID:  taker.ID,
			Side:     taker.Side,
			Price:    trade.Price,
			Quantity: trade.Quantity,
			Trade:    &committed,
		})
	}
	return plan.Trades, events, nil
}
