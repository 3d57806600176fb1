package registry

import (
	"fmt"
	"sync"
	"time"

	"krait/internal/engine"
)

// PairConfig describes one trading pair. Created at registration and
// mutated only through the administrative surface; never deleted while
// orders reference it.
type PairConfig struct {
	ID                 string
	Base               string
	Quote              string
	MinOrderSize       int64
	TickSize           int64
	Active             bool
	RequiresCompliance bool
	MakerFeeBps        int64
	TakerFeeBps        int64
}

func (c PairConfig) fees() engine.FeeSchedule {
	return engine.FeeSchedule{MakerBps: c.MakerFeeBps, TakerBps: c.TakerFeeBps}
}

// pairState couples a book with its config under one lock. Mutations hold
// the write lock, so a pair is a single serialized resource; queries share
// the read lock. Different pairs are fully independent.
type pairState struct {
	mu   sync.RWMutex
	cfg  PairConfig
	book *engine.OrderBook
}

// Registry maps pair ids to their books and drives every operation
// against them: placement, cancellation, continuation, queries and the
// administrative surface.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]*pairState

	custody    Custody
	compliance Compliance
	sink       engine.Sink
	stepBudget int
	now        func() time.Time
}

func New(custody Custody) *Registry {
	return &Registry{
		pairs:      make(map[string]*pairState),
		custody:    custody,
		stepBudget: engine.DefaultStepBudget,
		now:        time.Now,
	}
}

// SetSink installs the event sink. Events are published after the book
// mutation that produced them, in mutation order.
func (r *Registry) SetSink(s engine.Sink) { r.sink = s }

// SetCompliance installs the gate consulted for pairs flagged
// RequiresCompliance. Without one, placements on such pairs are rejected.
func (r *Registry) SetCompliance(c Compliance) { r.compliance = c }

// SetStepBudget overrides the default per-call matching bound.
func (r *Registry) SetStepBudget(n int) {
	if n > 0 {
		r.stepBudget = n
	}
}

// SetClock replaces the time source, used by expiry checks and events.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) publish(events []engine.Event) {
	if r.sink == nil {
		return
	}
	for _, ev := range events {
		r.sink.Publish(ev)
	}
}

// --- Administrative surface -------------------------------------------------

// CreatePair registers a new pair and its empty book. An empty ID derives
// one from the assets. The pair starts active.
func (r *Registry) CreatePair(cfg PairConfig) (PairConfig, error) {
	if cfg.Base == "" || cfg.Quote == "" || cfg.TickSize <= 0 || cfg.MinOrderSize <= 0 ||
		cfg.MakerFeeBps < 0 || cfg.TakerFeeBps < 0 {
		return PairConfig{}, fmt.Errorf("%w: %+v", ErrBadPairConfig, cfg)
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Base + "-" + cfg.Quote
	}
	cfg.Active = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pairs[cfg.ID]; ok {
		return PairConfig{}, fmt.Errorf("%w: %s", ErrPairExists, cfg.ID)
	}
	r.pairs[cfg.ID] = &pairState{cfg: cfg, book: engine.NewOrderBook(cfg.ID)}
	return cfg, nil
}

// SetPairActive flips trading on or off. Resting orders survive a
// deactivation and can still be canceled.
func (r *Registry) SetPairActive(pair string, active bool) error {
	ps, err := r.pair(pair)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cfg.Active = active
	return nil
}

// SetPairFees updates the maker and taker rates in basis points.
func (r *Registry) SetPairFees(pair string, makerBps, takerBps int64) error {
	if makerBps < 0 || takerBps < 0 {
		return fmt.Errorf("%w: negative fee rate", ErrBadPairConfig)
	}
	ps, err := r.pair(pair)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cfg.MakerFeeBps = makerBps
	ps.cfg.TakerFeeBps = takerBps
	return nil
}

func (r *Registry) pair(id string) (*pairState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.pairs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, id)
	}
	return ps, nil
}

// Pairs lists the registered pair ids.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pairs))
	for id := range r.pairs {
		out = append(out, id)
	}
	return out
}

// --- Placement --------------------------------------------------------------

type PlaceRequest struct {
	Pair     string
	Trader   string
	Side     engine.Side
	Type     engine.OrderType
	Price    int64 // ticks; must be zero for market orders
	Quantity int64
	Expiry   time.Time // zero means good-till-canceled

	// StepBudget bounds the resting orders this call may touch; zero
	// selects the registry default.
	StepBudget int
}

type PlaceResult struct {
	OrderID   uint64
	Status    engine.OrderStatus
	Filled    int64
	Remaining int64
	Trades    []engine.Trade

	// Done is false when the step budget ran out mid-walk. The taker has
	// not rested; resume the sweep with the continuation.
	Done         bool
	Continuation *Continuation
}

// Place validates, escrows, matches and commits a new order as one atomic
// operation. Validation and authorization failures reject before any
// state change; a failed custody call aborts with the book untouched.
func (r *Registry) Place(req PlaceRequest) (*PlaceResult, error) {
	ps, err := r.pair(req.Pair)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	cfg := ps.cfg
	if err := validate(req, cfg); err != nil {
		return nil, err
	}
	if cfg.RequiresCompliance {
		if r.compliance == nil || !r.compliance.IsAuthorized(req.Trader) {
			return nil, fmt.Errorf("%w: %s on %s", ErrNotAuthorized, req.Trader, cfg.ID)
		}
	}

	// Escrow the order's full value before matching. Market buys cannot
	// be priced up front; their funds are locked per fill at settlement.
	asset, amount := upfrontLock(req, cfg)
	if amount > 0 {
		if err := r.custody.Lock(req.Trader, asset, amount); err != nil {
			return nil, fmt.Errorf("escrow lock: %w", err)
		}
	}

	taker := ps.book.NewOrder(req.Trader, req.Side, req.Type, req.Price, req.Quantity, req.Expiry)
	res, err := r.runMatch(ps, taker, req.StepBudget, true)
	if err != nil {
		// Settlement failed before commit: the book is untouched. Hand
		// back the escrow and the order id slot.
		if amount > 0 {
			_ = r.custody.Release(req.Trader, asset, amount)
		}
		ps.book.Discard(taker)
		return nil, err
	}
	return res, nil
}

// Resume continues a budget-exhausted matching walk with a fresh budget
// (zero selects the registry default). The original escrow still covers
// the taker's remainder.
func (r *Registry) Resume(c *Continuation, budget int) (*PlaceResult, error) {
	if c == nil || c.spent {
		return nil, ErrContinuationSpent
	}
	ps := c.state
	ps.mu.Lock()
	defer ps.mu.Unlock()

	// A cancel (or expiry) between calls ends the sweep; the token is
	// spent, never re-planned against a terminal taker.
	if c.taker.Status.Terminal() {
		c.spent = true
		return nil, ErrContinuationSpent
	}

	res, err := r.runMatch(ps, c.taker, budget, false)
	if err != nil {
		return nil, err
	}
	if res.Done {
		c.spent = true
	}
	return res, nil
}

// Continuation resumes a matching walk that exceeded its step budget.
// While one is outstanding, the taker is indexed but not resting; it can
// still be canceled, which spends the token.
type Continuation struct {
	state *pairState
	taker *engine.Order
	spent bool
}

// runMatch executes one bounded sweep for the taker under the pair's held
// writer lock: plan, settle custody, commit, then rest or release any
// remainder. Settlement failures leave the book unchanged.
func (r *Registry) runMatch(ps *pairState, taker *engine.Order, budget int, placed bool) (*PlaceResult, error) {
	cfg := ps.cfg
	if budget <= 0 {
		budget = r.stepBudget
	}
	now := r.now()

	plan := ps.book.PlanMatch(taker, cfg.fees(), now, budget)
	if err := r.settle(plan, cfg, taker); err != nil {
		return nil, err
	}
	trades, events, err := ps.book.Commit(plan)
	if err != nil {
		// A plan built under this lock must commit; anything else is
		// invariant breakage, not a caller error.
		return nil, fmt.Errorf("commit: %w", err)
	}

	var out []engine.Event
	if placed {
		out = append(out, engine.Event{
			Kind:     engine.EventOrderPlaced,
			Sequence: taker.ID,
			Pair:     cfg.ID,
			Time:     now,
			OrderID:  taker.ID,
			Side:     taker.Side,
			Price:    taker.LimitPrice,
			Quantity: taker.Quantity,
		})
	}
	out = append(out, events...)

	res := &PlaceResult{
		OrderID: taker.ID,
		Trades:  trades,
		Done:    !plan.Exhausted,
	}
	switch {
	case plan.Exhausted:
		res.Continuation = &Continuation{state: ps, taker: taker}
	case taker.Remaining() > 0 && taker.Type == engine.LimitOrder:
		if err := ps.book.Rest(taker); err != nil {
			return nil, err
		}
	}

	res.Status = taker.Status
	res.Filled = taker.Filled
	res.Remaining = taker.Remaining()
	r.publish(out)
	return res, nil
}

// custodyOp records a completed custody call so a later failure in the
// same settlement can unwind it with the inverse call.
type custodyOp struct {
	trader string
	asset  string
	amount int64
	lock   bool
}

// settle runs the custody movements for a staged plan: per fill it
// releases the matched escrow of both parties, and per planned removal
// the dropped maker's remainder. Any failure unwinds every call already
// made and reports the error; the caller then discards the plan.
func (r *Registry) settle(plan *engine.MatchPlan, cfg PairConfig, taker *engine.Order) (err error) {
	var done []custodyOp
	defer func() {
		if err == nil {
			return
		}
		for i := len(done) - 1; i >= 0; i-- {
			op := done[i]
			if op.lock {
				_ = r.custody.Release(op.trader, op.asset, op.amount)
			} else {
				_ = r.custody.Lock(op.trader, op.asset, op.amount)
			}
		}
	}()

	lock := func(trader, asset string, amount int64) error {
		if amount <= 0 {
			return nil
		}
		if err := r.custody.Lock(trader, asset, amount); err != nil {
			return fmt.Errorf("escrow lock: %w", err)
		}
		done = append(done, custodyOp{trader, asset, amount, true})
		return nil
	}
	release := func(trader, asset string, amount int64) error {
		if amount <= 0 {
			return nil
		}
		if err := r.custody.Release(trader, asset, amount); err != nil {
			return fmt.Errorf("escrow release: %w", err)
		}
		done = append(done, custodyOp{trader, asset, amount, false})
		return nil
	}

	for _, t := range plan.Trades {
		notional := t.Price * t.Quantity
		if taker.Side == engine.Buy {
			if taker.Type == engine.MarketOrder {
				if err = lock(t.TakerTrader, cfg.Quote, notional); err != nil {
					return err
				}
			}
			if err = release(t.TakerTrader, cfg.Quote, notional); err != nil {
				return err
			}
			if taker.Type == engine.LimitOrder {
				// Price improvement: the reserve was taken at the
				// taker's limit, so free the difference and keep the
				// outstanding lock at exactly remaining * limit.
				surplus := (taker.LimitPrice - t.Price) * t.Quantity
				if err = release(t.TakerTrader, cfg.Quote, surplus); err != nil {
					return err
				}
			}
			if err = release(t.MakerTrader, cfg.Base, t.Quantity); err != nil {
				return err
			}
		} else {
			if err = release(t.TakerTrader, cfg.Base, t.Quantity); err != nil {
				return err
			}
			if err = release(t.MakerTrader, cfg.Quote, notional); err != nil {
				return err
			}
		}
	}

	for _, rm := range plan.Removals() {
		if rm.Side == engine.Buy {
			err = release(rm.Trader, cfg.Quote, rm.Price*rm.Remaining)
		} else {
			err = release(rm.Trader, cfg.Base, rm.Remaining)
		}
		if err != nil {
			return err
		}
	}

	// Market sell remainders never rest; free the unfilled escrow now so
	// the whole settlement stays one undoable unit. Market buys escrow
	// per fill, so nothing is left over on that side.
	if taker.Type == engine.MarketOrder && taker.Side == engine.Sell && !plan.Exhausted {
		if left := taker.Remaining() - plan.TakerFilled; left > 0 {
			if err = release(taker.Trader, cfg.Base, left); err != nil {
				return err
			}
		}
	}
	return nil
}

// maxTraderLen matches the one-byte length prefixes the wire protocol
// and journal records use for trader ids.
const maxTraderLen = 255

func validate(req PlaceRequest, cfg PairConfig) error {
	if !cfg.Active {
		return fmt.Errorf("%w: %s", ErrPairInactive, cfg.ID)
	}
	if req.Trader == "" {
		return ErrMissingTrader
	}
	if len(req.Trader) > maxTraderLen {
		return fmt.Errorf("%w: %d bytes", ErrTraderTooLong, len(req.Trader))
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrZeroQuantity, req.Quantity)
	}
	if req.Quantity < cfg.MinOrderSize {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinSize, req.Quantity, cfg.MinOrderSize)
	}
	switch req.Type {
	case engine.LimitOrder:
		if req.Price <= 0 {
			return ErrNoLimitPrice
		}
		if req.Price%cfg.TickSize != 0 {
			return fmt.Errorf("%w: %d vs tick %d", ErrPriceNotAligned, req.Price, cfg.TickSize)
		}
	case engine.MarketOrder:
		if req.Price != 0 {
			return ErrMarketLimitPrice
		}
	default:
		return fmt.Errorf("%w: %d", ErrBadOrderType, req.Type)
	}
	return nil
}

// upfrontLock computes the escrow taken before matching: quote notional
// for limit buys, base quantity for sells. Market buys return zero.
func upfrontLock(req PlaceRequest, cfg PairConfig) (string, int64) {
	if req.Side == engine.Sell {
		return cfg.Base, req.Quantity
	}
	if req.Type == engine.LimitOrder {
		return cfg.Quote, req.Price * req.Quantity
	}
	return cfg.Quote, 0
}

// --- Cancellation -----------------------------------------------------------

// Cancel removes an Open or PartiallyFilled order owned by trader and
// releases its unfilled escrow. Canceling a terminal order is an error
// with no state change.
func (r *Registry) Cancel(pair string, orderID uint64, trader string) (int64, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return 0, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	o, ok := ps.book.Order(orderID)
	if !ok {
		return 0, fmt.Errorf("%w: id %d", engine.ErrUnknownOrder, orderID)
	}
	if o.Status.Terminal() {
		return 0, fmt.Errorf("%w: order %d is %s", engine.ErrOrderTerminal, orderID, o.Status)
	}
	if o.Trader != trader {
		return 0, fmt.Errorf("%w: order %d belongs to %s", engine.ErrNotOrderOwner, orderID, o.Trader)
	}

	// Release the escrow before touching the book: if custody refuses,
	// the cancellation aborts with the order still resting.
	cfg := ps.cfg
	remaining := o.Remaining()
	if remaining > 0 {
		var relErr error
		switch {
		case o.Side == engine.Buy && o.Type == engine.LimitOrder:
			relErr = r.custody.Release(trader, cfg.Quote, o.LimitPrice*remaining)
		case o.Side == engine.Sell:
			relErr = r.custody.Release(trader, cfg.Base, remaining)
		}
		if relErr != nil {
			return 0, fmt.Errorf("escrow release: %w", relErr)
		}
	}

	remaining, ev, err := ps.book.Cancel(orderID, trader, r.now())
	if err != nil {
		// Unreachable after the prechecks above; surface it anyway.
		return 0, err
	}
	r.publish([]engine.Event{ev})
	return remaining, nil
}

// --- Query surface ----------------------------------------------------------

// OrderView is a point-in-time copy of an order, safe to hold outside the
// pair lock.
type OrderView struct {
	ID         uint64
	Pair       string
	Trader     string
	Side       engine.Side
	Type       engine.OrderType
	Status     engine.OrderStatus
	LimitPrice int64
	Quantity   int64
	Filled     int64
	Remaining  int64
	Expiry     time.Time
}

func (r *Registry) GetOrder(pair string, orderID uint64) (OrderView, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return OrderView{}, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	o, ok := ps.book.Order(orderID)
	if !ok {
		return OrderView{}, fmt.Errorf("%w: id %d", engine.ErrUnknownOrder, orderID)
	}
	return OrderView{
		ID:         o.ID,
		Pair:       o.Pair,
		Trader:     o.Trader,
		Side:       o.Side,
		Type:       o.Type,
		Status:     o.Status,
		LimitPrice: o.LimitPrice,
		Quantity:   o.Quantity,
		Filled:     o.Filled,
		Remaining:  o.Remaining(),
		Expiry:     o.Expiry,
	}, nil
}

func (r *Registry) GetBestBid(pair string) (int64, bool, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return 0, false, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	price, ok := ps.book.BestBid()
	return price, ok, nil
}

func (r *Registry) GetBestAsk(pair string) (int64, bool, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return 0, false, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	price, ok := ps.book.BestAsk()
	return price, ok, nil
}

func (r *Registry) GetPairConfig(pair string) (PairConfig, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return PairConfig{}, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.cfg, nil
}

// Depth snapshots the top max levels of one side of a pair's book.
func (r *Registry) Depth(pair string, side engine.Side, max int) ([]engine.LevelView, error) {
	ps, err := r.pair(pair)
	if err != nil {
		return nil, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.book.Depth(side, max), nil
}
