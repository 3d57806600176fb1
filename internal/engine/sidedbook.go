package engine

import "github.com/tidwall/btree"

// SidedBook holds the price levels for one side of a pair, sorted so that
// the tree minimum is always the best price: descending for bids, ascending
// for asks. Empty levels are pruned eagerly, so BestPrice never reports a
// price with no live orders behind it.
type SidedBook struct {
	side   Side
	levels *btree.BTreeG[*priceLevel]
}

func newSidedBook(side Side) *SidedBook {
	var less func(a, b *priceLevel) bool
	if side == Buy {
		// Sorted greatest first.
		less = func(a, b *priceLevel) bool { return a.price > b.price }
	} else {
		// Sorted least first.
		less = func(a, b *priceLevel) bool { return a.price < b.price }
	}
	return &SidedBook{
		side:   side,
		levels: btree.NewBTreeG(less),
	}
}

// BestPrice returns the best price on this side, if any level is live.
func (s *SidedBook) BestPrice() (int64, bool) {
	lvl, ok := s.levels.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// level looks up the queue at an exact price. The comparator only reads
// prices, so a stack probe is enough for the search.
func (s *SidedBook) level(price int64) (*priceLevel, bool) {
	return s.levels.Get(&priceLevel{price: price})
}

// insert appends the order to the queue at its limit price, creating the
// level if absent. FIFO position is the end of the queue.
func (s *SidedBook) insert(o *Order) {
	lvl, ok := s.level(o.LimitPrice)
	if !ok {
		lvl = &priceLevel{price: o.LimitPrice}
		s.levels.Set(lvl)
	}
	lvl.push(o)
}

// remove unlinks the order from its level and prunes the level if it is
// left empty.
func (s *SidedBook) remove(o *Order) {
	lvl := o.level
	if lvl == nil {
		return
	}
	lvl.unlink(o)
	if lvl.empty() {
		s.levels.Delete(lvl)
	}
}

// Len returns the number of live price levels.
func (s *SidedBook) Len() int {
	return s.levels.Len()
}

// LevelView is a read-only snapshot of one price level.
type LevelView struct {
	Price  int64
	Orders int
	Volume int64
}

// Depth returns the top max levels in priority order. max <= 0 means all.
func (s *SidedBook) Depth(max int) []LevelView {
	out := make([]LevelView, 0, s.levels.Len())
	s.levels.Scan(func(lvl *priceLevel) bool {
		out = append(out, LevelView{Price: lvl.price, Orders: lvl.count, Volume: lvl.volume})
		return max <= 0 || len(out) < max
	})
	return out
}

// queueIDs lists the resting order ids at a price in FIFO order.
// Used by the test helpers and queries.
func (s *SidedBook) queueIDs(price int64) []uint64 {
	lvl, ok := s.level(price)
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, lvl.count)
	for o := lvl.front(); o != nil; o = o.next {
		ids = append(ids, o.ID)
	}
	return ids
}
