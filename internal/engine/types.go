package engine

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately against
	// whatever liquidity the book holds. A market order never rests; any
	// unfilled remainder is reported back to the caller.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "limit"
	case MarketOrder:
		return "market"
	}
	return "unknown"
}

type OrderStatus int

const (
	Open OrderStatus = iota
	PartiallyFilled
	Filled
	Canceled
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Terminal reports whether no further status transition is permitted.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Canceled || s == Expired
}

// FeeSchedule holds maker and taker fee rates in basis points.
// Fees are charged on the notional of each fill and floored, so dust
// quantities may execute fee-free.
type FeeSchedule struct {
	MakerBps int64
	TakerBps int64
}

func (f FeeSchedule) MakerFee(price, qty int64) int64 {
	return bpsOf(price*qty, f.MakerBps)
}

func (f FeeSchedule) TakerFee(price, qty int64) int64 {
	return bpsOf(price*qty, f.TakerBps)
}

// bpsOf computes floor(notional * bps / 10_000) without the naive
// notional*bps intermediate, which overflows int64 for large fills.
// Splitting on the divisor keeps the floor exact: with notional =
// q*10_000 + r, the fee is q*bps + floor(r*bps / 10_000).
func bpsOf(notional, bps int64) int64 {
	return notional/10_000*bps + notional%10_000*bps/10_000
}
