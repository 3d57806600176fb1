package engine

import "errors"

var (
	ErrUnknownOrder     = errors.New("unknown order")
	ErrOrderTerminal    = errors.New("order already in a terminal state")
	ErrNotOrderOwner    = errors.New("caller does not own the order")
	ErrBadTransition    = errors.New("illegal order status transition")
	ErrOverFill         = errors.New("fill exceeds remaining quantity")
	ErrDuplicateResting = errors.New("order already resting")
	ErrMarketNeverRest  = errors.New("market orders cannot rest on the book")
	ErrNothingToRest    = errors.New("order has no remaining quantity to rest")
)
