package registry

import "errors"

// Validation errors reject an operation before any state is touched.
var (
	ErrUnknownPair      = errors.New("unknown pair")
	ErrPairExists       = errors.New("pair already registered")
	ErrPairInactive     = errors.New("pair is inactive")
	ErrMissingTrader    = errors.New("trader must be set")
	ErrZeroQuantity     = errors.New("quantity must be positive")
	ErrBelowMinSize     = errors.New("quantity below pair minimum")
	ErrPriceNotAligned  = errors.New("price not aligned to tick size")
	ErrNoLimitPrice     = errors.New("limit orders require a positive price")
	ErrMarketLimitPrice = errors.New("market orders carry no limit price")
	ErrBadOrderType     = errors.New("unrecognized order type")
	ErrTraderTooLong    = errors.New("trader id exceeds maximum length")
	ErrBadPairConfig    = errors.New("invalid pair configuration")
)

// Authorization errors.
var (
	ErrNotAuthorized = errors.New("trader is not compliance-authorized")
)

// ErrContinuationSpent reports a continuation token that has already run
// to completion.
var ErrContinuationSpent = errors.New("continuation already completed")
