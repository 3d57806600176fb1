package registry

// Custody is the external fund escrow the registry settles against. Lock
// reserves funds before an order rests or matches; Release frees matched
// or canceled amounts. Both must be atomic with the book mutation they
// accompany: the registry stages book mutations so a failed custody call
// aborts the whole operation with the book unchanged.
type Custody interface {
	Lock(trader, asset string, amount int64) error
	Release(trader, asset string, amount int64) error
}

// Compliance gates order placement on pairs flagged RequiresCompliance.
// It is consulted once per placement, before any state change.
type Compliance interface {
	IsAuthorized(trader string) bool
}
