// Package custody provides the process-local default implementation of
// the fund escrow the registry settles against. Production deployments
// substitute an external custodian behind the same interface.
package custody

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("insufficient available funds")
	ErrInsufficientLock  = errors.New("release exceeds locked funds")
)

type balance struct {
	available int64
	locked    int64
}

// Ledger tracks per-trader, per-asset balances with a locked portion.
// Lock moves funds from available into escrow; Release frees them back.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]map[string]*balance
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]map[string]*balance)}
}

func (l *Ledger) account(trader, asset string) *balance {
	assets, ok := l.accounts[trader]
	if !ok {
		assets = make(map[string]*balance)
		l.accounts[trader] = assets
	}
	b, ok := assets[asset]
	if !ok {
		b = &balance{}
		assets[asset] = b
	}
	return b
}

// Deposit credits available funds.
func (l *Ledger) Deposit(trader, asset string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(trader, asset).available += amount
}

func (l *Ledger) Lock(trader, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(trader, asset)
	if b.available < amount {
		return fmt.Errorf("%w: %s needs %d %s, has %d", ErrInsufficientFunds, trader, amount, asset, b.available)
	}
	b.available -= amount
	b.locked += amount
	return nil
}

func (l *Ledger) Release(trader, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(trader, asset)
	if b.locked < amount {
		return fmt.Errorf("%w: %s has %d %s locked, release of %d", ErrInsufficientLock, trader, b.locked, asset, amount)
	}
	b.locked -= amount
	b.available += amount
	return nil
}

// Balance reports the available and locked funds for one asset.
func (l *Ledger) Balance(trader, asset string) (available, locked int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(trader, asset)
	return b.available, b.locked
}
