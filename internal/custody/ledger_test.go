package custody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_LockRelease(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", "USD", 100)

	require.NoError(t, l.Lock("alice", "USD", 60))
	available, locked := l.Balance("alice", "USD")
	assert.Equal(t, int64(40), available)
	assert.Equal(t, int64(60), locked)

	require.NoError(t, l.Release("alice", "USD", 25))
	available, locked = l.Balance("alice", "USD")
	assert.Equal(t, int64(65), available)
	assert.Equal(t, int64(35), locked)
}

func TestLedger_Overdraw(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", "USD", 100)

	err := l.Lock("alice", "USD", 101)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// A failed lock moves nothing.
	available, locked := l.Balance("alice", "USD")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)

	err = l.Release("alice", "USD", 1)
	assert.ErrorIs(t, err, ErrInsufficientLock)
}

func TestLedger_AssetsAreIndependent(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", "USD", 100)
	l.Deposit("alice", "BTC", 5)
	l.Deposit("bob", "USD", 7)

	require.NoError(t, l.Lock("alice", "USD", 100))

	available, _ := l.Balance("alice", "BTC")
	assert.Equal(t, int64(5), available)
	available, _ = l.Balance("bob", "USD")
	assert.Equal(t, int64(7), available)

	// Unknown accounts read as empty.
	available, locked := l.Balance("carol", "USD")
	assert.Zero(t, available)
	assert.Zero(t, locked)
}
