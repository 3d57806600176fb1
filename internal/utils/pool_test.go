package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_ProcessesTasks(t *testing.T) {
	pool := NewWorkerPool(4)
	var tb tomb.Tomb

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup

	pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
		mu.Lock()
		seen[task.(int)] = true
		mu.Unlock()
		wg.Done()
		return nil
	})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.AddTask(i)
	}
	wg.Wait()

	mu.Lock()
	assert.Len(t, seen, 20)
	mu.Unlock()

	tb.Kill(nil)
	require.NoError(t, tb.Wait())
}

func TestWorkerPool_StopsWhenTombDies(t *testing.T) {
	pool := NewWorkerPool(2)
	var tb tomb.Tomb

	pool.Setup(&tb, func(_ *tomb.Tomb, _ any) error { return nil })
	tb.Kill(nil)

	done := make(chan error, 1)
	go func() { done <- tb.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after the tomb was killed")
	}
}
