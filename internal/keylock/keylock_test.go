package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameKeyIsExclusive(t *testing.T) {
	var locks Map[string]
	var inside, overlap atomic.Int32

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("mo1")
			if inside.Add(1) > 1 {
				overlap.Store(1)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	require.Zero(t, overlap.Load())
	require.Zero(t, locks.Len())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	var locks Map[string]
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		locks.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on b waited for a")
	}
	require.Equal(t, 1, locks.Len())
}
