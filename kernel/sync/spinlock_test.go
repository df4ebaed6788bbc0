package sync

import (
	gosync "sync"
	"testing"
)

func TestSpinlockAcquireRelease(t *testing.T) {
	var sl Spinlock

	sl.Acquire()
	if got := sl.TryToAcquire(); got {
		t.Fatal("expected TryToAcquire to fail while the lock is held")
	}

	sl.Release()
	if got := sl.TryToAcquire(); !got {
		t.Fatal("expected TryToAcquire to succeed after the lock is released")
	}
	sl.Release()
}

func TestSpinlockMutualExclusion(t *testing.T) {
	var (
		sl      Spinlock
		wg      gosync.WaitGroup
		counter int
	)

	const (
		workers    = 8
		increments = 1000
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				sl.Acquire()
				counter++
				sl.Release()
			}
		}()
	}
	wg.Wait()

	if exp, got := workers*increments, counter; got != exp {
		t.Fatalf("expected counter to reach %d; got %d", exp, got)
	}
}
