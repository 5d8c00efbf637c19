package ranking

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOwnerLocks_SerializesSameOwner(t *testing.T) {
	l := newOwnerLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if l.size() != 0 {
		t.Errorf("lock entries left = %d, want 0", l.size())
	}
}

func TestOwnerLocks_DifferentOwnersDoNotBlock(t *testing.T) {
	l := newOwnerLocks()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for owner b blocked on owner a")
	}
}
