package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLock_SerializesSameKey(t *testing.T) {
	var m Map
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("poll:1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 200 {
		t.Errorf("counter: got %d, want 200 (lost updates)", counter)
	}
	if n := m.Len(); n != 0 {
		t.Errorf("Len after release: got %d, want 0", n)
	}
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked while key a was held")
	}
}

func TestUnlock_Idempotent(t *testing.T) {
	var m Map
	unlock := m.Lock("k")
	unlock()
	unlock() // must not panic or corrupt refcounts

	if n := m.Len(); n != 0 {
		t.Errorf("Len: got %d, want 0", n)
	}
	unlock2 := m.Lock("k")
	unlock2()
}
