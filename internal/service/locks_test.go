package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLocks_SerializesSameID(t *testing.T) {
	locks := newRequestLocks()

	const goroutines = 50
	counter := 0 // защищен только замком заявки

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("req-1")
			counter++
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestRequestLocks_IndependentIDsDoNotBlock(t *testing.T) {
	locks := newRequestLocks()

	releaseA := locks.Acquire("req-a")
	defer releaseA()

	// Замок другой заявки берется свободно, пока req-a удерживается
	done := make(chan struct{})
	go func() {
		release := locks.Acquire("req-b")
		release()
		close(done)
	}()
	<-done
}

func TestRequestLocks_RegistryShrinksWhenIdle(t *testing.T) {
	locks := newRequestLocks()

	release := locks.Acquire("req-1")
	locks.mu.Lock()
	assert.Len(t, locks.locks, 1)
	locks.mu.Unlock()

	release()

	// Последний держатель ушел — запись реестра удалена
	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}
