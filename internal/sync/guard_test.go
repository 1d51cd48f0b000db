package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace-sync-service/internal/marketplace"
)

func TestGuardAcquireRelease(t *testing.T) {
	g := NewGuard()

	assert.True(t, g.TryAcquire(marketplace.ResourceProducts))
	assert.False(t, g.TryAcquire(marketplace.ResourceProducts))
	assert.True(t, g.Held(marketplace.ResourceProducts))

	// Resource types are independent gates.
	assert.True(t, g.TryAcquire(marketplace.ResourceOrders))

	g.Release(marketplace.ResourceProducts)
	assert.False(t, g.Held(marketplace.ResourceProducts))
	assert.True(t, g.TryAcquire(marketplace.ResourceProducts))
}

func TestGuardConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	g := NewGuard()

	const workers = 32
	var wg sync.WaitGroup
	acquired := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired <- g.TryAcquire(marketplace.ResourceProducts)
		}()
	}
	wg.Wait()
	close(acquired)

	wins := 0
	for ok := range acquired {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}
