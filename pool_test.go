// SPDX-License-Identifier: GPL-3.0-or-later

package virteth_test

import (
	"sync"
	"testing"

	"github.com/bassosimone/virteth"
	"github.com/stretchr/testify/assert"
)

func TestPoolBounded(t *testing.T) {
	pool := virteth.NewPool(2)
	assert.Equal(t, 2, pool.Capacity())

	buf, ok := pool.Alloc(10)
	assert.True(t, ok)
	assert.Len(t, buf, 10)
	_, ok = pool.Alloc(10)
	assert.True(t, ok)
	_, ok = pool.Alloc(10)
	assert.False(t, ok)
	assert.Equal(t, 2, pool.InUse())

	pool.Free()
	_, ok = pool.Alloc(10)
	assert.True(t, ok)
}

func TestPoolUnbounded(t *testing.T) {
	pool := virteth.NewPool(0)
	for range 1000 {
		_, ok := pool.Alloc(1)
		assert.True(t, ok)
	}
	assert.Equal(t, 1000, pool.InUse())
}

func TestPoolFreeUnderflowPanics(t *testing.T) {
	pool := virteth.NewPool(1)
	assert.Panics(t, pool.Free)
}

func TestPoolConcurrentAllocNeverExceedsCapacity(t *testing.T) {
	const capacity = 16
	pool := virteth.NewPool(capacity)
	var (
		mu      sync.Mutex
		granted int
	)
	wg := &sync.WaitGroup{}
	for range 64 {
		wg.Go(func() {
			if _, ok := pool.Alloc(1); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, capacity, granted)
	assert.Equal(t, capacity, pool.InUse())
}
