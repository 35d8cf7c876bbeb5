// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingDequeueClearsSlot(t *testing.T) {
	ring := NewRing(2)
	require.True(t, ring.TryEnqueue(NewFrame([]byte{0x45})))
	require.True(t, ring.TryEnqueue(NewFrame([]byte{0x60})))

	_, ok := ring.TryDequeue()
	require.True(t, ok)
	assert.Nil(t, ring.slots[0])
	assert.NotNil(t, ring.slots[1])

	_, ok = ring.TryDequeue()
	require.True(t, ok)
	for _, slot := range ring.slots {
		assert.Nil(t, slot)
	}
	assert.Equal(t, 0, ring.head)
	assert.Equal(t, 0, ring.tail)
}
