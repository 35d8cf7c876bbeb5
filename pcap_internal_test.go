// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCAPTraceDumpFrameSnapshot(t *testing.T) {
	tr := &PCAPTrace{
		snaps:    make(chan pcapSnapshot, 1),
		snapSize: 2,
	}
	frame := NewFrame([]byte{0x45, 0x00, 0x00, 0x04})

	before := time.Now()
	tr.DumpFrame(frame)
	snap := <-tr.snaps

	// the snapshot is truncated, remembers the original length and
	// does not alias the frame payload
	assert.Equal(t, []byte{0x45, 0x00}, snap.data)
	assert.Equal(t, 4, snap.length)
	assert.False(t, snap.when.Before(before))
	frame.Payload[0] = 0x60
	assert.Equal(t, byte(0x45), snap.data[0])
	assert.Zero(t, tr.Dropped())
}

func TestPCAPTraceDumpFrameDropsWhenFull(t *testing.T) {
	tr := &PCAPTrace{
		snaps:    make(chan pcapSnapshot, 1),
		snapSize: MTUEthernet,
	}
	tr.DumpFrame(NewFrame([]byte{0x45, 0x01}))
	tr.DumpFrame(NewFrame([]byte{0x45, 0x02}))
	assert.Equal(t, uint64(1), tr.Dropped())

	snap := <-tr.snaps
	assert.Equal(t, []byte{0x45, 0x01}, snap.data)
}

func TestPCAPTraceReadOrDrain(t *testing.T) {
	t.Run("pending_before_cancel", func(t *testing.T) {
		tr := &PCAPTrace{snaps: make(chan pcapSnapshot, 1)}
		tr.Dump([]byte{0x45})

		snap, ok := tr.readOrDrain(context.Background())
		require.True(t, ok)
		assert.Equal(t, []byte{0x45}, snap.data)
	})

	t.Run("snapshot_arrives_after_cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tr := &PCAPTrace{snaps: make(chan pcapSnapshot, 1)}
		tr.testCancellationDrainHook = func() {
			tr.snaps <- pcapSnapshot{data: []byte{0x60}, length: 1}
		}

		snap, ok := tr.readOrDrain(ctx)
		require.True(t, ok)
		assert.Equal(t, 1, snap.length)
		assert.Equal(t, []byte{0x60}, snap.data)
	})

	t.Run("nothing_left_after_cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tr := &PCAPTrace{snaps: make(chan pcapSnapshot)}
		_, ok := tr.readOrDrain(ctx)
		assert.False(t, ok)
	})
}
