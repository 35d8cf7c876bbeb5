// SPDX-License-Identifier: GPL-3.0-or-later

package virteth_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/virteth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncReceiver records sequence numbers and may be read concurrently.
type syncReceiver struct {
	mu   sync.Mutex
	seqs []uint16
}

func (r *syncReceiver) Receive(frame *virteth.Frame) {
	r.mu.Lock()
	r.seqs = append(r.seqs, uint16(frame.Payload[2])<<8|uint16(frame.Payload[3]))
	r.mu.Unlock()
}

func (r *syncReceiver) snapshot() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16{}, r.seqs...)
}

func TestNewPollerRejectsNonPositiveBudget(t *testing.T) {
	ix := virteth.NewInterface(&syncReceiver{})
	assert.Panics(t, func() { virteth.NewPoller(ix, 0) })
}

func TestPollerDeliversInOrderUnderLoad(t *testing.T) {
	rx := &syncReceiver{}
	ix := virteth.NewInterface(rx, virteth.InterfaceOptionRingCapacity(8))
	ix.Start()
	defer ix.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Go(func() {
		virteth.NewPoller(ix, 3).Run(ctx)
	})

	const total = 2000
	for seq := 0; seq < total; {
		payload := []byte{0x45, 0x00, byte(seq >> 8), byte(seq)}
		err := ix.Transmit(virteth.NewFrame(payload))
		if errors.Is(err, virteth.ErrBusy) {
			runtime.Gosched()
			continue
		}
		require.NoError(t, err)
		seq++
	}

	require.Eventually(t, func() bool {
		return len(rx.snapshot()) == total
	}, 5*time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	for idx, seq := range rx.snapshot() {
		require.Equal(t, uint16(idx), seq)
	}
	stats := ix.Stats()
	assert.Equal(t, uint64(total), stats.TxPackets)
	assert.Equal(t, uint64(total), stats.RxPackets)
	assert.Zero(t, stats.RxDropped)
}

func TestPollerStopsOnCancel(t *testing.T) {
	ix := virteth.NewInterface(&syncReceiver{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		virteth.NewPoller(ix, virteth.DefaultBudget).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}
