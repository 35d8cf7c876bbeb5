// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"fmt"

	"github.com/bassosimone/runtimex"
	"go.uber.org/zap"
)

// Transmit submits a frame for transmission.
//
// On success the interface takes ownership of the frame: a copy is queued
// into the RX ring (or dropped and counted when it cannot be queued) and
// the original is released.
//
// When the rings are saturated, Transmit returns [ErrBusy], blocks the
// admission flag and leaves the frame with the caller, who should retry
// once [*Interface.Admitting] is true again.
//
// Transmit returns [ErrNotRunning] if the interface is down.
//
// This method PANICs if frame is nil.
func (ix *Interface) Transmit(frame *Frame) error {
	runtimex.Assert(frame != nil)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// 1. refuse to operate on a stopped interface
	if !ix.running {
		return ErrNotRunning
	}

	// 2. apply backpressure when there is no room
	if !ix.hasRoomLocked() {
		ix.stopQueueLocked()
		ix.counters.txBusy.Add(1)
		return ErrBusy
	}

	// 3. queue the frame into the TX ring
	size := frame.Len()
	runtimex.Assert(ix.tx.TryEnqueue(frame))
	ix.counters.txPackets.Add(1)
	ix.counters.txBytes.Add(uint64(size))
	ix.logger.Debug("xmit",
		zap.Int("len", size),
		zap.String("protocol", fmt.Sprintf("0x%04x", uint16(frame.Protocol))))

	// 4. bounce a copy of the frame into the RX ring
	ix.loopbackLocked(frame)

	// 5. retire the TX slot and release the original
	retired, ok := ix.tx.TryDequeue()
	runtimex.Assert(ok && retired == frame)
	retired.Release()

	// 6. update the admission flag
	if ix.hasRoomLocked() {
		ix.wakeQueueLocked()
	} else {
		ix.stopQueueLocked()
	}
	return nil
}

// loopbackLocked queues a receive-side copy of the frame and raises the
// RX work signal. The caller must hold mu.
func (ix *Interface) loopbackLocked(frame *Frame) {
	// 1. drop when the RX ring is full
	if ix.rx.IsFull() {
		ix.counters.rxDropped.Add(1)
		ix.logger.Debug("loopback dropped: RX ring full")
		return
	}

	// 2. duplicate into storage independent of the original
	dup, ok := frame.Clone(ix.pool)
	if !ok {
		ix.counters.rxDropped.Add(1)
		ix.logger.Debug("loopback dropped: cannot allocate RX buffer",
			zap.Int("poolInUse", ix.pool.InUse()))
		return
	}

	// 3. make it look like it came from the wire
	if proto, ok := frameDetectNetworkProtocol(dup.Payload); ok {
		dup.Protocol = proto
	}
	dup.NIC = ix.info.Name

	// 4. queue and notify the scheduler
	runtimex.Assert(ix.rx.TryEnqueue(dup))
	if ix.tap != nil {
		ix.tap(dup)
	}
	ix.signalRxReady()
}
