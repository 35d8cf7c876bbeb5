// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import "github.com/bassosimone/runtimex"

// DefaultBudget is the default number of frames a [*Poller] delivers per poll.
const DefaultBudget = 64

// Poll delivers up to budget frames from the RX ring to the [Receiver],
// in the order in which they were queued, and returns how many frames
// it delivered.
//
// The complete return value is true when the RX ring ran empty before the
// budget was exhausted: the scheduler may then wait for the next
// [*Interface.RxReady] signal. Otherwise, frames may still be queued and
// the scheduler should poll again.
//
// Frames are delivered without holding the interface lock, so the
// [Receiver] may transmit. Concurrent calls are serialized. A stopped
// interface delivers nothing and reports completion.
//
// This method PANICs if budget is not positive or if the interface
// was never started.
func (ix *Interface) Poll(budget int) (delivered int, complete bool) {
	runtimex.Assert(budget > 0)

	ix.pollmu.Lock()
	defer ix.pollmu.Unlock()

	ix.mu.Lock()
	started := ix.started
	ix.mu.Unlock()
	runtimex.Assert(started)

	for delivered < budget {
		frame, ok := ix.pollDequeue()
		if !ok {
			return delivered, true
		}
		size := frame.Len()
		ix.receiver.Receive(frame)
		frame.Release()
		ix.counters.rxPackets.Add(1)
		ix.counters.rxBytes.Add(uint64(size))
		delivered++
	}
	return delivered, false
}

// pollDequeue removes the frame at the head of the RX ring and reopens
// the admission flag when that frees enough room.
func (ix *Interface) pollDequeue() (*Frame, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.pollEnabled {
		return nil, false
	}
	frame, ok := ix.rx.TryDequeue()
	if ok && ix.running && ix.hasRoomLocked() {
		ix.wakeQueueLocked()
	}
	return frame, ok
}
