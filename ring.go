// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import "github.com/bassosimone/runtimex"

// DefaultRingCapacity is the default number of slots of each ring.
const DefaultRingCapacity = 64

// Ring is a fixed-capacity circular queue of [*Frame] slots.
//
// A Ring is not safe for concurrent use. The [*Interface] owning
// the ring serializes access to it.
//
// Construct using [NewRing].
type Ring struct {
	// slots holds at most one frame per slot.
	slots []*Frame

	// head is the next slot to dequeue.
	head int

	// tail is the next slot to enqueue.
	tail int

	// count is the number of occupied slots.
	count int
}

// NewRing creates a new empty [*Ring] with the given capacity.
//
// This function PANICs if capacity is not positive.
func NewRing(capacity int) *Ring {
	runtimex.Assert(capacity > 0)
	return &Ring{slots: make([]*Frame, capacity)}
}

// TryEnqueue stores the frame at the tail of the ring.
//
// It returns false, without taking ownership of the
// frame, when the ring is full.
func (r *Ring) TryEnqueue(frame *Frame) bool {
	runtimex.Assert(frame != nil)
	if r.count == len(r.slots) {
		return false
	}
	r.slots[r.tail] = frame
	r.tail = (r.tail + 1) % len(r.slots)
	r.count++
	return true
}

// TryDequeue removes the frame at the head of the ring and
// transfers its ownership to the caller.
//
// It returns false when the ring is empty.
func (r *Ring) TryDequeue() (*Frame, bool) {
	if r.count == 0 {
		return nil, false
	}
	frame := r.slots[r.head]
	r.slots[r.head] = nil // the slot must not be redelivered
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	return frame, true
}

// Reset empties the ring, releasing every frame still queued.
func (r *Ring) Reset() {
	for idx, frame := range r.slots {
		if frame != nil {
			frame.Release()
			r.slots[idx] = nil
		}
	}
	r.head, r.tail, r.count = 0, 0, 0
}

// IsFull returns whether all the slots are occupied.
func (r *Ring) IsFull() bool {
	return r.count == len(r.slots)
}

// IsEmpty returns whether no slot is occupied.
func (r *Ring) IsEmpty() bool {
	return r.count == 0
}

// Occupancy returns the number of occupied slots.
func (r *Ring) Occupancy() int {
	return r.count
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int {
	return len(r.slots)
}
