//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/netem/blob/6e0d618f0cb48b96c78cd066e23cf3aa1208b1dd/pcap.go
//

package virteth

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapSnapshot is a packet snapshot.
type pcapSnapshot struct {
	// data is the data inside the snapshot.
	data []byte

	// length is the original length.
	length int

	// when is the capture time.
	when time.Time
}

// PCAPTraceOption is an option for [NewPCAPTrace].
type PCAPTraceOption func(cfg *pcapTraceConfig)

// pcapTraceConfig is the internal type modified by [PCAPTraceOption].
type pcapTraceConfig struct {
	buffer int
}

// DefaultPCAPTraceBuffer is the default number of snapshots buffered by a [*PCAPTrace].
const DefaultPCAPTraceBuffer = 4096

// PCAPTraceOptionBuffer sets the number of snapshots buffered before
// [*PCAPTrace.Dump] starts dropping packets.
//
// The default is [DefaultPCAPTraceBuffer].
func PCAPTraceOptionBuffer(size int) PCAPTraceOption {
	return func(cfg *pcapTraceConfig) {
		cfg.buffer = size
	}
}

// PCAPTrace writes the looped-back frames to a PCAP file using a
// background goroutine, so that capturing never blocks the data path.
//
// Construct using [NewPCAPTrace].
type PCAPTrace struct {
	// cancel allows to cancel the background goroutine.
	cancel context.CancelFunc

	// dropped is the number of packets dropped.
	dropped atomic.Uint64

	// errch contains the error returned by the background goroutine.
	errch chan error

	// snaps contains the pending snapshots.
	snaps chan pcapSnapshot

	// once provides "once" semantics for Close.
	once sync.Once

	// snapSize is the number of bytes to capture.
	snapSize uint16

	// testCancellationDrainHook runs after cancellation and before draining.
	testCancellationDrainHook func()

	// wc is the open writer we're using.
	wc io.WriteCloser
}

// NewPCAPTrace creates a new [*PCAPTrace] writing into wc and capturing
// at most snapSize bytes of each packet.
func NewPCAPTrace(wc io.WriteCloser, snapSize uint16, options ...PCAPTraceOption) *PCAPTrace {
	cfg := &pcapTraceConfig{buffer: DefaultPCAPTraceBuffer}
	for _, opt := range options {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &PCAPTrace{
		cancel:   cancel,
		errch:    make(chan error, 1),
		snaps:    make(chan pcapSnapshot, cfg.buffer),
		snapSize: snapSize,
		wc:       wc,
	}
	go tr.saveLoop(ctx)
	return tr
}

// Dump records the given raw IPv4/IPv6 packet.
//
// When the buffer is full the packet is dropped and counted.
func (tr *PCAPTrace) Dump(packet []byte) {
	snapSize := min(len(packet), int(tr.snapSize))
	packetSnap := make([]byte, snapSize)
	copy(packetSnap, packet)
	snap := pcapSnapshot{data: packetSnap, length: len(packet), when: time.Now()}
	select {
	case tr.snaps <- snap:
	default:
		tr.dropped.Add(1)
	}
}

// DumpFrame is like [*PCAPTrace.Dump] but takes a [*Frame]. Its signature
// is compatible with [InterfaceOptionTap].
func (tr *PCAPTrace) DumpFrame(frame *Frame) {
	tr.Dump(frame.Payload)
}

// Dropped returns the number of packets dropped due to buffer overflow.
//
// Packets are dropped when Dump is called but the internal buffer is full.
// This happens when disk I/O cannot keep up with packet capture rate.
func (tr *PCAPTrace) Dropped() uint64 {
	return tr.dropped.Load()
}

// saveLoop writes the header and then each snapshot until cancelled and drained.
func (tr *PCAPTrace) saveLoop(ctx context.Context) {
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(uint32(tr.snapSize), layers.LinkTypeRaw); err != nil {
		tr.errch <- err
		return
	}
	for {
		snap, ok := tr.readOrDrain(ctx)
		if !ok {
			tr.errch <- nil
			return
		}
		if err := tr.savePacket(w, snap); err != nil {
			tr.errch <- err
			return
		}
	}
}

// readOrDrain returns the next snapshot. After cancellation, it keeps
// returning buffered snapshots and reports false once none is left.
func (tr *PCAPTrace) readOrDrain(ctx context.Context) (pcapSnapshot, bool) {
	select {
	case snap := <-tr.snaps:
		return snap, true
	case <-ctx.Done():
	}
	if tr.testCancellationDrainHook != nil {
		tr.testCancellationDrainHook()
	}
	select {
	case snap := <-tr.snaps:
		return snap, true
	default:
		return pcapSnapshot{}, false
	}
}

func (tr *PCAPTrace) savePacket(w *pcapgo.Writer, snap pcapSnapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:      snap.when,
		CaptureLength:  len(snap.data),
		Length:         snap.length,
		InterfaceIndex: 0,
	}
	return w.WritePacket(ci, snap.data)
}

// Close interrupts the background goroutine and waits for it to join
// before closing the packet capture file.
func (tr *PCAPTrace) Close() (err error) {
	tr.once.Do(func() {
		// notify the background goroutine to terminate
		tr.cancel()

		// wait for the goroutine to terminate
		err1 := <-tr.errch

		// close the open capture file
		err2 := tr.wc.Close()

		// assemble a common error (nil on success)
		err = errors.Join(err1, err2)
	})
	return
}
