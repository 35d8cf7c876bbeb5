// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"crypto/rand"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
	"go.uber.org/zap"
	"gvisor.dev/gvisor/pkg/tcpip"
)

// Receiver is the host ingestion entry point invoked by [*Interface.Poll].
//
// The frame is released as soon as Receive returns, so implementations
// must copy any payload bytes they want to keep.
type Receiver interface {
	Receive(frame *Frame)
}

// ReceiverFunc adapts a func to be a [Receiver].
type ReceiverFunc func(frame *Frame)

var _ Receiver = ReceiverFunc(nil)

// Receive implements [Receiver].
func (fx ReceiverFunc) Receive(frame *Frame) {
	fx(frame)
}

// Info contains the identification of an [*Interface].
type Info struct {
	Name        string
	Driver      string
	Version     string
	BusInfo     string
	LinkAddress tcpip.LinkAddress
}

// Stats contains the cumulative counters of an [*Interface].
//
// Counters never decrease for the lifetime of the interface.
type Stats struct {
	TxPackets uint64
	TxBytes   uint64
	TxBusy    uint64
	RxPackets uint64
	RxBytes   uint64
	RxDropped uint64
}

// interfaceCounters is the atomic backing store of [Stats].
type interfaceCounters struct {
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	txBusy    atomic.Uint64
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	rxDropped atomic.Uint64
}

// Interface is a software NIC whose transmitted frames loop back into
// its own receive path through a TX ring and an RX ring.
//
// The host stack submits frames with [*Interface.Transmit] and must stop
// submitting while [*Interface.Admitting] is false. Each looped-back frame
// raises the [*Interface.RxReady] signal; the scheduler reacting to the
// signal (see [*Poller]) drains the RX ring with [*Interface.Poll], which
// hands frames to the [Receiver].
//
// The interface is down after construction: use [*Interface.Start].
//
// Construct using [NewInterface].
type Interface struct {
	// admission is the policy gating the blocked flag.
	admission AdmissionPolicy

	// blocked is the admission flag (true means "stop sending").
	blocked atomic.Bool

	// carrier is the advisory link presence bit.
	carrier atomic.Bool

	// counters contains the cumulative counters.
	counters interfaceCounters

	// info is the immutable identification.
	info Info

	// link contains the link settings.
	link LinkSettings

	// linkmu guards link and nothing else.
	linkmu sync.Mutex

	// logger is the logger to use.
	logger *zap.Logger

	// mu guards the rings, running, started and pollEnabled.
	mu sync.Mutex

	// pollEnabled indicates whether Poll may dequeue frames.
	pollEnabled bool

	// pollmu ensures there is at most one active Poll.
	pollmu sync.Mutex

	// pool bounds the outstanding loopback copies.
	pool *Pool

	// receiver is the host ingestion entry point.
	receiver Receiver

	// running indicates whether the interface is up.
	running bool

	// started indicates whether Start was ever called.
	started bool

	// rx is the receive ring.
	rx *Ring

	// rxready is the coalescing "RX work available" signal.
	rxready chan struct{}

	// tap observes looped-back frames (may be nil).
	tap func(frame *Frame)

	// tx is the transmit ring.
	tx *Ring
}

// NewInterface creates a new [*Interface] delivering received frames to the given [Receiver].
func NewInterface(receiver Receiver, options ...InterfaceOption) *Interface {
	runtimex.Assert(receiver != nil)
	cfg := &interfaceConfig{
		admission:    AdmissionRX,
		linkAddr:     "",
		logger:       zap.NewNop(),
		name:         DefaultInterfaceName,
		poolCapacity: 0,
		ringCapacity: DefaultRingCapacity,
		tap:          nil,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.linkAddr == "" {
		cfg.linkAddr = interfaceRandomLinkAddress()
	}

	ix := &Interface{
		admission: cfg.admission,
		info: Info{
			Name:        cfg.name,
			Driver:      DriverName,
			Version:     DriverVersion,
			BusInfo:     BusInfo,
			LinkAddress: cfg.linkAddr,
		},
		link:     DefaultLinkSettings(),
		logger:   cfg.logger.With(zap.String("interface", cfg.name)),
		pool:     NewPool(cfg.poolCapacity),
		receiver: receiver,
		rx:       NewRing(cfg.ringCapacity),
		rxready:  make(chan struct{}, 1),
		tap:      cfg.tap,
		tx:       NewRing(cfg.ringCapacity),
	}
	ix.blocked.Store(true)
	ix.logger.Info("registered device",
		zap.String("mac", cfg.linkAddr.String()),
		zap.Stringer("admission", cfg.admission),
		zap.Int("ringCapacity", cfg.ringCapacity))
	return ix
}

// interfaceRandomLinkAddress returns a random locally administered unicast MAC.
func interfaceRandomLinkAddress() tcpip.LinkAddress {
	addr := make([]byte, 6)
	_ = runtimex.PanicOnError1(rand.Read(addr))
	addr[0] = (addr[0] &^ 0x01) | 0x02
	return tcpip.LinkAddress(addr)
}

// Start brings the interface up.
//
// Both rings are emptied (frames still queued are discarded), polling
// is enabled, the admission flag opens and the carrier goes up.
func (ix *Interface) Start() {
	ix.mu.Lock()
	ix.tx.Reset()
	ix.rx.Reset()
	ix.pollEnabled = true
	ix.running = true
	ix.started = true
	ix.blocked.Store(false)
	ix.mu.Unlock()

	ix.carrier.Store(true)
	ix.logger.Info("device opened")
}

// Stop brings the interface down.
//
// The carrier goes down, the admission flag blocks, polling is disabled
// and both rings are emptied. Queued frames are discarded, not delivered.
func (ix *Interface) Stop() {
	ix.carrier.Store(false)

	ix.mu.Lock()
	ix.blocked.Store(true)
	ix.pollEnabled = false
	ix.running = false
	ix.tx.Reset()
	ix.rx.Reset()
	ix.mu.Unlock()

	// consume a stale signal, if any
	select {
	case <-ix.rxready:
	default:
	}
	ix.logger.Info("device stopped")
}

// IsRunning returns whether the interface is up.
func (ix *Interface) IsRunning() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.running
}

// Admitting returns the admission flag: true when the host may call
// [*Interface.Transmit], false when it must wait.
func (ix *Interface) Admitting() bool {
	return !ix.blocked.Load()
}

// Carrier returns whether the simulated link is present.
func (ix *Interface) Carrier() bool {
	return ix.carrier.Load()
}

// Info returns the interface identification.
func (ix *Interface) Info() Info {
	return ix.info
}

// Stats returns a snapshot of the cumulative counters.
func (ix *Interface) Stats() Stats {
	return Stats{
		TxPackets: ix.counters.txPackets.Load(),
		TxBytes:   ix.counters.txBytes.Load(),
		TxBusy:    ix.counters.txBusy.Load(),
		RxPackets: ix.counters.rxPackets.Load(),
		RxBytes:   ix.counters.rxBytes.Load(),
		RxDropped: ix.counters.rxDropped.Load(),
	}
}

// TxOccupancy returns the number of frames in the TX ring.
func (ix *Interface) TxOccupancy() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tx.Occupancy()
}

// RxOccupancy returns the number of frames in the RX ring.
func (ix *Interface) RxOccupancy() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rx.Occupancy()
}

// RxReady returns the channel signalled when the RX ring has work.
//
// Signals coalesce: one pending notification may stand for many frames.
func (ix *Interface) RxReady() <-chan struct{} {
	return ix.rxready
}

// signalRxReady raises the RX work signal without blocking.
func (ix *Interface) signalRxReady() {
	select {
	case ix.rxready <- struct{}{}:
	default:
	}
}

// hasRoomLocked returns whether one more frame could be transmitted
// under the admission policy. The caller must hold mu.
func (ix *Interface) hasRoomLocked() bool {
	if ix.tx.IsFull() {
		return false
	}
	return ix.admission == AdmissionTX || !ix.rx.IsFull()
}

// stopQueueLocked blocks the admission flag. The caller must hold mu.
func (ix *Interface) stopQueueLocked() {
	if ix.blocked.CompareAndSwap(false, true) {
		ix.logger.Debug("queue stopped",
			zap.Int("txOccupancy", ix.tx.Occupancy()),
			zap.Int("rxOccupancy", ix.rx.Occupancy()))
	}
}

// wakeQueueLocked opens the admission flag. The caller must hold mu.
func (ix *Interface) wakeQueueLocked() {
	if ix.blocked.CompareAndSwap(true, false) {
		ix.logger.Debug("queue woken",
			zap.Int("txOccupancy", ix.tx.Occupancy()),
			zap.Int("rxOccupancy", ix.rx.Occupancy()))
	}
}
