// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"context"
	"errors"
	"sync"

	"github.com/bassosimone/runtimex"
	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
)

// Endpoint exposes an [*Interface] to gVisor. This type is compatible with
// [stack.Stack] because it implements the [stack.LinkEndpoint] interface.
//
// To send packets, [stack.Stack] invokes [*Endpoint.WritePackets], which, in
// turn, invokes [*Interface.Transmit], which loops them back.
//
// A background [*Poller] drains the receive ring and hands the frames to the
// [stack.NetworkDispatcher] configured using [*Endpoint.Attach].
//
// Attaching a dispatcher brings the interface up. Detaching it (i.e., calling
// Attach with nil) or closing the endpoint brings the interface down.
//
// Construct using [NewEndpoint].
type Endpoint struct {
	// budget is the budget of the background poller.
	budget int

	// cancel stops the background poller (nil when detached).
	cancel context.CancelFunc

	// closefunc is the function invoked on close.
	closefunc func()

	// disp is set by Attach and used to deliver inbound packets into netstack.
	disp stack.NetworkDispatcher

	// ix is the interface we expose.
	ix *Interface

	// isclosed indicates this endpoint should not accept more work.
	isclosed bool

	// mtu holds the link MTU.
	mtu uint32

	// mu provides mutual exclusion.
	mu sync.RWMutex

	// wg tracks the background poller.
	wg sync.WaitGroup
}

// NewEndpoint creates a new [*Endpoint] and its [*Interface].
//
// The mtu parameter sets the MTU in bytes. Common values:
//
// - [MTUEthernet]
// - [MTUMinimumIPv6]
// - [MTUJumbo]
//
// The budget parameter is the [*Poller] budget (see [DefaultBudget]).
//
// The options configure the underlying [*Interface].
//
// This function PANICs if budget is not positive.
func NewEndpoint(mtu uint32, budget int, options ...InterfaceOption) *Endpoint {
	runtimex.Assert(budget > 0)
	ep := &Endpoint{
		budget:    budget,
		cancel:    nil,
		closefunc: nil,
		disp:      nil,
		isclosed:  false,
		mtu:       mtu,
		mu:        sync.RWMutex{},
	}
	ep.ix = NewInterface(ep, options...)
	return ep
}

// Ensure that [*Endpoint] implements [stack.LinkEndpoint].
var _ stack.LinkEndpoint = &Endpoint{}

// Interface returns the underlying [*Interface].
func (ep *Endpoint) Interface() *Interface {
	return ep.ix
}

// ARPHardwareType implements [stack.LinkEndpoint].
func (ep *Endpoint) ARPHardwareType() header.ARPHardwareType {
	return header.ARPHardwareNone
}

// AddHeader implements [stack.LinkEndpoint].
func (ep *Endpoint) AddHeader(pbuf *stack.PacketBuffer) {
	// nothing to do here because we loop raw IP packets
}

// Attach implements [stack.LinkEndpoint].
//
// A non-nil dispatcher starts the interface and the background poller,
// while a nil dispatcher stops both if they were running. Replacing the
// dispatcher of an attached endpoint does not restart the interface.
//
// Use [*Endpoint.Wait] to join the poller.
func (ep *Endpoint) Attach(disp stack.NetworkDispatcher) {
	ep.mu.Lock()
	if ep.isclosed {
		ep.mu.Unlock()
		return
	}
	attached := ep.disp != nil
	ep.disp = disp
	if disp == nil {
		ep.stopPollerLocked()
		ep.mu.Unlock()
		if attached {
			ep.ix.Stop()
		}
		return
	}
	ep.startPollerLocked()
	ep.mu.Unlock()
	if !attached {
		ep.ix.Start()
	}
}

// startPollerLocked spawns the background poller unless it is already
// running. The caller must hold mu.
func (ep *Endpoint) startPollerLocked() {
	if ep.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ep.cancel = cancel
	poller := NewPoller(ep.ix, ep.budget)
	ep.wg.Go(func() {
		poller.Run(ctx)
	})
}

// stopPollerLocked tells the background poller to terminate. The caller must hold mu.
func (ep *Endpoint) stopPollerLocked() {
	if ep.cancel != nil {
		ep.cancel()
		ep.cancel = nil
	}
}

// Capabilities implements [stack.LinkEndpoint].
func (ep *Endpoint) Capabilities() stack.LinkEndpointCapabilities {
	return 0 // no offloads
}

// Close implements [stack.LinkEndpoint].
//
// The interface is stopped unless a previous Attach(nil) already did that.
func (ep *Endpoint) Close() {
	ep.mu.Lock()
	if ep.isclosed {
		ep.mu.Unlock()
		return
	}
	ep.isclosed = true
	attached := ep.disp != nil
	ep.disp = nil
	ep.stopPollerLocked()
	closefunc := ep.closefunc
	ep.mu.Unlock()

	if attached {
		ep.ix.Stop()
	}
	if closefunc != nil {
		closefunc()
	}
}

// IsAttached implements [stack.LinkEndpoint].
func (ep *Endpoint) IsAttached() bool {
	ep.mu.RLock()
	attached := ep.disp != nil && !ep.isclosed
	ep.mu.RUnlock()
	return attached
}

// LinkAddress implements [stack.LinkEndpoint].
func (ep *Endpoint) LinkAddress() tcpip.LinkAddress {
	return ep.ix.Info().LinkAddress
}

// MTU implements [stack.LinkEndpoint].
func (ep *Endpoint) MTU() uint32 {
	ep.mu.RLock()
	value := ep.mtu
	ep.mu.RUnlock()
	return value
}

// MaxHeaderLength implements [stack.LinkEndpoint].
func (ep *Endpoint) MaxHeaderLength() uint16 {
	return 0 // we loop raw IP packets
}

// ParseHeader implements [stack.LinkEndpoint].
func (ep *Endpoint) ParseHeader(pbuf *stack.PacketBuffer) bool {
	return true // no header to parse
}

// SetLinkAddress implements [stack.LinkEndpoint].
//
// The link address is part of the immutable interface identification,
// hence this method does nothing.
func (ep *Endpoint) SetLinkAddress(addr tcpip.LinkAddress) {
	// nothing
}

// SetMTU implements [stack.LinkEndpoint].
func (ep *Endpoint) SetMTU(mtu uint32) {
	ep.mu.Lock()
	ep.mtu = mtu
	ep.mu.Unlock()
}

// SetOnCloseAction implements [stack.LinkEndpoint].
func (ep *Endpoint) SetOnCloseAction(action func()) {
	ep.mu.Lock()
	ep.closefunc = action
	ep.mu.Unlock()
}

// Wait implements [stack.LinkEndpoint].
//
// It joins the background poller, which terminates when the endpoint
// is detached or closed.
func (ep *Endpoint) Wait() {
	ep.wg.Wait()
}

// WritePackets implements [stack.LinkEndpoint].
//
// Packets are transmitted in order until the interface stops admitting
// them. When not even the first packet could be transmitted, the returned
// error is [tcpip.ErrWouldBlock] on backpressure and [tcpip.ErrClosedForSend]
// when the interface is down.
func (ep *Endpoint) WritePackets(pkts stack.PacketBufferList) (int, tcpip.Error) {
	// 1. access mutex protected fields
	ep.mu.RLock()
	isclosed := ep.isclosed
	mtu := ep.mtu
	ep.mu.RUnlock()

	// 2. bail if the endpoint has been closed
	if isclosed {
		return 0, &tcpip.ErrClosedForSend{}
	}

	// 3. try transmitting the packets
	var numSent int
	for _, pb := range pkts.AsSlice() {
		// 3.1. stop offering work while the interface does not admit it
		if !ep.ix.Admitting() {
			return endpointPartialWrite(numSent, ep.ix.IsRunning())
		}

		// 3.2. serialize the packet buffer to bytes
		payload := endpointPacketBufferToBytes(pb)
		if len(payload) <= 0 {
			continue
		}

		// 3.3. drop the packet if larger than the MTU
		if uint32(len(payload)) > mtu {
			continue
		}

		// 3.4. hand the frame to the interface
		frame := &Frame{Payload: payload, Protocol: pb.NetworkProtocolNumber}
		if err := ep.ix.Transmit(frame); err != nil {
			return endpointPartialWrite(numSent, !errors.Is(err, ErrNotRunning))
		}
		numSent++
	}

	// 4. return number of packets sent
	return numSent, nil
}

// endpointPartialWrite maps a stopped transmission to the WritePackets result.
func endpointPartialWrite(numSent int, running bool) (int, tcpip.Error) {
	switch {
	case numSent > 0:
		return numSent, nil
	case running:
		return 0, &tcpip.ErrWouldBlock{}
	default:
		return 0, &tcpip.ErrClosedForSend{}
	}
}

// Receive implements [Receiver] by injecting the frame into the stack.
func (ep *Endpoint) Receive(frame *Frame) {
	// 1. drop the zero-length frames
	if frame.Len() <= 0 {
		return
	}

	// 2. access mutex protected fields
	ep.mu.RLock()
	disp := ep.disp
	isclosed := ep.isclosed
	ep.mu.RUnlock()

	// 3. do not deliver if we have been closed or have no dispatcher
	if isclosed || disp == nil {
		return
	}

	// 4. deliver A COPY OF the raw network packet
	copied := make([]byte, frame.Len())
	copy(copied, frame.Payload)
	pkb := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(copied),
	})
	defer pkb.DecRef()
	disp.DeliverNetworkPacket(frame.Protocol, pkb)
}

// endpointPacketBufferToBytes returns a slice containing A COPY OF the packet bytes.
func endpointPacketBufferToBytes(pb *stack.PacketBuffer) []byte {
	v := pb.ToView()
	defer v.Release()
	out := make([]byte, v.Size())
	_ = runtimex.PanicOnError1(v.Read(out))
	return out
}
