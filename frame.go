// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
)

// Frame is one link-layer packet travelling through an [*Interface].
//
// A frame is owned by exactly one holder at a time: the host stack before
// [*Interface.Transmit], a ring slot while queued, and the [Receiver] during
// delivery. Construct using [NewFrame].
type Frame struct {
	// Payload contains a raw IP packet (IPv4 or IPv6).
	Payload []byte

	// Protocol is the network protocol carried by Payload.
	Protocol tcpip.NetworkProtocolNumber

	// NIC is the name of the interface that received the frame.
	//
	// Empty for frames that have not been looped back yet.
	NIC string

	// pool is the pool that owns Payload, if any.
	pool *Pool
}

// NewFrame creates a [*Frame] taking ownership of the given payload.
//
// The protocol is inferred from the IP version nibble and is zero
// when the payload is neither IPv4 nor IPv6.
func NewFrame(payload []byte) *Frame {
	proto, _ := frameDetectNetworkProtocol(payload)
	return &Frame{Payload: payload, Protocol: proto}
}

// Len returns the frame length in bytes.
func (f *Frame) Len() int {
	return len(f.Payload)
}

// Clone returns a deep copy of the frame whose payload storage is drawn
// from the given [*Pool]. The copy never aliases the original payload.
//
// The second return value is false when the pool is exhausted.
func (f *Frame) Clone(pool *Pool) (*Frame, bool) {
	buf, ok := pool.Alloc(len(f.Payload))
	if !ok {
		return nil, false
	}
	copy(buf, f.Payload)
	return &Frame{
		Payload:  buf,
		Protocol: f.Protocol,
		NIC:      f.NIC,
		pool:     pool,
	}, true
}

// Release gives the payload back to its pool and clears the frame.
//
// Calling Release more than once is harmless.
func (f *Frame) Release() {
	if f.pool != nil {
		f.pool.Free()
		f.pool = nil
	}
	f.Payload = nil
}

// frameDetectNetworkProtocol extracts the protocol number from the raw packet bytes.
func frameDetectNetworkProtocol(pkt []byte) (tcpip.NetworkProtocolNumber, bool) {
	if len(pkt) <= 0 {
		return 0, false
	}
	switch pkt[0] >> 4 {
	case 4:
		return ipv4.ProtocolNumber, true
	case 6:
		return ipv6.ProtocolNumber, true
	default:
		return 0, false
	}
}
