//
// SPDX-License-Identifier: MIT
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/gvisor.go
// Adapted from: https://github.com/WireGuard/wireguard-go
//

package virteth

import (
	"context"
	"errors"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

// Stack is a gVisor [*stack.Stack] with a single NIC.
//
// Construct using [NewStack].
type Stack struct {
	Stack *stack.Stack
}

// stackNICID is the NIC ID used by [NewStack] for the single NIC configuration.
const stackNICID = 1

// NewStack creates a new [*Stack] using a [stack.LinkEndpoint], typically an [*Endpoint].
//
// Local traffic is not short-circuited by the stack: packets sent to one of
// the addrs traverse the link endpoint, which loops them back.
func NewStack(ep stack.LinkEndpoint, addrs ...netip.Addr) (*Stack, error) {
	// 1. create options for the new stack
	stackOptions := stack.Options{
		NetworkProtocols: []stack.NetworkProtocolFactory{
			ipv4.NewProtocol,
			ipv6.NewProtocol,
		},
		TransportProtocols: []stack.TransportProtocolFactory{
			tcp.NewProtocol,
			udp.NewProtocol,
			icmp.NewProtocol4,
			icmp.NewProtocol6,
		},
		HandleLocal: false,
	}

	// 2. create the network stack itself
	nsp := stack.New(stackOptions)

	// 3. attach the provided NIC to the gvisor stack
	if err := nsp.CreateNIC(stackNICID, ep); err != nil {
		nsp.Destroy()
		return nil, errors.New(err.String())
	}

	// 4. configure all the provided addresses
	for _, addr := range addrs {
		protoAddr := stackAddrToProtocolAddress(addr)
		properties := stack.AddressProperties{}
		if err := nsp.AddProtocolAddress(stackNICID, protoAddr, properties); err != nil {
			nsp.Destroy()
			return nil, errors.New(err.String())
		}
	}

	// 5. add default routes for both protocol families
	nsp.AddRoute(tcpip.Route{
		Destination: header.IPv4EmptySubnet,
		NIC:         stackNICID,
	})
	nsp.AddRoute(tcpip.Route{
		Destination: header.IPv6EmptySubnet,
		NIC:         stackNICID,
	})

	return &Stack{nsp}, nil
}

func stackAddrToProtocolAddress(addr netip.Addr) tcpip.ProtocolAddress {
	return tcpip.ProtocolAddress{
		Protocol:          stackAddrToNetworkProtocolNumber(addr),
		AddressWithPrefix: tcpip.AddrFromSlice(addr.AsSlice()).WithPrefix(),
	}
}

func stackAddrToNetworkProtocolNumber(addr netip.Addr) tcpip.NetworkProtocolNumber {
	if addr.Is4() {
		return ipv4.ProtocolNumber
	}
	return ipv6.ProtocolNumber
}

func stackAddrPortToFullAddress(epnt netip.AddrPort) tcpip.FullAddress {
	return tcpip.FullAddress{
		NIC:  stackNICID,
		Addr: tcpip.AddrFromSlice(epnt.Addr().AsSlice()),
		Port: epnt.Port(),
	}
}

// DialTCP establishes a new [*gonet.TCPConn].
func (sx *Stack) DialTCP(ctx context.Context, addr netip.AddrPort) (*gonet.TCPConn, error) {
	return gonet.DialContextTCP(ctx, sx.Stack, stackAddrPortToFullAddress(addr),
		stackAddrToNetworkProtocolNumber(addr.Addr()))
}

// ListenTCP creates a new [*gonet.TCPListener].
func (sx *Stack) ListenTCP(addr netip.AddrPort) (*gonet.TCPListener, error) {
	return gonet.ListenTCP(sx.Stack, stackAddrPortToFullAddress(addr),
		stackAddrToNetworkProtocolNumber(addr.Addr()))
}

// DialUDP creates a new connected [*gonet.UDPConn].
func (sx *Stack) DialUDP(addr netip.AddrPort) (*gonet.UDPConn, error) {
	raddr := stackAddrPortToFullAddress(addr)
	return gonet.DialUDP(sx.Stack, nil, &raddr, stackAddrToNetworkProtocolNumber(addr.Addr()))
}

// ListenUDP creates a new listening [*gonet.UDPConn].
func (sx *Stack) ListenUDP(addr netip.AddrPort) (*gonet.UDPConn, error) {
	laddr := stackAddrPortToFullAddress(addr)
	return gonet.DialUDP(sx.Stack, &laddr, nil, stackAddrToNetworkProtocolNumber(addr.Addr()))
}

// Close shuts down the stack and waits for the NIC teardown to finish,
// which detaches an [*Endpoint] and joins its background poller.
func (sx *Stack) Close() {
	sx.Stack.Destroy()
}
