// SPDX-License-Identifier: GPL-3.0-or-later

// Package virteth simulates an Ethernet-like NIC in software for testing
// networking stacks without physical hardware.
//
// An [*Interface] owns two fixed-capacity rings. [*Interface.Transmit] queues
// a frame into the TX ring, bounces a deep copy of it into the RX ring and
// immediately retires the TX slot. The copy raises [*Interface.RxReady], which
// tells a scheduler such as [*Poller] to call [*Interface.Poll]; the poll
// drains at most a budget of frames and hands them to a [Receiver].
//
// When the RX ring is saturated the interface stops admitting new frames
// (see [*Interface.Admitting] and [ErrBusy]) until the poller frees a slot.
// [*Interface.Start] and [*Interface.Stop] reset both rings and toggle the
// carrier; [*Interface.SetLinkSettings] changes the advertised link settings.
//
// The [*Endpoint] type wraps an [*Interface] as a gVisor [stack.LinkEndpoint]
// and [NewStack] creates a gVisor stack on top of it, so that traffic sent to
// the stack's own addresses traverses the simulated NIC.
//
// The [*PCAPTrace] type allows you to capture the looped-back packets in a
// PCAP format and [*Collector] exports the interface counters to prometheus.
package virteth
