// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"go.uber.org/zap"
	"gvisor.dev/gvisor/pkg/tcpip"
)

// AdmissionPolicy selects which ring gates the admission flag.
type AdmissionPolicy int

const (
	// AdmissionRX blocks transmission while the RX ring has no room for
	// the loopback copy. This is the default.
	AdmissionRX = AdmissionPolicy(iota)

	// AdmissionTX blocks transmission only while the TX ring is full. Since
	// TX slots retire within the same call, loopback copies that do not fit
	// into the RX ring are dropped and counted instead.
	AdmissionTX
)

// String implements [fmt.Stringer].
func (p AdmissionPolicy) String() string {
	switch p {
	case AdmissionTX:
		return "tx"
	default:
		return "rx"
	}
}

// Identification strings reported by [*Interface.Info].
const (
	DriverName    = "virt_eth"
	DriverVersion = "0.1"
	BusInfo       = "virtual"
)

// DefaultInterfaceName is the interface name used when [InterfaceOptionName] is not given.
const DefaultInterfaceName = "virteth0"

// InterfaceOption is an option for [NewInterface].
type InterfaceOption func(cfg *interfaceConfig)

// interfaceConfig is the internal type modified by [InterfaceOption].
type interfaceConfig struct {
	admission    AdmissionPolicy
	linkAddr     tcpip.LinkAddress
	logger       *zap.Logger
	name         string
	poolCapacity int
	ringCapacity int
	tap          func(frame *Frame)
}

// InterfaceOptionName sets the interface name.
//
// The default is [DefaultInterfaceName].
func InterfaceOptionName(name string) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.name = name
	}
}

// InterfaceOptionRingCapacity sets the number of slots of both rings.
//
// The default is [DefaultRingCapacity].
func InterfaceOptionRingCapacity(capacity int) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.ringCapacity = capacity
	}
}

// InterfaceOptionPoolCapacity bounds the number of loopback copies that may
// be outstanding at any time. When the bound is hit, the loopback copy is
// dropped and counted. The default (zero) is unbounded.
func InterfaceOptionPoolCapacity(capacity int) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.poolCapacity = capacity
	}
}

// InterfaceOptionAdmission sets the [AdmissionPolicy].
//
// The default is [AdmissionRX].
func InterfaceOptionAdmission(policy AdmissionPolicy) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.admission = policy
	}
}

// InterfaceOptionLogger sets the logger. The default discards all logs.
func InterfaceOptionLogger(logger *zap.Logger) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.logger = logger
	}
}

// InterfaceOptionLinkAddress sets the link address. The
// default is a random locally administered unicast MAC.
func InterfaceOptionLinkAddress(addr tcpip.LinkAddress) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.linkAddr = addr
	}
}

// InterfaceOptionTap registers a function observing every looped-back frame
// right after it has been queued for reception. The function runs while the
// interface lock is held, so it must neither block nor retain the frame.
func InterfaceOptionTap(fx func(frame *Frame)) InterfaceOption {
	return func(cfg *interfaceConfig) {
		cfg.tap = fx
	}
}
