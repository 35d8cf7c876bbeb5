// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import "go.uber.org/zap"

// Duplex is the duplex mode of the simulated link.
type Duplex int

const (
	// DuplexHalf is half duplex.
	DuplexHalf = Duplex(iota)

	// DuplexFull is full duplex.
	DuplexFull
)

// String implements [fmt.Stringer].
func (d Duplex) String() string {
	switch d {
	case DuplexHalf:
		return "half"
	default:
		return "full"
	}
}

// LinkSettings contains the advertised parameters of the simulated link.
type LinkSettings struct {
	// SpeedMbps is the link speed in Mbit/s. Zero means the link is down.
	SpeedMbps uint32

	// Duplex is the duplex mode.
	Duplex Duplex

	// Autoneg indicates whether autonegotiation is enabled.
	Autoneg bool
}

// DefaultLinkSettings returns the settings of a freshly created interface.
func DefaultLinkSettings() LinkSettings {
	return LinkSettings{
		SpeedMbps: 1000,
		Duplex:    DuplexFull,
		Autoneg:   true,
	}
}

// LinkSettings returns a snapshot of the link settings.
func (ix *Interface) LinkSettings() LinkSettings {
	ix.linkmu.Lock()
	defer ix.linkmu.Unlock()
	return ix.link
}

// SetLinkSettings replaces the link settings and then forces the
// carrier down when the speed is zero, up otherwise.
//
// The carrier is also written by [*Interface.Start] and [*Interface.Stop]
// without holding the link lock: the last writer wins.
func (ix *Interface) SetLinkSettings(settings LinkSettings) {
	ix.linkmu.Lock()
	ix.link = settings
	ix.linkmu.Unlock()

	ix.carrier.Store(settings.SpeedMbps != 0)
	ix.logger.Info("link settings changed",
		zap.Uint32("speed", settings.SpeedMbps),
		zap.Stringer("duplex", settings.Duplex),
		zap.Bool("autoneg", settings.Autoneg))
}
