// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import "github.com/prometheus/client_golang/prometheus"

// Collector exports the counters and state of one or more [*Interface]
// as prometheus metrics labelled by interface name.
//
// Construct using [NewCollector].
type Collector struct {
	ifaces []*Interface

	txPackets      *prometheus.Desc
	txBytes        *prometheus.Desc
	txBusy         *prometheus.Desc
	rxPackets      *prometheus.Desc
	rxBytes        *prometheus.Desc
	rxDropped      *prometheus.Desc
	txOccupancy    *prometheus.Desc
	rxOccupancy    *prometheus.Desc
	carrier        *prometheus.Desc
	admissionOpen  *prometheus.Desc
	linkSpeedMbits *prometheus.Desc
}

// NewCollector creates a new [*Collector] for the given interfaces.
func NewCollector(ifaces ...*Interface) *Collector {
	labels := []string{"interface"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("virteth_"+name, help, labels, nil)
	}
	return &Collector{
		ifaces:         ifaces,
		txPackets:      desc("tx_packets_total", "Packets accepted by the transmit path."),
		txBytes:        desc("tx_bytes_total", "Bytes accepted by the transmit path."),
		txBusy:         desc("tx_busy_total", "Transmit attempts refused because of backpressure."),
		rxPackets:      desc("rx_packets_total", "Packets delivered by the receive poller."),
		rxBytes:        desc("rx_bytes_total", "Bytes delivered by the receive poller."),
		rxDropped:      desc("rx_dropped_total", "Loopback copies dropped before reaching the RX ring."),
		txOccupancy:    desc("tx_ring_occupancy", "Frames currently in the TX ring."),
		rxOccupancy:    desc("rx_ring_occupancy", "Frames currently in the RX ring."),
		carrier:        desc("carrier", "Whether the carrier is up (1) or down (0)."),
		admissionOpen:  desc("admission_open", "Whether the interface admits transmissions (1) or not (0)."),
		linkSpeedMbits: desc("link_speed_mbps", "Advertised link speed in Mbit/s."),
	}
}

var _ prometheus.Collector = &Collector{}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.txPackets
	ch <- c.txBytes
	ch <- c.txBusy
	ch <- c.rxPackets
	ch <- c.rxBytes
	ch <- c.rxDropped
	ch <- c.txOccupancy
	ch <- c.rxOccupancy
	ch <- c.carrier
	ch <- c.admissionOpen
	ch <- c.linkSpeedMbits
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, ix := range c.ifaces {
		name := ix.Info().Name
		stats := ix.Stats()
		counter := func(desc *prometheus.Desc, value uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), name)
		}
		gauge := func(desc *prometheus.Desc, value float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, name)
		}
		counter(c.txPackets, stats.TxPackets)
		counter(c.txBytes, stats.TxBytes)
		counter(c.txBusy, stats.TxBusy)
		counter(c.rxPackets, stats.RxPackets)
		counter(c.rxBytes, stats.RxBytes)
		counter(c.rxDropped, stats.RxDropped)
		gauge(c.txOccupancy, float64(ix.TxOccupancy()))
		gauge(c.rxOccupancy, float64(ix.RxOccupancy()))
		gauge(c.carrier, collectorBool(ix.Carrier()))
		gauge(c.admissionOpen, collectorBool(ix.Admitting()))
		gauge(c.linkSpeedMbits, float64(ix.LinkSettings().SpeedMbps))
	}
}

func collectorBool(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
