package vfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deviceOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusenetmd",
		Subsystem: "device",
		Name:      "ops_total",
		Help:      "device operations issued by the transfer coordinator.",
	}, []string{"op"})

	transferBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusenetmd",
		Subsystem: "device",
		Name:      "transfer_bytes_total",
		Help:      "payload bytes moved to and from the deck.",
	}, []string{"dir"})

	openHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fusenetmd",
		Subsystem: "vfs",
		Name:      "open_handles",
		Help:      "currently allocated file handle slots.",
	})
)

func init() {
	prometheus.MustRegister(deviceOps, transferBytes, openHandles)
}
