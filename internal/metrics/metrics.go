// Package metrics exposes Prometheus instrumentation for the go-shine server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the standard process and Go
// collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the server's own instruments.
type AppMetrics struct {
	ConnectionsAccepted prometheus.Counter
	BytesReceived       prometheus.Counter
	FramesDecoded       *prometheus.CounterVec // labels: result=ok|framing_error
	CRCMismatches       prometheus.Counter
	RepliesSent         *prometheus.CounterVec // labels: kind
	ReadingsPublished   prometheus.Counter
	DevicesOnline       prometheus.Gauge
	IdleResets          prometheus.Counter
}

// NewAppMetrics registers and returns the application metrics.
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shine_tcp_accept_total",
			Help: "Total accepted dongle TCP connections.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shine_tcp_bytes_received_total",
			Help: "Total bytes received from dongles.",
		}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shine_frames_decoded_total",
			Help: "Frame decode attempts by result.",
		}, []string{"result"}),
		CRCMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shine_crc_mismatch_total",
			Help: "Frames whose CRC trailer did not verify.",
		}),
		RepliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shine_replies_sent_total",
			Help: "Replies written to dongles by message kind.",
		}, []string{"kind"}),
		ReadingsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shine_readings_published_total",
			Help: "Data readings forwarded to the sink.",
		}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shine_devices_online",
			Help: "Devices currently tracked as live.",
		}),
		IdleResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shine_device_idle_resets_total",
			Help: "Zero-reset emissions for idle devices.",
		}),
	}
	reg.MustRegister(
		m.ConnectionsAccepted,
		m.BytesReceived,
		m.FramesDecoded,
		m.CRCMismatches,
		m.RepliesSent,
		m.ReadingsPublished,
		m.DevicesOnline,
		m.IdleResets,
	)
	return m
}
