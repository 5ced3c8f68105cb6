// Package metrics holds the prometheus collectors for both ends of the stream.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	samples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quatstream",
			Subsystem: "stream",
			Name:      "samples_total",
			Help:      "Orientation samples seen by the pump, by outcome.",
		},
		[]string{"outcome"},
	)
	writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quatstream",
			Subsystem: "stream",
			Name:      "writes_total",
			Help:      "Completed packet writes, by result.",
		},
		[]string{"result"},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quatstream",
			Subsystem: "stream",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the streaming connection.",
		},
	)
	connState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quatstream",
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quatstream",
			Subsystem: "receiver",
			Name:      "frames_total",
			Help:      "Frames read by the receiver, by validity.",
		},
		[]string{"valid"},
	)
	peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quatstream",
			Subsystem: "receiver",
			Name:      "peers",
			Help:      "Currently connected streaming peers.",
		},
	)
	hubDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quatstream",
			Subsystem: "receiver",
			Name:      "subscriber_drops_total",
			Help:      "Readings missed by slow subscribers.",
		},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(samples, writes, bytesSent, connState, frames, peers, hubDrops)
	})
}

func RecordSample(sent bool) {
	Register()
	if sent {
		samples.WithLabelValues("sent").Inc()
		return
	}
	samples.WithLabelValues("skipped").Inc()
}

func RecordWrite(n int, err error) {
	Register()
	if err != nil {
		writes.WithLabelValues("error").Inc()
		return
	}
	writes.WithLabelValues("ok").Inc()
	bytesSent.Add(float64(n))
}

func SetConnectionState(state int) {
	Register()
	connState.Set(float64(state))
}

func RecordFrame(valid bool) {
	Register()
	if valid {
		frames.WithLabelValues("true").Inc()
		return
	}
	frames.WithLabelValues("false").Inc()
}

func PeerConnected(open bool) {
	Register()
	if open {
		peers.Inc()
		return
	}
	peers.Dec()
}

func RecordSubscriberDrop() {
	Register()
	hubDrops.Inc()
}
