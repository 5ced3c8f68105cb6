// Package telemetry turns orientation samples produced by the frame loop into
// packets on the streaming connection.
package telemetry

import (
	"sync/atomic"

	"quatstream/pkg/engine"
	"quatstream/pkg/metrics"
	"quatstream/pkg/protocol"
	"quatstream/pkg/source"
	"quatstream/pkg/transport"
)

// Sender is the part of transport.Stream the pump needs.
type Sender interface {
	State() transport.State
	Send(b []byte)
}

// Pump encodes and hands off one packet per sample while the sender is
// connected. It never waits on the network.
type Pump struct {
	conn Sender

	sent    atomic.Uint64
	skipped atomic.Uint64

	// latest is only touched from the update step; read it through
	// Scheduler.Exclusive.
	latest protocol.OrientationSample
	have   bool
}

func NewPump(conn Sender) *Pump {
	return &Pump{conn: conn}
}

// Handle processes one freshly captured sample.
func (p *Pump) Handle(s protocol.OrientationSample) {
	p.latest = s
	p.have = true

	if p.conn.State() != transport.Connected {
		p.skipped.Add(1)
		metrics.RecordSample(false)
		return
	}
	pkt := protocol.Encode(s)
	p.conn.Send(pkt[:])
	p.sent.Add(1)
	metrics.RecordSample(true)
}

// Update returns a frame update step that pulls from src and pumps every new
// sample.
func (p *Pump) Update(src source.Source) engine.UpdateFunc {
	return func(engine.FrameClock) {
		if s, ok := src.Sample(); ok {
			p.Handle(s)
		}
	}
}

// Latest returns the most recent sample seen by Handle. Call it from inside
// the frame section.
func (p *Pump) Latest() (protocol.OrientationSample, bool) {
	return p.latest, p.have
}

// Counts reports packets handed to the sender and samples skipped while not
// connected.
func (p *Pump) Counts() (sent, skipped uint64) {
	return p.sent.Load(), p.skipped.Load()
}
