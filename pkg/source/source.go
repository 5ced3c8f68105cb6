// Package source provides orientation samples to the frame update step.
package source

import (
	"time"

	"quatstream/pkg/protocol"
)

// Source yields the latest orientation without blocking. ok is false when
// nothing new arrived since the previous call.
type Source interface {
	Sample() (s protocol.OrientationSample, ok bool)
}

// Static always returns the same sample.
type Static struct {
	sample protocol.OrientationSample
}

func NewStatic(s protocol.OrientationSample) *Static {
	return &Static{sample: s}
}

func (st *Static) Sample() (protocol.OrientationSample, bool) {
	return st.sample, true
}

// Limited passes through at most one sample per interval from its inner
// source.
type Limited struct {
	inner    Source
	interval time.Duration
	now      func() time.Time
	next     time.Time
}

// Limit caps src at hz samples per second. hz <= 0 returns src unchanged.
func Limit(src Source, hz float64) Source {
	if hz <= 0 {
		return src
	}
	return &Limited{
		inner:    src,
		interval: time.Duration(float64(time.Second) / hz),
		now:      time.Now,
	}
}

func (l *Limited) Sample() (protocol.OrientationSample, bool) {
	now := l.now()
	if now.Before(l.next) {
		return protocol.OrientationSample{}, false
	}
	s, ok := l.inner.Sample()
	if !ok {
		return s, false
	}
	l.next = now.Add(l.interval)
	return s, true
}
