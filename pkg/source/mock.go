package source

import (
	"math"
	"time"

	"quatstream/pkg/protocol"
)

const (
	mockRollAmplitudeRad  = 35.0 * math.Pi / 180.0
	mockPitchAmplitudeRad = 25.0 * math.Pi / 180.0
	mockYawAmplitudeRad   = 40.0 * math.Pi / 180.0

	mockRollFreqHz  = 0.23
	mockPitchFreqHz = 0.31
	mockYawFreqHz   = 0.17

	mockRollPhaseRad  = 0.0
	mockPitchPhaseRad = math.Pi / 3.0
	mockYawPhaseRad   = 2.0 * math.Pi / 3.0
)

// Mock produces a smoothly oscillating attitude, one fresh sample per call.
type Mock struct {
	start time.Time
	now   func() time.Time
}

func NewMock() *Mock {
	return newMockAt(time.Now)
}

func newMockAt(now func() time.Time) *Mock {
	return &Mock{start: now(), now: now}
}

func (m *Mock) Sample() (protocol.OrientationSample, bool) {
	return MockAttitude(m.now().Sub(m.start).Seconds()), true
}

// MockAttitude is the synthetic attitude t seconds after start.
func MockAttitude(t float64) protocol.OrientationSample {
	roll := mockRollAmplitudeRad * math.Sin(2.0*math.Pi*mockRollFreqHz*t+mockRollPhaseRad)
	pitch := mockPitchAmplitudeRad * math.Sin(2.0*math.Pi*mockPitchFreqHz*t+mockPitchPhaseRad)
	yaw := mockYawAmplitudeRad * math.Sin(2.0*math.Pi*mockYawFreqHz*t+mockYawPhaseRad)
	return FromEuler(roll, pitch, yaw)
}
