package protocol

import "time"

// OrientationSample is one attitude reading: a unit quaternion (w, x, y, z).
type OrientationSample struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the zero rotation.
var Identity = OrientationSample{W: 1}

// Reading is a decoded packet as seen by a receiver.
type Reading struct {
	Timestamp time.Time
	Remote    string
	Sample    OrientationSample
	Raw       Packet
}
