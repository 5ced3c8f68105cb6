package source

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"quatstream/pkg/protocol"
)

// FromEuler builds a unit quaternion from ZYX intrinsic angles in radians
// (yaw, then pitch, then roll).
func FromEuler(roll, pitch, yaw float64) protocol.OrientationSample {
	qRoll := quat.Number{Real: math.Cos(roll * 0.5), Imag: math.Sin(roll * 0.5)}
	qPitch := quat.Number{Real: math.Cos(pitch * 0.5), Jmag: math.Sin(pitch * 0.5)}
	qYaw := quat.Number{Real: math.Cos(yaw * 0.5), Kmag: math.Sin(yaw * 0.5)}
	return fromNumber(normalize(quat.Mul(quat.Mul(qYaw, qPitch), qRoll)))
}

// Normalize scales s to unit length. A zero quaternion becomes the identity.
func Normalize(s protocol.OrientationSample) protocol.OrientationSample {
	return fromNumber(normalize(toNumber(s)))
}

func normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

func toNumber(s protocol.OrientationSample) quat.Number {
	return quat.Number{Real: s.W, Imag: s.X, Jmag: s.Y, Kmag: s.Z}
}

func fromNumber(q quat.Number) protocol.OrientationSample {
	return protocol.OrientationSample{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag}
}
