package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	ByteHeader     byte = 0x3C
	ByteDataPacket byte = 0x44
	ByteTrailer    byte = 0x3E

	PacketSize  = 36
	PayloadSize = 32

	payloadOffset  = 2
	checksumOffset = payloadOffset + PayloadSize
	trailerOffset  = checksumOffset + 1
)

var (
	ErrShortPacket = errors.New("protocol: short packet")
	ErrBadHeader   = errors.New("protocol: bad header marker")
	ErrBadType     = errors.New("protocol: unsupported packet type")
	ErrBadTrailer  = errors.New("protocol: bad trailer marker")
	ErrChecksum    = errors.New("protocol: checksum mismatch")
)

// Packet is the fixed-size wire frame carrying one orientation sample.
type Packet [PacketSize]byte

// Payload returns the 32 data bytes between the type marker and the checksum.
func (p *Packet) Payload() []byte {
	return p[payloadOffset:checksumOffset]
}

// Checksum returns the stored checksum byte.
func (p *Packet) Checksum() byte {
	return p[checksumOffset]
}

// Encode serializes a sample. The receiver expects the components as -w, y, z, x.
func Encode(s OrientationSample) Packet {
	var p Packet
	p[0] = ByteHeader
	p[1] = ByteDataPacket

	values := [4]float64{-s.W, s.Y, s.Z, s.X}
	for i, v := range values {
		off := payloadOffset + i*8
		binary.BigEndian.PutUint64(p[off:off+8], math.Float64bits(v))
	}

	p[checksumOffset] = Checksum(p.Payload())
	p[trailerOffset] = ByteTrailer
	return p
}

// Checksum is the wrap-around byte sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Validate checks markers and checksum of a raw frame.
func Validate(b []byte) error {
	if len(b) < PacketSize {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if b[0] != ByteHeader {
		return fmt.Errorf("%w: 0x%02x", ErrBadHeader, b[0])
	}
	if b[1] != ByteDataPacket {
		return fmt.Errorf("%w: 0x%02x", ErrBadType, b[1])
	}
	if b[trailerOffset] != ByteTrailer {
		return fmt.Errorf("%w: 0x%02x", ErrBadTrailer, b[trailerOffset])
	}
	if got, want := b[checksumOffset], Checksum(b[payloadOffset:checksumOffset]); got != want {
		return fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrChecksum, got, want)
	}
	return nil
}

// Decode validates a frame and recovers the sample, undoing the component remap.
func Decode(b []byte) (OrientationSample, error) {
	if err := Validate(b); err != nil {
		return OrientationSample{}, err
	}
	var d [4]float64
	for i := range d {
		off := payloadOffset + i*8
		d[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	}
	return OrientationSample{W: -d[0], Y: d[1], Z: d[2], X: d[3]}, nil
}
