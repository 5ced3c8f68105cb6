package protocol_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"quatstream/pkg/protocol"
)

func TestEncodeIdentity(t *testing.T) {
	p := protocol.Encode(protocol.Identity)

	require.Len(t, p, protocol.PacketSize)
	require.Equal(t, byte(0x3C), p[0])
	require.Equal(t, byte(0x44), p[1])
	require.Equal(t, byte(0x3E), p[35])
	require.Equal(t, uint64(0xBFF0000000000000), binary.BigEndian.Uint64(p[2:10]))
	for i := 10; i < 34; i++ {
		require.Zerof(t, p[i], "payload byte %d", i)
	}
	require.Equal(t, byte(0xAF), p[34])
}

func TestEncodeComponentOrder(t *testing.T) {
	in := protocol.OrientationSample{W: 0.5, X: -0.25, Y: 0.125, Z: 0.75}
	p := protocol.Encode(in)

	got := [4]float64{
		math.Float64frombits(binary.BigEndian.Uint64(p[2:10])),
		math.Float64frombits(binary.BigEndian.Uint64(p[10:18])),
		math.Float64frombits(binary.BigEndian.Uint64(p[18:26])),
		math.Float64frombits(binary.BigEndian.Uint64(p[26:34])),
	}
	require.Equal(t, [4]float64{-0.5, 0.125, 0.75, -0.25}, got)
}

func TestEncodeChecksumMatchesPayloadSum(t *testing.T) {
	samples := []protocol.OrientationSample{
		{W: 1},
		{W: 0.7071067811865476, Z: 0.7071067811865476},
		{W: 0.1, X: 0.2, Y: 0.3, Z: 0.927},
		{W: -1e-300, X: 1e300, Y: -0, Z: 3.5},
	}
	for _, s := range samples {
		p := protocol.Encode(s)
		var sum int
		for _, b := range p[2:34] {
			sum += int(b)
		}
		if byte(sum%256) != p[34] {
			t.Fatalf("checksum mismatch for %+v: got 0x%02x want 0x%02x", s, p[34], byte(sum%256))
		}
		if err := protocol.Validate(p[:]); err != nil {
			t.Fatalf("validate %+v: %v", s, err)
		}
	}
}

func TestDecodeRoundTripBitExact(t *testing.T) {
	negZero := math.Copysign(0, -1)
	samples := []protocol.OrientationSample{
		protocol.Identity,
		{W: 0.9238795325112867, X: 0.3826834323650898},
		{W: negZero, X: 1, Y: negZero, Z: 0},
		{W: math.Inf(1), X: math.Inf(-1), Y: math.SmallestNonzeroFloat64, Z: math.MaxFloat64},
	}
	for _, s := range samples {
		p := protocol.Encode(s)
		out, err := protocol.Decode(p[:])
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(s.W), math.Float64bits(out.W))
		require.Equal(t, math.Float64bits(s.X), math.Float64bits(out.X))
		require.Equal(t, math.Float64bits(s.Y), math.Float64bits(out.Y))
		require.Equal(t, math.Float64bits(s.Z), math.Float64bits(out.Z))
	}
}

func TestEncodeNaNPassesThrough(t *testing.T) {
	p := protocol.Encode(protocol.OrientationSample{W: math.NaN(), X: math.NaN()})
	out, err := protocol.Decode(p[:])
	require.NoError(t, err)
	require.True(t, math.IsNaN(out.W))
	require.True(t, math.IsNaN(out.X))
}

func TestChecksumTracksSingleByteMutation(t *testing.T) {
	p := protocol.Encode(protocol.OrientationSample{W: 0.6, X: 0.8})
	before := p[34]

	p[12] += 7
	if err := protocol.Validate(p[:]); !errors.Is(err, protocol.ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if got := protocol.Checksum(p.Payload()); got != before+7 {
		t.Fatalf("unexpected recomputed checksum: got 0x%02x want 0x%02x", got, before+7)
	}
}

func TestValidateRejectsMalformedFrames(t *testing.T) {
	good := protocol.Encode(protocol.Identity)

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:20] }, protocol.ErrShortPacket},
		{"header", func(b []byte) []byte { b[0] = 0x00; return b }, protocol.ErrBadHeader},
		{"type", func(b []byte) []byte { b[1] = 0x45; return b }, protocol.ErrBadType},
		{"trailer", func(b []byte) []byte { b[35] = 0x3F; return b }, protocol.ErrBadTrailer},
		{"checksum", func(b []byte) []byte { b[34]++; return b }, protocol.ErrChecksum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := append([]byte(nil), good[:]...)
			_, err := protocol.Decode(tc.mutate(frame))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
