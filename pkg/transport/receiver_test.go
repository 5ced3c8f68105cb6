package transport_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"quatstream/pkg/protocol"
	"quatstream/pkg/transport"
)

func TestReceiverDeframe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var invalid atomic.Int32
	out := make(chan protocol.Reading, 4)
	transport.StartReceiver(ctx, ln, out,
		transport.WithBufferSize(128),
		transport.WithReadTimeout(200*time.Millisecond),
		transport.WithFrameHandler(func(valid bool) {
			if !valid {
				invalid.Add(1)
			}
		}),
	)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	first := protocol.Encode(protocol.OrientationSample{W: 1})
	second := protocol.Encode(protocol.OrientationSample{W: 0.6, Z: 0.8})

	if _, err := conn.Write(first[:10]); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := conn.Write(first[10:]); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// Noise between frames is skipped up to the next header marker.
	if _, err := conn.Write([]byte{0x00, 0x11, 0x22}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := conn.Write(second[:]); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	a := readReading(t, out)
	b := readReading(t, out)

	if a.Sample != (protocol.OrientationSample{W: 1}) {
		t.Fatalf("unexpected first sample: %+v", a.Sample)
	}
	if b.Sample != (protocol.OrientationSample{W: 0.6, Z: 0.8}) {
		t.Fatalf("unexpected second sample: %+v", b.Sample)
	}
	if a.Raw != first {
		t.Fatalf("raw frame not preserved")
	}
	if a.Remote == "" {
		t.Fatalf("expected remote address")
	}
	if invalid.Load() == 0 {
		t.Fatalf("expected noise to be counted as invalid")
	}
}

func TestReceiverSkipsCorruptFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 8)
	out := make(chan protocol.Reading, 4)
	transport.StartReceiver(ctx, ln, out, transport.WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	bad := protocol.Encode(protocol.OrientationSample{W: 0.1})
	bad[34]++
	good := protocol.Encode(protocol.OrientationSample{W: 0.2})

	if _, err := conn.Write(append(bad[:], good[:]...)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := readReading(t, out)
	if r.Sample.W != 0.2 {
		t.Fatalf("expected good frame after corrupt one, got %+v", r.Sample)
	}
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatalf("expected checksum error to be reported")
	}
}

func TestReceiverStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := transport.StartReceiver(ctx, ln, make(chan protocol.Reading))
	cancel()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("receiver did not stop")
	}
}

func TestStreamToReceiver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan protocol.Reading, 8)
	r := transport.StartReceiver(ctx, ln, out)
	addr := r.Addr().(*net.TCPAddr)

	s := transport.NewStream(transport.WithOrderedWrites(8))
	defer s.Disconnect()
	if err := <-s.Connect(ctx, "127.0.0.1", addr.Port); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	want := protocol.OrientationSample{W: 0.7071067811865476, X: 0.7071067811865476}
	p := protocol.Encode(want)
	s.Send(p[:])

	got := readReading(t, out)
	if got.Sample != want {
		t.Fatalf("unexpected sample: got %+v want %+v", got.Sample, want)
	}
}

func readReading(t *testing.T, ch <-chan protocol.Reading) protocol.Reading {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for reading")
		return protocol.Reading{}
	}
}
