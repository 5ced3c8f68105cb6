package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"quatstream/pkg/protocol"
)

// Receiver accepts streaming connections and deframes orientation packets.
type Receiver struct {
	ln           net.Listener
	out          chan<- protocol.Reading
	bufSize      int
	readTimeout  time.Duration
	errorHandler func(error)
	connHandler  func(remote string, open bool)
	frameHandler func(valid bool)
	done         chan struct{}
}

type Option func(*Receiver)

func WithBufferSize(n int) Option {
	return func(r *Receiver) {
		if n >= protocol.PacketSize {
			r.bufSize = n
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(r *Receiver) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(r *Receiver) {
		if fn != nil {
			r.errorHandler = fn
		}
	}
}

// WithConnectionHandler is called when a peer connects (open=true) and when
// its connection ends.
func WithConnectionHandler(fn func(remote string, open bool)) Option {
	return func(r *Receiver) {
		if fn != nil {
			r.connHandler = fn
		}
	}
}

// WithFrameHandler is called once per accepted or rejected frame.
func WithFrameHandler(fn func(valid bool)) Option {
	return func(r *Receiver) {
		if fn != nil {
			r.frameHandler = fn
		}
	}
}

// StartReceiver serves ln until ctx is done. Decoded readings are delivered to
// out; delivery blocks the connection's reader, not other connections.
func StartReceiver(ctx context.Context, ln net.Listener, out chan<- protocol.Reading, opts ...Option) *Receiver {
	r := &Receiver{
		ln:      ln,
		out:     out,
		bufSize: 64 * 1024,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run(ctx)
	return r
}

// Addr returns the listening address.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Done is closed once the accept loop has exited.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)
	stop := context.AfterFunc(ctx, func() {
		_ = r.ln.Close()
	})
	defer stop()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			r.handleError(fmt.Errorf("accept: %w", err))
			return
		}
		go r.serve(ctx, conn)
	}
}

func (r *Receiver) serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	r.handleConn(remote, true)
	err := r.readFrames(ctx, conn, remote)
	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		r.handleError(fmt.Errorf("read %s: %w", remote, err))
	}
	r.handleConn(remote, false)
}

func (r *Receiver) readFrames(ctx context.Context, conn net.Conn, remote string) error {
	reader := bufio.NewReaderSize(conn, r.bufSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}
		frame, err := reader.Peek(protocol.PacketSize)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return err
		}

		if frame[0] != protocol.ByteHeader {
			skip := len(frame)
			if idx := bytes.IndexByte(frame[1:], protocol.ByteHeader); idx >= 0 {
				skip = idx + 1
			}
			_, _ = reader.Discard(skip)
			r.handleFrame(false)
			continue
		}

		sample, err := protocol.Decode(frame)
		if err != nil {
			_, _ = reader.Discard(1)
			r.handleFrame(false)
			r.handleError(fmt.Errorf("frame from %s: %w", remote, err))
			continue
		}

		reading := protocol.Reading{
			Timestamp: time.Now(),
			Remote:    remote,
			Sample:    sample,
		}
		copy(reading.Raw[:], frame)
		_, _ = reader.Discard(protocol.PacketSize)
		r.handleFrame(true)

		select {
		case r.out <- reading:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Receiver) handleError(err error) {
	if r.errorHandler != nil {
		r.errorHandler(err)
	}
}

func (r *Receiver) handleConn(remote string, open bool) {
	if r.connHandler != nil {
		r.connHandler(remote, open)
	}
}

func (r *Receiver) handleFrame(valid bool) {
	if r.frameHandler != nil {
		r.frameHandler(valid)
	}
}
