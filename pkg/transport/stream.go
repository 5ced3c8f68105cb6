package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// State is the lifecycle state of a Stream.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	ErrAlreadyConnected = errors.New("transport: connect while connecting or connected")
	ErrDisconnected     = errors.New("transport: disconnected")
	ErrInvalidAddress   = errors.New("transport: invalid address")
	ErrQueueFull        = errors.New("transport: write queue full")
)

// DialFunc opens the underlying stream connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Stream owns one outbound stream connection. Send never blocks on the network:
// each write is issued from its own goroutine (or from a single writer goroutine
// when ordered writes are enabled) and its completion is only observed through
// the error handler and write observer.
type Stream struct {
	dialTimeout       time.Duration
	writeTimeout      time.Duration
	dropOnWriteError  bool
	orderedBuf        int
	dial              DialFunc
	errorHandler      func(error)
	observer          func(n int, err error)
	transitionHandler func(State)

	mu       sync.Mutex
	state    State
	conn     net.Conn
	gen      uint64
	cancel   context.CancelFunc
	queue    chan []byte
	inflight int
	idle     chan struct{}
}

type StreamOption func(*Stream)

func WithStreamDialTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d >= 0 {
			s.writeTimeout = d
		}
	}
}

// WithDisconnectOnWriteError controls whether a failed write on the current
// connection tears it down.
func WithDisconnectOnWriteError(enabled bool) StreamOption {
	return func(s *Stream) {
		s.dropOnWriteError = enabled
	}
}

// WithOrderedWrites routes every Send through one writer goroutine with a
// queue of n packets, preserving emission order. Sends that find the queue
// full are dropped.
func WithOrderedWrites(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.orderedBuf = n
		}
	}
}

func WithDialContext(fn DialFunc) StreamOption {
	return func(s *Stream) {
		if fn != nil {
			s.dial = fn
		}
	}
}

func WithStreamErrorHandler(fn func(error)) StreamOption {
	return func(s *Stream) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

// WithWriteObserver is called after every completed or dropped write.
func WithWriteObserver(fn func(n int, err error)) StreamOption {
	return func(s *Stream) {
		if fn != nil {
			s.observer = fn
		}
	}
}

// WithStateHandler is called after every state transition, outside the lock.
func WithStateHandler(fn func(State)) StreamOption {
	return func(s *Stream) {
		if fn != nil {
			s.transitionHandler = fn
		}
	}
}

func NewStream(opts ...StreamOption) *Stream {
	s := &Stream{
		dialTimeout:      5 * time.Second,
		writeTimeout:     2 * time.Second,
		dropOnWriteError: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		d := &net.Dialer{Timeout: s.dialTimeout}
		s.dial = d.DialContext
	}
	return s
}

// State reports the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the peer address while connected.
func (s *Stream) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Connect starts an asynchronous connection attempt and returns a channel that
// receives exactly one result. Connecting while already Connecting or Connected
// resolves immediately with ErrAlreadyConnected.
func (s *Stream) Connect(ctx context.Context, host string, port int) <-chan error {
	result := make(chan error, 1)
	if host == "" || port <= 0 || port > 65535 {
		result <- fmt.Errorf("%w: %q port %d", ErrInvalidAddress, host, port)
		return result
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		result <- ErrAlreadyConnected
		return result
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.state = Connecting
	s.cancel = cancel
	s.mu.Unlock()
	s.notify(Connecting)

	go func() {
		defer cancel()
		conn, err := s.dial(dialCtx, "tcp", addr)
		result <- s.finishConnect(gen, addr, conn, err)
	}()
	return result
}

func (s *Stream) finishConnect(gen uint64, addr string, conn net.Conn, err error) error {
	s.mu.Lock()
	if s.gen != gen || s.state != Connecting {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("%w: connect to %s aborted", ErrDisconnected, addr)
	}
	if err != nil {
		s.state = Disconnected
		s.cancel = nil
		s.mu.Unlock()
		s.notify(Disconnected)
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	s.conn = conn
	s.state = Connected
	s.cancel = nil
	if s.orderedBuf > 0 {
		queue := make(chan []byte, s.orderedBuf)
		s.queue = queue
		go s.drain(conn, gen, queue)
	}
	s.mu.Unlock()
	s.notify(Connected)
	return nil
}

// Send hands b to the connection without waiting for the write. It is a no-op
// unless the stream is Connected. b must not be modified after the call.
func (s *Stream) Send(b []byte) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	conn, gen := s.conn, s.gen
	if s.queue != nil {
		select {
		case s.queue <- b:
			s.inflight++
			s.mu.Unlock()
		default:
			s.mu.Unlock()
			s.observe(0, ErrQueueFull)
		}
		return
	}
	s.inflight++
	s.mu.Unlock()

	go func() {
		defer s.done()
		s.write(conn, gen, b)
	}()
}

// Disconnect releases the connection or aborts a pending connect. It is a no-op
// when already Disconnected. Writes still in flight are not waited for.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()
	s.notify(Disconnected)
}

// Wait blocks until no writes are in flight or ctx is done.
func (s *Stream) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inflight == 0 {
			s.mu.Unlock()
			return nil
		}
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.queue != nil {
		close(s.queue)
		s.queue = nil
	}
	s.state = Disconnected
	s.gen++
}

func (s *Stream) drain(conn net.Conn, gen uint64, queue <-chan []byte) {
	for b := range queue {
		s.write(conn, gen, b)
		s.done()
	}
}

func (s *Stream) write(conn net.Conn, gen uint64, b []byte) {
	if s.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := conn.Write(b)
	s.observe(n, err)
	if err != nil {
		s.writeFailed(gen, err)
	}
}

func (s *Stream) writeFailed(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		// Connection was already replaced or torn down.
		s.mu.Unlock()
		return
	}
	dropped := false
	if s.dropOnWriteError && s.state == Connected {
		s.teardownLocked()
		dropped = true
	}
	s.mu.Unlock()

	s.handleError(fmt.Errorf("write: %w", err))
	if dropped {
		s.notify(Disconnected)
	}
}

func (s *Stream) done() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
}

func (s *Stream) observe(n int, err error) {
	if s.observer != nil {
		s.observer(n, err)
	}
}

func (s *Stream) notify(state State) {
	if s.transitionHandler != nil {
		s.transitionHandler(state)
	}
}

func (s *Stream) handleError(err error) {
	if s.errorHandler != nil {
		s.errorHandler(err)
	}
}
