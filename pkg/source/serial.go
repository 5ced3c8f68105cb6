package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"quatstream/pkg/protocol"
)

var ErrBadLine = errors.New("source: malformed quaternion line")

// SerialOptions describes the IMU serial link.
type SerialOptions struct {
	Port     string
	BaudRate int
}

// Lines reads "w,x,y,z" text lines from a device and keeps the newest one.
type Lines struct {
	rc           io.ReadCloser
	errorHandler func(error)

	mu     sync.Mutex
	latest protocol.OrientationSample
	fresh  bool
	done   chan struct{}
}

type LinesOption func(*Lines)

func WithErrorHandler(fn func(error)) LinesOption {
	return func(l *Lines) {
		if fn != nil {
			l.errorHandler = fn
		}
	}
}

// OpenSerial opens an IMU serial port and starts reading from it.
func OpenSerial(ctx context.Context, opts SerialOptions, lineOpts ...LinesOption) (*Lines, error) {
	if opts.Port == "" {
		return nil, fmt.Errorf("open serial: empty port name")
	}
	baud := opts.BaudRate
	if baud <= 0 {
		baud = 115200
	}
	port, err := serial.Open(opts.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", opts.Port, err)
	}
	return NewLines(ctx, port, lineOpts...), nil
}

// NewLines starts a reader goroutine over rc. It stops at EOF, on a read
// error, or when ctx is done.
func NewLines(ctx context.Context, rc io.ReadCloser, opts ...LinesOption) *Lines {
	l := &Lines{rc: rc, done: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = rc.Close()
	})
	go func() {
		defer stop()
		l.read()
	}()
	return l
}

func (l *Lines) Sample() (protocol.OrientationSample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.fresh {
		return l.latest, false
	}
	l.fresh = false
	return l.latest, true
}

// Done is closed when the reader goroutine exits.
func (l *Lines) Done() <-chan struct{} {
	return l.done
}

func (l *Lines) Close() error {
	return l.rc.Close()
}

func (l *Lines) read() {
	defer close(l.done)
	scanner := bufio.NewScanner(l.rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := ParseLine(line)
		if err != nil {
			l.handleError(err)
			continue
		}
		l.mu.Lock()
		l.latest = s
		l.fresh = true
		l.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		l.handleError(fmt.Errorf("read quaternion lines: %w", err))
	}
}

func (l *Lines) handleError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}

// ParseLine parses four comma or whitespace separated components in w, x, y, z
// order.
func ParseLine(line string) (protocol.OrientationSample, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) != 4 {
		return protocol.OrientationSample{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return protocol.OrientationSample{}, fmt.Errorf("%w: %q: %v", ErrBadLine, line, err)
		}
		v[i] = n
	}
	return protocol.OrientationSample{W: v[0], X: v[1], Y: v[2], Z: v[3]}, nil
}
