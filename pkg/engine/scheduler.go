package engine

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Phase is the scheduler lifecycle.
type Phase int32

const (
	Idle Phase = iota
	Running
	Cancelling
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// UpdateFunc advances application state for one tick.
type UpdateFunc func(clock FrameClock)

// RenderFunc draws the state produced by the preceding update and reports
// whether a frame was presented.
type RenderFunc func(clock FrameClock) bool

// Scheduler runs update then render on a dedicated goroutine until stopped.
// Both steps run inside one exclusive section shared with Exclusive callers.
type Scheduler struct {
	update   UpdateFunc
	render   RenderFunc
	interval time.Duration
	now      func() time.Time

	frameMu sync.Mutex
	clock   FrameClock

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerOption func(*Scheduler)

func WithRender(fn RenderFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.render = fn
	}
}

// WithTickInterval paces the loop to one iteration per d. Zero runs as fast as
// the host allows.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(update UpdateFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		update: update,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop. It is a no-op while already running. A loop that
// is still cancelling is waited for before the new one iterates.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := s.done
	done := make(chan struct{})
	s.phase = Running
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, prev, done)
}

// Stop asks the loop to exit after its current iteration and returns without
// waiting for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Running {
		return
	}
	s.phase = Cancelling
	s.cancel()
}

func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed when the most recently started loop has exited. It is nil
// before the first Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Exclusive runs fn inside the frame section, so it never overlaps an update
// or render.
func (s *Scheduler) Exclusive(fn func(clock FrameClock)) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	fn(s.clock)
}

// Clock returns a snapshot of the frame clock.
func (s *Scheduler) Clock() FrameClock {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	return s.clock
}

func (s *Scheduler) loop(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.phase = Idle
			s.cancel = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	var timer *time.Timer
	if s.interval > 0 {
		timer = time.NewTimer(s.interval)
		defer timer.Stop()
	}

	for ctx.Err() == nil {
		s.frameMu.Lock()
		s.step()
		s.frameMu.Unlock()

		if timer == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(s.interval)
		}
	}
}

// step must be called with frameMu held.
func (s *Scheduler) step() {
	updatedBefore := s.clock.FrameCount > 0

	s.clock.tick(s.now())
	if s.update != nil {
		s.update(s.clock)
	}

	// Nothing is drawn until a previous iteration has produced state.
	if !updatedBefore || s.render == nil {
		return
	}
	if s.render(s.clock) {
		s.clock.Rendered++
	}
}
