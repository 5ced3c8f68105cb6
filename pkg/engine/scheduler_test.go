package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartTwiceRunsOneLoop(t *testing.T) {
	var inside, overlaps, updates atomic.Int32
	s := NewScheduler(func(FrameClock) {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
		updates.Add(1)
		time.Sleep(100 * time.Microsecond)
		inside.Add(-1)
	})

	s.Start()
	first := s.Done()
	s.Start()
	if s.Done() != first {
		t.Fatalf("second Start launched a new loop")
	}
	waitFor(t, func() bool { return updates.Load() > 50 })

	s.Stop()
	waitDone(t, first)
	if overlaps.Load() != 0 {
		t.Fatalf("observed %d overlapping updates", overlaps.Load())
	}
	if got := s.Phase(); got != Idle {
		t.Fatalf("unexpected phase after stop: %s", got)
	}
}

func TestStopReturnsWithoutWaiting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	s := NewScheduler(func(FrameClock) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	s.Start()
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked on the running iteration")
	}
	if got := s.Phase(); got != Cancelling {
		t.Fatalf("expected cancelling, got %s", got)
	}

	close(release)
	waitDone(t, s.Done())
	if got := s.Phase(); got != Idle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	s := NewScheduler(nil)
	s.Stop()
	if got := s.Phase(); got != Idle {
		t.Fatalf("unexpected phase: %s", got)
	}
	if s.Done() != nil {
		t.Fatalf("expected no loop before Start")
	}
}

func TestRenderGatedOnPriorUpdate(t *testing.T) {
	var updates atomic.Uint64
	var firstRender atomic.Uint64
	var renders atomic.Int32
	var orderViolation atomic.Bool

	s := NewScheduler(
		func(c FrameClock) {
			updates.Store(c.FrameCount)
		},
		WithRender(func(c FrameClock) bool {
			if updates.Load() != c.FrameCount {
				orderViolation.Store(true)
			}
			firstRender.CompareAndSwap(0, c.FrameCount)
			renders.Add(1)
			return true
		}),
	)
	s.Start()
	waitFor(t, func() bool { return renders.Load() > 10 })
	s.Stop()
	waitDone(t, s.Done())

	if got := firstRender.Load(); got < 2 {
		t.Fatalf("render ran on frame %d, before any prior update", got)
	}
	if orderViolation.Load() {
		t.Fatalf("render observed state from a different update")
	}
	c := s.Clock()
	if c.Rendered != c.FrameCount-1 {
		t.Fatalf("expected every frame but the first rendered: frames=%d rendered=%d", c.FrameCount, c.Rendered)
	}
}

func TestExclusiveNeverOverlapsFrame(t *testing.T) {
	var inside atomic.Int32
	var overlaps atomic.Int32
	enter := func() {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
	}
	leave := func() { inside.Add(-1) }

	s := NewScheduler(
		func(FrameClock) { enter(); leave() },
		WithRender(func(FrameClock) bool { enter(); leave(); return false }),
	)
	s.Start()
	for i := 0; i < 200; i++ {
		s.Exclusive(func(FrameClock) { enter(); leave() })
	}
	s.Stop()
	waitDone(t, s.Done())

	if overlaps.Load() != 0 {
		t.Fatalf("exclusive section overlapped %d times", overlaps.Load())
	}
}

func TestRestartWhileCancellingWaitsForPreviousLoop(t *testing.T) {
	var inside, overlaps atomic.Int32
	s := NewScheduler(func(FrameClock) {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(50 * time.Microsecond)
		inside.Add(-1)
	})

	for i := 0; i < 20; i++ {
		s.Start()
		s.Stop()
	}
	s.Start()
	last := s.Done()
	time.Sleep(10 * time.Millisecond)
	if got := s.Phase(); got != Running {
		t.Fatalf("expected running, got %s", got)
	}
	s.Stop()
	waitDone(t, last)
	if overlaps.Load() != 0 {
		t.Fatalf("loops overlapped %d times", overlaps.Load())
	}
}

func TestTickIntervalPacesLoop(t *testing.T) {
	var updates atomic.Int32
	s := NewScheduler(func(FrameClock) { updates.Add(1) }, WithTickInterval(20*time.Millisecond))
	s.Start()
	time.Sleep(110 * time.Millisecond)
	s.Stop()
	waitDone(t, s.Done())

	if got := updates.Load(); got < 2 || got > 10 {
		t.Fatalf("unexpected update count with 20ms pacing: %d", got)
	}
}

func TestFrameClockTick(t *testing.T) {
	var c FrameClock
	base := time.Unix(100, 0)
	for i := 0; i <= 60; i++ {
		c.tick(base.Add(time.Duration(i) * 20 * time.Millisecond))
	}
	if c.FrameCount != 61 {
		t.Fatalf("unexpected frame count: %d", c.FrameCount)
	}
	if c.Elapsed != 20*time.Millisecond {
		t.Fatalf("unexpected elapsed: %v", c.Elapsed)
	}
	if c.Total != 1200*time.Millisecond {
		t.Fatalf("unexpected total: %v", c.Total)
	}
	if c.FPS != 50 {
		t.Fatalf("unexpected fps: %d", c.FPS)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit")
	}
}
