package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quatstream/pkg/config"
	"quatstream/pkg/engine"
	"quatstream/pkg/logging"
	"quatstream/pkg/metrics"
	"quatstream/pkg/protocol"
	"quatstream/pkg/source"
	"quatstream/pkg/telemetry"
	"quatstream/pkg/transport"
)

const (
	reconnectInterval = time.Second
	orderedQueueSize  = 256
	shutdownTimeout   = 2 * time.Second
)

func runStream(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", config.DefaultConfigPath, "TOML config path")
	host := fs.String("host", "", "receiver host")
	port := fs.Int("port", 0, "receiver port")
	kind := fs.String("source", "", "orientation source: mock, serial or static")
	tick := fs.Duration("tick", 0, "frame interval, 0 runs at maximum rate")
	useTUI := fs.Bool("tui", false, "interactive terminal UI")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "unexpected arguments:", fs.Args())
		return exitUsage
	}

	cfg, err := loadConfig(fs, *cfgPath, func(cfg *config.Config, name string) {
		switch name {
		case "host":
			cfg.Stream.Host = *host
		case "port":
			cfg.Stream.Port = *port
		case "source":
			cfg.Source.Kind = *kind
		case "tick":
			cfg.Scheduler.TickInterval = tick.String()
		}
	})
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		if errors.Is(err, config.ErrInvalid) {
			return exitUsage
		}
		return exitError
	}

	logger := logging.FromEnv(logging.ProfileRuntime, stderr)
	if *useTUI {
		// The TUI owns the terminal.
		logger = zerolog.Nop()
	}

	ctx, stop := signalContext()
	defer stop()
	serveMetrics(ctx, cfg.Metrics.Addr, logger)

	app, err := newStreamApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("stream setup failed")
		fmt.Fprintln(stderr, "stream:", err)
		return exitError
	}
	defer app.close()

	if *useTUI {
		if err := runTUI(ctx, app, stdout); err != nil {
			fmt.Fprintln(stderr, "tui:", err)
			return exitError
		}
		return exitOK
	}
	app.runHeadless(ctx)
	return exitOK
}

type streamApp struct {
	cfg     config.Config
	logger  zerolog.Logger
	stream  *transport.Stream
	pump    *telemetry.Pump
	sched   *engine.Scheduler
	closeFn func() error

	drops chan struct{}

	mu      sync.Mutex
	lastErr error
}

func newStreamApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*streamApp, error) {
	a := &streamApp{
		cfg:    cfg,
		logger: logger.With().Str("session", uuid.NewString()).Logger(),
		drops:  make(chan struct{}, 1),
	}

	src, closeFn, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	a.closeFn = closeFn

	opts := []transport.StreamOption{
		transport.WithStreamDialTimeout(cfg.Stream.DialTimeoutDuration()),
		transport.WithWriteTimeout(cfg.Stream.WriteTimeoutDuration()),
		transport.WithDisconnectOnWriteError(cfg.Stream.DropOnWriteError()),
		transport.WithStreamErrorHandler(a.onError),
		transport.WithWriteObserver(metrics.RecordWrite),
		transport.WithStateHandler(a.onState),
	}
	if cfg.Stream.Ordered {
		opts = append(opts, transport.WithOrderedWrites(orderedQueueSize))
	}
	a.stream = transport.NewStream(opts...)
	a.pump = telemetry.NewPump(a.stream)
	a.sched = engine.NewScheduler(a.pump.Update(src),
		engine.WithTickInterval(cfg.Scheduler.Interval()),
	)
	return a, nil
}

func (a *streamApp) openSource(ctx context.Context) (source.Source, func() error, error) {
	noop := func() error { return nil }
	switch a.cfg.Source.Kind {
	case config.SourceSerial:
		lines, err := source.OpenSerial(ctx, source.SerialOptions{
			Port:     a.cfg.Source.SerialPort,
			BaudRate: a.cfg.Source.BaudRate,
		}, source.WithErrorHandler(func(err error) {
			a.logger.Warn().Err(err).Msg("serial source")
		}))
		if err != nil {
			return nil, nil, err
		}
		return lines, lines.Close, nil
	case config.SourceStatic:
		return source.Limit(source.NewStatic(protocol.Identity), a.cfg.Source.RateHz), noop, nil
	default:
		return source.Limit(source.NewMock(), a.cfg.Source.RateHz), noop, nil
	}
}

func (a *streamApp) onState(state transport.State) {
	metrics.SetConnectionState(int(state))
	a.logger.Info().Stringer("state", state).Msg("connection state")
	if state == transport.Disconnected {
		select {
		case a.drops <- struct{}{}:
		default:
		}
	}
}

func (a *streamApp) onError(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	a.logger.Debug().Err(err).Msg("stream write failed")
}

func (a *streamApp) lastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *streamApp) connect(ctx context.Context) <-chan error {
	return a.stream.Connect(ctx, a.cfg.Stream.Host, a.cfg.Stream.Port)
}

// runHeadless streams until ctx is done, reconnecting whenever the connection
// drops or cannot be established.
func (a *streamApp) runHeadless(ctx context.Context) {
	a.logger.Info().
		Str("host", a.cfg.Stream.Host).
		Int("port", a.cfg.Stream.Port).
		Str("source", a.cfg.Source.Kind).
		Dur("tick", a.cfg.Scheduler.Interval()).
		Msg("streaming orientation")

	a.sched.Start()
	defer a.shutdown()

	for {
		err := <-a.connect(ctx)
		switch {
		case err == nil:
			a.logger.Info().Str("remote", a.stream.RemoteAddr()).Msg("connected")
			a.awaitDrop(ctx)
		case ctx.Err() != nil:
			return
		default:
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			a.logger.Warn().Err(err).Msg("connect failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
		}
	}
}

func (a *streamApp) awaitDrop(ctx context.Context) {
	for a.stream.State() == transport.Connected {
		select {
		case <-ctx.Done():
			return
		case <-a.drops:
		}
	}
}

// shutdown stops the frame loop, then the connection, and waits briefly for
// both to settle.
func (a *streamApp) shutdown() {
	a.sched.Stop()
	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	if done := a.sched.Done(); done != nil {
		select {
		case <-done:
		case <-timer.C:
			a.logger.Warn().Msg("frame loop did not stop in time")
		}
	}

	a.stream.Disconnect()
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.stream.Wait(waitCtx); err != nil {
		a.logger.Warn().Err(err).Msg("writes still in flight")
	}

	clock := a.sched.Clock()
	sent, skipped := a.pump.Counts()
	a.logger.Info().
		Uint64("frames", clock.FrameCount).
		Uint64("sent", sent).
		Uint64("skipped", skipped).
		Msg("stream stopped")
}

func (a *streamApp) close() {
	if a.closeFn != nil {
		_ = a.closeFn()
	}
}
