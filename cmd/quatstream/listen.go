package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"

	"quatstream/pkg/bridge/foxglove"
	"quatstream/pkg/config"
	"quatstream/pkg/engine"
	jsonl "quatstream/pkg/logger"
	"quatstream/pkg/logging"
	"quatstream/pkg/metrics"
	"quatstream/pkg/protocol"
	"quatstream/pkg/transport"
)

func runListen(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", config.DefaultConfigPath, "TOML config path")
	addr := fs.String("addr", "", "TCP listen address")
	logPath := fs.String("log", "", "JSONL output path (default: stdout)")
	fox := fs.Bool("foxglove", false, "serve readings to Foxglove Studio")

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
		case "addr":
			cfg.Listen.Addr = *addr
		case "log":
			cfg.Listen.Log = *logPath
		case "foxglove":
			cfg.Foxglove.Enabled = *fox
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
	ctx, stop := signalContext()
	defer stop()
	serveMetrics(ctx, cfg.Metrics.Addr, logger)

	app, err := startListen(ctx, cfg, stdout, logger)
	if err != nil {
		logger.Error().Err(err).Msg("listen failed")
		return exitError
	}
	app.wait()
	return exitOK
}

type listenApp struct {
	addr   net.Addr
	recv   *transport.Receiver
	done   chan struct{}
	logged chan struct{}
	closer io.Closer
}

// startListen wires receiver, hub, JSONL log and the optional Foxglove bridge.
// Everything stops when ctx is done.
func startListen(ctx context.Context, cfg config.Config, stdout io.Writer, logger zerolog.Logger) (*listenApp, error) {
	a := &listenApp{
		done:   make(chan struct{}),
		logged: make(chan struct{}),
	}

	var out io.Writer = stdout
	if cfg.Listen.Log != "" {
		file, err := os.Create(cfg.Listen.Log)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		a.closer = file
	}

	ln, err := net.Listen("tcp", cfg.Listen.Addr)
	if err != nil {
		if a.closer != nil {
			_ = a.closer.Close()
		}
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen.Addr, err)
	}
	a.addr = ln.Addr()
	logger.Info().Str("addr", a.addr.String()).Msg("receiver listening")

	hub := engine.NewHub(engine.WithDropHandler(metrics.RecordSubscriberDrop))
	go hub.Run(ctx)

	readings := make(chan protocol.Reading, cfg.Listen.Buf)
	a.recv = transport.StartReceiver(ctx, ln, readings,
		transport.WithReadTimeout(cfg.Listen.ReadTimeoutDuration()),
		transport.WithErrorHandler(func(err error) {
			logger.Debug().Err(err).Msg("receiver")
		}),
		transport.WithConnectionHandler(func(remote string, open bool) {
			metrics.PeerConnected(open)
			logger.Info().Str("remote", remote).Bool("open", open).Msg("peer")
		}),
		transport.WithFrameHandler(metrics.RecordFrame),
	)

	writer := jsonl.NewJSONLWriter(out, jsonl.WithErrorHandler(func(err error) {
		logger.Warn().Err(err).Msg("jsonl")
	}))
	sub := hub.Subscribe()
	go func() {
		defer close(a.logged)
		writer.Consume(ctx, sub)
	}()

	if cfg.Foxglove.Enabled {
		srv := foxglove.NewServer(foxglove.Config{
			WSAddr:        cfg.Foxglove.WSAddr,
			Topic:         cfg.Foxglove.Topic,
			ParentFrameID: cfg.Foxglove.ParentFrame,
			FrameID:       cfg.Foxglove.FrameID,
		}, hub, foxglove.WithErrorHandler(func(err error) {
			logger.Debug().Err(err).Msg("foxglove")
		}))
		go func() {
			logger.Info().Str("addr", cfg.Foxglove.WSAddr).Msg("foxglove bridge listening")
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("foxglove bridge stopped")
			}
		}()
	}

	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case reading := <-readings:
				hub.Publish(ctx, reading)
			}
		}
	}()
	return a, nil
}

func (a *listenApp) wait() {
	<-a.done
	<-a.recv.Done()
	<-a.logged
	if a.closer != nil {
		_ = a.closer.Close()
	}
}
