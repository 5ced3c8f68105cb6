package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"quatstream/pkg/config"
	"quatstream/pkg/logging"
	"quatstream/pkg/metrics"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	logging.Configure(logging.ProfileRuntime, os.Stderr)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "stream":
		return runStream(args[1:], stdout, stderr)
	case "listen":
		return runListen(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

// loadConfig reads path and applies the flags the user actually set.
func loadConfig(fs *flag.FlagSet, path string, override func(cfg *config.Config, name string)) (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		override(&cfg, f.Name)
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables it.
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  quatstream stream [--config quatstream.toml] [--host h] [--port 3002] [--source mock|serial|static] [--tick 16ms] [--tui]")
	fmt.Fprintln(w, "  quatstream listen [--config quatstream.toml] [--addr 0.0.0.0:3002] [--log file.jsonl] [--foxglove]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  stream   capture orientation every frame and stream it to a receiver")
	fmt.Fprintln(w, "  listen   accept orientation streams and log or bridge them")
}
