// Command segment is the segment key-value server binary. It loads a
// directive-style configuration file, binds a TCP listener, and serves
// client connections until it receives SIGTERM or SIGINT.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/segmentdb/segment/internal/config"
	"github.com/segmentdb/segment/internal/memprobe"
	"github.com/segmentdb/segment/internal/server"
	"github.com/segmentdb/segment/internal/shutdown"
	"github.com/segmentdb/segment/internal/store"
)

const defaultConfigPath = "segment.conf"

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	configPath := defaultConfigPath
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	logger := newLogger(*debug)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("config_path", configPath),
		slog.String("bind", cfg.Bind),
		slog.Int("port", int(cfg.Port)),
		slog.String("max_memory", humanize.Bytes(cfg.MaxMemory)),
		slog.Int("connection_buffer_size", cfg.ConnectionBufferSize),
	)

	var probe memprobe.Probe
	if cfg.MaxMemory > 0 {
		probe, err = memprobe.NewGopsutilProbe()
		if err != nil {
			logger.Error("failed to create memory probe", slog.Any("error", err))
			os.Exit(1)
		}
	}

	notifier := shutdown.New()
	db := store.New(cfg.MaxMemory, probe, notifier, logger)

	addr := net.JoinHostPort(cfg.Bind, fmt.Sprintf("%d", cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listener", slog.String("addr", addr), slog.Any("error", err))
		os.Exit(1)
	}

	srv := server.New(ln, db, notifier, logger, cfg.ConnectionBufferSize)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("server error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down")
	srv.Shutdown()
	logger.Info("segment server exited cleanly")
}

// newLogger builds a structured logger, preferring human-readable text
// output when stderr is an interactive terminal and JSON otherwise.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
