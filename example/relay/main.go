package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/gobwas/wsrelay/server"
)

var (
	defaults = server.DefaultConfig()

	addr             = flag.String("listen", defaults.Addr, "addr to listen")
	reusePort        = flag.Bool("reuseport", false, "set SO_REUSEPORT on the listening socket")
	handshakeTimeout = flag.Duration("handshake-timeout", defaults.HandshakeTimeout, "handshake read timeout")
	idleTimeout      = flag.Duration("idle-timeout", defaults.IdleTimeout, "frame read timeout")
	writeTimeout     = flag.Duration("write-timeout", defaults.WriteTimeout, "frame write timeout")
	maxFrameSize     = flag.Int64("max-frame-size", defaults.MaxFrameSize, "max frame payload length")
	maxPending       = flag.Int("max-pending", defaults.MaxPending, "max frames queued per peer")
	readRate         = flag.Float64("read-rate", 0, "max frames per second read from a peer")
	readBurst        = flag.Int("read-burst", 1, "burst of frames over the read rate")
	strict           = flag.Bool("strict-length", false, "reject non-minimal payload length encoding")
	verbose          = flag.Bool("v", false, "log debug messages")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg := defaults
	cfg.Addr = *addr
	cfg.ReusePort = *reusePort
	cfg.HandshakeTimeout = *handshakeTimeout
	cfg.IdleTimeout = *idleTimeout
	cfg.WriteTimeout = *writeTimeout
	cfg.MaxFrameSize = *maxFrameSize
	cfg.MaxPending = *maxPending
	cfg.ReadRate = rate.Limit(*readRate)
	cfg.ReadBurst = *readBurst
	cfg.StrictLength = *strict
	cfg.Logger = log

	if err := cfg.Validate(); err != nil {
		log.Error("bad config", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.New(cfg, nil)
	if err := s.ListenAndServe(ctx); err != nil {
		log.Error("serve failed", "err", err)
		os.Exit(1)
	}
}
