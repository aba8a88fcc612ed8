// Package main provides channelecho, a TCP server that echoes every
// length-prefixed package it receives back to its sender, demonstrating a
// Channel wired end to end: transport, filter chain, queue, and metrics.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/duplexproto/channel/channel"
	"github.com/duplexproto/channel/config"
	"github.com/duplexproto/channel/logging"
	"github.com/duplexproto/channel/metrics"
	"github.com/duplexproto/channel/protocols/lengthprefix"
	"github.com/duplexproto/channel/transport"
)

var version = "dev"

const shutdownGracePeriod = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting", "version", version,
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"max_package_length", cfg.MaxPackageLength,
	)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, logger)
	metricsSrv.Start()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("listen failed", "err", err)
		return 1
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	go acceptLoop(ctx, ln, cfg, logger, &wg)

	<-ctx.Done()
	logger.Info("shutting down")
	_ = ln.Close()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return 0
}

func acceptLoop(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger, wg *sync.WaitGroup) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("accept failed", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, conn, cfg, logger)
		}()
	}
}

// serveConn runs one Channel for the lifetime of conn, echoing every
// package it parses back to the same peer until the channel closes.
func serveConn(ctx context.Context, conn net.Conn, cfg *config.Config, logger *slog.Logger) {
	endpoint := conn.RemoteAddr().String()
	connLogger := logger.With("endpoint", endpoint)

	var tr transport.Transport
	if cfg.ReadTimeout > 0 {
		tr = transport.NewDeadlineConn(conn, cfg.ReadTimeout)
	} else {
		tr = transport.NewConn(conn)
	}

	ch, err := channel.New[[]byte](tr, lengthprefix.New(binary.BigEndian),
		channel.WithReceiveBufferSize(cfg.ReceiveBufferSize),
		channel.WithMaxPackageLength(cfg.MaxPackageLength),
		channel.WithQueueCapacity(cfg.QueueCapacity),
		channel.WithLogger(connLogger),
		channel.WithMetrics(metrics.NewChannel(endpoint)),
	)
	if err != nil {
		connLogger.Error("channel setup failed", "err", err)
		_ = conn.Close()
		return
	}

	connLogger.Info("connection accepted")
	enc := lengthprefix.NewEncoder(binary.BigEndian)
	for pkg := range ch.Run(ctx) {
		if err := ch.SendEncoded(ctx, enc, pkg); err != nil {
			connLogger.Debug("echo failed", "err", err)
			break
		}
	}
	connLogger.Info("connection closed")
}
