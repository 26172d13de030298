package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anchorledger/config"
	"anchorledger/observability/logging"
	telemetry "anchorledger/observability/otel"
)

const serviceName = "anchord"

var version = "dev"

func main() {
	cfgPath := flag.String("config", "./anchord.toml", "path to the node configuration")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "anchord: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		file := logging.RotatingFile(logging.FileOptions{Path: cfg.LogFile, MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28, Compress: true})
		defer file.Close()
		out = io.MultiWriter(os.Stdout, file)
	}
	logger := logging.SetupWriter(out, serviceName, cfg.Environment, cfg.LogLevel)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	n, err := openNode(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error("close store", slog.String("error", err.Error()))
		}
	}()

	if cfg.BootstrapFile != "" {
		b, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		if err := n.applyBootstrap(b, logger); err != nil {
			return err
		}
	}

	snap, err := n.engine.StateSnapshot()
	if err != nil {
		return err
	}
	logger.Info("ledger open",
		slog.Uint64("block", snap.CurrentBlock),
		slog.Uint64("genesis_block", snap.GenesisBlock),
		slog.Uint64("anchors", snap.TotalAnchors),
		slog.Uint64("pledges", snap.TotalPledges))

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           n.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("address", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}
