// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Resonance runs one peer of an encrypted peer-to-peer audio room.
// Commands are read from stdin; room events are printed to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/resonance-mesh/resonance/lib/config"
	"github.com/resonance-mesh/resonance/lib/logging"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/version"
	"github.com/resonance-mesh/resonance/mesh"
	"github.com/resonance-mesh/resonance/signaling"
	"github.com/resonance-mesh/resonance/transport"
)

// leaveTimeout bounds the goodbye sent to the room on SIGINT or SIGTERM.
const leaveTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		advertise   string
		name        string
		metricsAddr string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("resonance", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to resonance.yaml (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&listen, "listen", "", "UDP address to bind, overriding listen_address")
	flagSet.StringVar(&advertise, "advertise", "", "address to give out in links and gossip, overriding advertise_address")
	flagSet.StringVar(&name, "name", "", "display name, overriding display_name")
	flagSet.StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address, overriding metrics.address")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("resonance %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlag(&cfg.ListenAddress, listen)
	applyFlag(&cfg.AdvertiseAddress, advertise)
	applyFlag(&cfg.DisplayName, name)
	applyFlag(&cfg.Metrics.Address, metricsAddr)
	applyFlag(&cfg.Log.Level, logLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting resonance",
		"version", version.Info(),
		"name", cfg.DisplayName,
		"listen", cfg.ListenAddress,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)
	if cfg.Metrics.Address != "" {
		server, err := serveMetrics(cfg.Metrics.Address, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	endpoint, err := transport.ListenUDP(cfg.ListenAddress, logger)
	if err != nil {
		return err
	}

	negotiator, err := signaling.NewPionNegotiator(signaling.PionConfig{
		ICE:    transport.ICEConfigFromServers(cfg.ICEServers),
		Logger: logger,
	})
	if err != nil {
		endpoint.Close()
		return fmt.Errorf("creating media negotiator: %w", err)
	}
	defer negotiator.Close()

	var advertised netip.AddrPort
	if cfg.AdvertiseAddress != "" {
		// Validate has already parsed it.
		advertised = netip.MustParseAddrPort(cfg.AdvertiseAddress)
	}
	node, err := mesh.New(mesh.Config{
		DisplayName: cfg.DisplayName,
		Advertise:   advertised,
		Endpoint:    endpoint,
		Negotiator:  negotiator,
		Handshake:   cfg.Handshake,
		Gossip:      cfg.Gossip,
		Links:       cfg.Links,
		Room:        cfg.Room,
		Channel:     cfg.Channel,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		endpoint.Close()
		return err
	}

	console := newConsole(node, os.Stdin, os.Stdout)
	go console.printEvents()
	go console.readCommands(ctx, stop)

	fmt.Fprintf(os.Stdout, "peer %s listening on %s\n", node.Self(), node.Address())
	console.help()

	// The node outlives the signal long enough to tell the room.
	nodeCtx, cancelNode := context.WithCancel(context.Background())
	defer cancelNode()
	go func() {
		<-ctx.Done()
		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := node.Leave(leaveCtx); err != nil && !errors.Is(err, mesh.ErrNotInRoom) && !errors.Is(err, mesh.ErrClosed) {
			logger.Warn("leaving room on shutdown", "error", err)
		}
		cancelNode()
	}()
	return node.Run(nodeCtx)
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

func applyFlag(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func serveMetrics(address string, registry *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr())
	return server, nil
}
