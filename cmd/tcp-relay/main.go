package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"tcp-relay/internal/application"
	"tcp-relay/internal/config"
	"tcp-relay/internal/domain"
	"tcp-relay/internal/infrastructure/epoll"
	"tcp-relay/internal/infrastructure/poll"
	"tcp-relay/internal/infrastructure/resolver"
	"tcp-relay/internal/obs"
	"tcp-relay/pkg/logger"
)

const (
	resolvConf = "/etc/resolv.conf"
	hostsFile  = "/etc/hosts"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}

	log := logger.Setup(logger.Options{Verbose: cfg.Verbose, Format: cfg.LogFormat, Output: stdout})
	log.Info("Initializing TCP relay...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := resolver.FromResolvConf(resolvConf, cfg.DNSTimeout).WithHostsFile(hostsFile)
	listen, err := resolveEndpoint(ctx, res, cfg.Source)
	if err != nil {
		log.Error("Failed to resolve source address", "source", cfg.Source, "error", err)
		return 1
	}
	backend, err := resolveEndpoint(ctx, res, cfg.Destination)
	if err != nil {
		log.Error("Failed to resolve destination address", "destination", cfg.Destination, "error", err)
		return 1
	}

	eventLoop, err := newEventLoop(cfg.Poller, log)
	if err != nil {
		log.Error("Failed to create event loop", "poller", cfg.Poller, "error", err)
		return 1
	}
	defer eventLoop.Stop()

	relay, err := application.NewRelayService(eventLoop, log, application.Options{
		Listen:     listen,
		Backend:    backend,
		BufferSize: cfg.BufferSize,
		Backlog:    cfg.Backlog,
		MaxClients: cfg.MaxClients,
	})
	if err != nil {
		log.Error("Failed to create relay service", "source", cfg.Source, "error", err)
		return 1
	}

	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			relay.Close()
			log.Error("Failed to listen for metrics", "addr", cfg.MetricsAddr, "error", err)
			return 1
		}
		go obs.Serve(ctx, ln, log)
		log.Info("Metrics listening", "addr", ln.Addr().String())
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			relay.Shutdown()
		case <-finished:
		}
	}()

	log.Info("Relay listening",
		"src", relay.Addr(), "dst", backend, "destination", cfg.Destination,
		"max_clients", cfg.MaxClients, "buffer", cfg.BufferSize, "poller", cfg.Poller)

	if err := relay.Start(); err != nil {
		log.Error("Relay stopped unexpectedly", "error", err)
		return 1
	}
	log.Info("Relay stopped")
	return 0
}

func resolveEndpoint(ctx context.Context, r domain.Resolver, ep config.Endpoint) (netip.AddrPort, error) {
	ip, err := r.Resolve(ctx, ep.Host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip, uint16(ep.Port)), nil
}

func newEventLoop(name string, log *slog.Logger) (domain.EventLoop, error) {
	switch name {
	case "poll":
		return poll.New(log)
	default:
		return epoll.New(log)
	}
}
