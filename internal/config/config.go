// Package config builds the immutable startup configuration of the relay
// from command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	DefaultBufferSize = 128
	DefaultBacklog    = 5
	DefaultMaxClients = 500
	DefaultPoller     = "epoll"
	DefaultDNSTimeout = 5 * time.Second
)

// ErrUsage reports missing or malformed command-line arguments.
var ErrUsage = errors.New("invalid usage")

type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint splits "host:port". An empty host is allowed and means any
// local address when binding.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrUsage, s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: %q: invalid port", ErrUsage, s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

type Config struct {
	Verbose     bool
	Source      Endpoint
	Destination Endpoint
	BufferSize  int
	Backlog     int
	MaxClients  int

	Poller      string
	MetricsAddr string
	LogFormat   string
	DNSTimeout  time.Duration
}

// Parse reads the relay flags from args (without the program name). Usage
// text and flag errors go to output. flag.ErrHelp is returned unchanged for
// -h; every other failure wraps ErrUsage.
func Parse(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("tcp-relay", flag.ContinueOnError)
	fs.SetOutput(output)

	cfg := &Config{}
	var src, dst string
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose logging")
	fs.StringVar(&src, "s", "", "source `host:port` to listen on")
	fs.StringVar(&dst, "d", "", "destination `host:port` to relay to")
	fs.IntVar(&cfg.BufferSize, "b", DefaultBufferSize, "read buffer size in bytes")
	fs.IntVar(&cfg.Backlog, "l", DefaultBacklog, "listen backlog")
	fs.IntVar(&cfg.MaxClients, "c", DefaultMaxClients, "maximum concurrent connections")
	fs.StringVar(&cfg.Poller, "poller", DefaultPoller, "readiness backend: epoll or poll")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "serve Prometheus metrics on this address (disabled when empty)")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	fs.DurationVar(&cfg.DNSTimeout, "dns-timeout", DefaultDNSTimeout, "destination name resolution timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if src == "" || dst == "" {
		fs.Usage()
		return nil, fmt.Errorf("%w: source (-s) and destination (-d) are required", ErrUsage)
	}

	var err error
	if cfg.Source, err = ParseEndpoint(src); err != nil {
		return nil, err
	}
	if cfg.Destination, err = ParseEndpoint(dst); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Destination.Host == "":
		return fmt.Errorf("%w: destination host is empty", ErrUsage)
	case c.Destination.Port == 0:
		return fmt.Errorf("%w: destination port must be non-zero", ErrUsage)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive, got %d", ErrUsage, c.BufferSize)
	case c.Backlog <= 0:
		return fmt.Errorf("%w: backlog must be positive, got %d", ErrUsage, c.Backlog)
	case c.MaxClients <= 0:
		return fmt.Errorf("%w: max connections must be positive, got %d", ErrUsage, c.MaxClients)
	case c.DNSTimeout <= 0:
		return fmt.Errorf("%w: dns timeout must be positive", ErrUsage)
	}
	switch c.Poller {
	case "epoll", "poll":
	default:
		return fmt.Errorf("%w: unknown poller %q", ErrUsage, c.Poller)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrUsage, c.LogFormat)
	}
	return nil
}
