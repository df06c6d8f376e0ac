package config

import (
	"bytes"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-s", "127.0.0.1:9000", "-d", "backend.local:9001"}, &bytes.Buffer{})
	require.NoError(t, err)

	require.False(t, cfg.Verbose)
	require.Equal(t, Endpoint{Host: "127.0.0.1", Port: 9000}, cfg.Source)
	require.Equal(t, Endpoint{Host: "backend.local", Port: 9001}, cfg.Destination)
	require.Equal(t, DefaultBufferSize, cfg.BufferSize)
	require.Equal(t, DefaultBacklog, cfg.Backlog)
	require.Equal(t, DefaultMaxClients, cfg.MaxClients)
	require.Equal(t, "epoll", cfg.Poller)
	require.Equal(t, "text", cfg.LogFormat)
	require.Empty(t, cfg.MetricsAddr)
	require.Equal(t, DefaultDNSTimeout, cfg.DNSTimeout)
}

func TestParseAllFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"-v", "-s", ":0", "-d", "[::1]:443",
		"-b", "4096", "-l", "64", "-c", "10",
		"-poller", "poll", "-metrics", "127.0.0.1:9100",
		"-log-format", "json", "-dns-timeout", "2s",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	require.True(t, cfg.Verbose)
	require.Equal(t, Endpoint{Host: "", Port: 0}, cfg.Source)
	require.Equal(t, Endpoint{Host: "::1", Port: 443}, cfg.Destination)
	require.Equal(t, 4096, cfg.BufferSize)
	require.Equal(t, 64, cfg.Backlog)
	require.Equal(t, 10, cfg.MaxClients)
	require.Equal(t, "poll", cfg.Poller)
	require.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, 2*time.Second, cfg.DNSTimeout)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing source", []string{"-d", "127.0.0.1:9001"}},
		{"missing destination", []string{"-s", "127.0.0.1:9000"}},
		{"no arguments", nil},
		{"source without port", []string{"-s", "127.0.0.1", "-d", "127.0.0.1:9001"}},
		{"bad port", []string{"-s", "127.0.0.1:http", "-d", "127.0.0.1:9001"}},
		{"port out of range", []string{"-s", "127.0.0.1:70000", "-d", "127.0.0.1:9001"}},
		{"destination port zero", []string{"-s", "127.0.0.1:9000", "-d", "127.0.0.1:0"}},
		{"destination host empty", []string{"-s", "127.0.0.1:9000", "-d", ":9001"}},
		{"zero buffer", []string{"-s", ":9000", "-d", "h:1", "-b", "0"}},
		{"negative backlog", []string{"-s", ":9000", "-d", "h:1", "-l", "-1"}},
		{"zero clients", []string{"-s", ":9000", "-d", "h:1", "-c", "0"}},
		{"unknown poller", []string{"-s", ":9000", "-d", "h:1", "-poller", "select"}},
		{"unknown log format", []string{"-s", ":9000", "-d", "h:1", "-log-format", "xml"}},
		{"unknown flag", []string{"-x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.args, &bytes.Buffer{})
			require.Nil(t, cfg)
			require.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestParseHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := Parse([]string{"-h"}, &out)
	require.True(t, errors.Is(err, flag.ErrHelp))
	require.Contains(t, out.String(), "-d host:port")
}

func TestEndpointString(t *testing.T) {
	require.Equal(t, "127.0.0.1:9000", Endpoint{Host: "127.0.0.1", Port: 9000}.String())
	require.Equal(t, "[::1]:80", Endpoint{Host: "::1", Port: 80}.String())
	require.Equal(t, ":0", Endpoint{}.String())
}
