package main

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"missing destination", []string{"-s", "127.0.0.1:9000"}},
		{"missing source", []string{"-d", "127.0.0.1:9001"}},
		{"unknown flag", []string{"-z"}},
		{"bad poller", []string{"-s", "127.0.0.1:0", "-d", "127.0.0.1:9001", "-poller", "kqueue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			require.Equal(t, 1, run(tt.args, &stdout, &stderr))
			require.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-h"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "-s host:port")
}

func TestRunBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-s", ln.Addr().String(), "-d", "127.0.0.1:9"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stdout.String(), "Failed to create relay service")
}

func TestRunUnresolvableDestination(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-s", "127.0.0.1:0", "-d", "no-such-host.invalid:80", "-dns-timeout", "200ms"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stdout.String(), "Failed to resolve destination address")
}

func TestRunRelaysAndStopsOnSignal(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echo.Close()
	go func() {
		for {
			c, err := echo.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	src := "127.0.0.1:" + strconv.Itoa(freePort(t))
	done := make(chan int, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		done <- run([]string{"-v", "-s", src, "-d", echo.Addr().String()}, &stdout, &stderr)
	}()

	var client net.Conn
	require.Eventually(t, func() bool {
		client, err = net.Dial("tcp", src)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	got := make([]byte, 5)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop on SIGINT")
	}

	n, err := client.Read(got)
	require.Zero(t, n)
	require.Error(t, err)
}
