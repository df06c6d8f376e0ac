// Package looptest holds the behaviour every domain.EventLoop backend must
// share. Backends call Run from their own tests.
package looptest

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"tcp-relay/internal/domain"
)

type Factory func(t *testing.T) domain.EventLoop

type recorder struct {
	stop   atomic.Bool
	events map[int]domain.EventType
	// stopOn ends the loop after the first event on this fd; -1 disables
	stopOn int
}

func newRecorder(stopOn int) *recorder {
	return &recorder{events: map[int]domain.EventType{}, stopOn: stopOn}
}

func (r *recorder) HandleEvent(fd int, ev domain.EventType) error {
	r.events[fd] |= ev
	if fd == r.stopOn {
		r.stop.Store(true)
	}
	return nil
}

func (r *recorder) Stopping() bool { return r.stop.Load() }

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func runAsync(loop domain.EventLoop, h domain.EventHandler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- loop.Run(h) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("event loop did not return")
	}
}

func Run(t *testing.T, newLoop Factory) {
	t.Run("ReadReadiness", func(t *testing.T) {
		loop := newLoop(t)
		a, b := socketPair(t)
		require.NoError(t, loop.Register(a, domain.EventRead))

		_, err := unix.Write(b, []byte("x"))
		require.NoError(t, err)

		h := newRecorder(a)
		waitRun(t, runAsync(loop, h))
		require.NotZero(t, h.events[a]&domain.EventRead)
		require.NotContains(t, h.events, b)
	})

	t.Run("WriteReadiness", func(t *testing.T) {
		loop := newLoop(t)
		a, _ := socketPair(t)
		require.NoError(t, loop.Register(a, domain.EventWrite))

		h := newRecorder(a)
		waitRun(t, runAsync(loop, h))
		require.NotZero(t, h.events[a]&domain.EventWrite)
		require.Zero(t, h.events[a]&domain.EventRead)
	})

	t.Run("Modify", func(t *testing.T) {
		loop := newLoop(t)
		a, _ := socketPair(t)
		require.NoError(t, loop.Register(a, domain.EventRead))
		require.NoError(t, loop.Modify(a, domain.EventRead|domain.EventWrite))

		h := newRecorder(a)
		waitRun(t, runAsync(loop, h))
		require.NotZero(t, h.events[a]&domain.EventWrite)
	})

	t.Run("WakeStopsIdleLoop", func(t *testing.T) {
		loop := newLoop(t)
		a, _ := socketPair(t)
		require.NoError(t, loop.Register(a, domain.EventRead))

		h := newRecorder(-1)
		done := runAsync(loop, h)
		time.Sleep(50 * time.Millisecond)
		h.stop.Store(true)
		require.NoError(t, loop.Wake())
		waitRun(t, done)
		require.Empty(t, h.events)
	})

	t.Run("UnregisterSilencesDescriptor", func(t *testing.T) {
		loop := newLoop(t)
		a, b := socketPair(t)
		require.NoError(t, loop.Register(a, domain.EventRead))
		require.NoError(t, loop.Unregister(a))
		_, err := unix.Write(b, []byte("x"))
		require.NoError(t, err)

		h := newRecorder(-1)
		done := runAsync(loop, h)
		time.Sleep(50 * time.Millisecond)
		h.stop.Store(true)
		require.NoError(t, loop.Wake())
		waitRun(t, done)
		require.NotContains(t, h.events, a)
	})

	t.Run("PeerCloseIsReadable", func(t *testing.T) {
		loop := newLoop(t)
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
		require.NoError(t, err)
		t.Cleanup(func() { unix.Close(fds[0]) })
		require.NoError(t, loop.Register(fds[0], domain.EventRead))
		require.NoError(t, unix.Close(fds[1]))

		h := newRecorder(fds[0])
		waitRun(t, runAsync(loop, h))
		require.NotZero(t, h.events[fds[0]]&domain.EventRead)

		n, err := unix.Read(fds[0], make([]byte, 8))
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("StoppedBeforeRun", func(t *testing.T) {
		loop := newLoop(t)
		h := newRecorder(-1)
		h.stop.Store(true)
		waitRun(t, runAsync(loop, h))
	})
}
