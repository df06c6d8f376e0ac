package domain

import (
	"context"
	"net/netip"
)

type EventType uint32

const (
	EventRead   EventType = 0x1
	EventWrite  EventType = 0x4  // EPOLLOUT
	EventError  EventType = 0x8  // EPOLLERR
	EventHangup EventType = 0x10 // EPOLLHUP
)

// EventHandler receives readiness from an EventLoop. Stopping is polled once
// per loop iteration; returning true makes Run return nil.
type EventHandler interface {
	HandleEvent(fd int, event EventType) error
	Stopping() bool
}

// EventLoop is the readiness multiplexer. Register and Modify take the full
// interest set for fd; error and hangup conditions are always reported.
type EventLoop interface {
	Register(fd int, events EventType) error
	Modify(fd int, events EventType) error
	Unregister(fd int) error
	Run(handler EventHandler) error
	// Wake interrupts a blocked Run from any goroutine.
	Wake() error
	Stop()
}

type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}
