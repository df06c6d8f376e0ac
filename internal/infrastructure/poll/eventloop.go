// Package poll implements domain.EventLoop on poll(2). The interest set is
// rebuilt from the registered descriptors on every iteration, so each wait
// costs O(registered).
package poll

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
	"tcp-relay/internal/domain"
)

type EventLoop struct {
	log *slog.Logger

	wakeR, wakeW int

	registered []int
	pos        map[int]int
	interest   map[int]domain.EventType

	pollFDs []unix.PollFd
}

func New(log *slog.Logger) (*EventLoop, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &EventLoop{
		log:      log,
		wakeR:    p[0],
		wakeW:    p[1],
		pos:      make(map[int]int),
		interest: make(map[int]domain.EventType),
	}, nil
}

func (l *EventLoop) Register(fd int, events domain.EventType) error {
	if _, ok := l.interest[fd]; ok {
		return unix.EEXIST
	}
	l.pos[fd] = len(l.registered)
	l.registered = append(l.registered, fd)
	l.interest[fd] = events
	return nil
}

func (l *EventLoop) Modify(fd int, events domain.EventType) error {
	if _, ok := l.interest[fd]; !ok {
		return unix.ENOENT
	}
	l.interest[fd] = events
	return nil
}

func (l *EventLoop) Unregister(fd int) error {
	i, ok := l.pos[fd]
	if !ok {
		return unix.ENOENT
	}
	last := l.registered[len(l.registered)-1]
	l.registered[i] = last
	l.pos[last] = i
	l.registered = l.registered[:len(l.registered)-1]
	delete(l.pos, fd)
	delete(l.interest, fd)
	return nil
}

func toPoll(events domain.EventType) int16 {
	var mask int16
	if events&domain.EventRead != 0 {
		mask |= unix.POLLIN
	}
	if events&domain.EventWrite != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

func fromPoll(revents int16) domain.EventType {
	var ev domain.EventType
	if revents&unix.POLLIN != 0 {
		ev |= domain.EventRead
	}
	if revents&unix.POLLOUT != 0 {
		ev |= domain.EventWrite
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		ev |= domain.EventError
	}
	if revents&unix.POLLHUP != 0 {
		ev |= domain.EventHangup
	}
	return ev
}

func (l *EventLoop) buildSet() {
	l.pollFDs = l.pollFDs[:0]
	l.pollFDs = append(l.pollFDs, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	for _, fd := range l.registered {
		l.pollFDs = append(l.pollFDs, unix.PollFd{Fd: int32(fd), Events: toPoll(l.interest[fd])})
	}
}

func (l *EventLoop) Run(handler domain.EventHandler) error {
	for {
		if handler.Stopping() {
			return nil
		}

		l.buildSet()
		_, err := unix.Poll(l.pollFDs, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if l.pollFDs[0].Revents != 0 {
			l.drainWake()
		}
		for _, p := range l.pollFDs[1:] {
			if p.Revents == 0 {
				continue
			}
			fd := int(p.Fd)
			// an earlier handler in this batch may have dropped it
			if _, ok := l.interest[fd]; !ok {
				continue
			}
			if err := handler.HandleEvent(fd, fromPoll(p.Revents)); err != nil {
				l.log.Error("Error handling event", "fd", fd, "error", err)
			}
		}
	}
}

func (l *EventLoop) Wake() error {
	_, err := unix.Write(l.wakeW, []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (l *EventLoop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *EventLoop) Stop() {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
}
