package epoll

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
	"tcp-relay/internal/domain"
)

// LinuxEventLoop is a level-triggered epoll multiplexer. Its cost per wait
// does not depend on how many descriptors are registered.
type LinuxEventLoop struct {
	epollFD int
	wakeFD  int
	log     *slog.Logger
	events  []unix.EpollEvent
}

func New(log *slog.Logger) (*LinuxEventLoop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	l := &LinuxEventLoop{
		epollFD: fd,
		wakeFD:  wfd,
		log:     log,
		events:  make([]unix.EpollEvent, 128),
	}
	if err := l.Register(wfd, domain.EventRead); err != nil {
		l.Stop()
		return nil, err
	}
	return l, nil
}

func toEpoll(events domain.EventType) uint32 {
	var mask uint32
	if events&domain.EventRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&domain.EventWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func fromEpoll(mask uint32) domain.EventType {
	var ev domain.EventType
	if mask&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ev |= domain.EventRead
	}
	if mask&unix.EPOLLOUT != 0 {
		ev |= domain.EventWrite
	}
	if mask&unix.EPOLLERR != 0 {
		ev |= domain.EventError
	}
	if mask&unix.EPOLLHUP != 0 {
		ev |= domain.EventHangup
	}
	return ev
}

func (l *LinuxEventLoop) Register(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: toEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, evt)
}

func (l *LinuxEventLoop) Modify(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: toEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, evt)
}

func (l *LinuxEventLoop) Unregister(fd int) error {
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

func (l *LinuxEventLoop) Run(handler domain.EventHandler) error {
	for {
		if handler.Stopping() {
			return nil
		}

		n, err := unix.EpollWait(l.epollFD, l.events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(l.events[i].Fd)
			if fd == l.wakeFD {
				l.drainWake()
				continue
			}
			if err := handler.HandleEvent(fd, fromEpoll(l.events[i].Events)); err != nil {
				l.log.Error("Error handling event", "fd", fd, "error", err)
			}
		}

		// a full batch may mean more are pending; grow so one wait can drain them
		if n == len(l.events) {
			l.events = make([]unix.EpollEvent, 2*len(l.events))
		}
	}
}

func (l *LinuxEventLoop) Wake() error {
	var one = [8]byte{1}
	_, err := unix.Write(l.wakeFD, one[:])
	if err == unix.EAGAIN {
		// counter saturated, a wake is already pending
		return nil
	}
	return err
}

func (l *LinuxEventLoop) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(l.wakeFD, buf[:])
}

func (l *LinuxEventLoop) Stop() {
	unix.Close(l.wakeFD)
	unix.Close(l.epollFD)
}
