package application

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"tcp-relay/internal/domain"
	"tcp-relay/internal/infrastructure/network"
	"tcp-relay/internal/obs"
)

// Teardown causes, also used as metric labels.
const (
	reasonClientEOF    = "client_eof"
	reasonBackendEOF   = "backend_eof"
	reasonClientError  = "client_error"
	reasonBackendError = "backend_error"
	reasonRegister     = "register"
	reasonShutdown     = "shutdown"
)

type Options struct {
	Listen     netip.AddrPort
	Backend    netip.AddrPort // resolved once, shared by every connection
	BufferSize int
	Backlog    int
	MaxClients int
}

// RelayService pairs every accepted client with a fresh backend connection
// and copies bytes between them. All of its state is owned by the goroutine
// running Start; only Shutdown and Active may be called from elsewhere.
type RelayService struct {
	log        *slog.Logger
	loop       domain.EventLoop
	opts       Options
	listenerFD int
	addr       netip.AddrPort
	table      *domain.Table
	buf        []byte

	stopping atomic.Bool
	active   atomic.Int64
	closed   bool

	// set while accept keeps failing, e.g. EMFILE
	acceptFailing bool
}

func NewRelayService(loop domain.EventLoop, logger *slog.Logger, opts Options) (*RelayService, error) {
	lfd, err := network.ListenTCP(opts.Listen, opts.Backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to listen tcp: %w", err)
	}

	addr, err := network.LocalAddr(lfd)
	if err != nil {
		unix.Close(lfd)
		return nil, fmt.Errorf("failed to read listen address: %w", err)
	}

	obs.TableCapacity.Set(float64(opts.MaxClients))

	return &RelayService{
		log:        logger,
		loop:       loop,
		opts:       opts,
		listenerFD: lfd,
		addr:       addr,
		table:      domain.NewTable(opts.MaxClients),
		buf:        make([]byte, opts.BufferSize),
	}, nil
}

// Addr is the bound listen address, with the kernel-chosen port when the
// configured port was 0.
func (s *RelayService) Addr() netip.AddrPort { return s.addr }

// Active reports the number of occupied table slots.
func (s *RelayService) Active() int { return int(s.active.Load()) }

// Start runs the event loop until Shutdown is called or the multiplexer
// fails, then releases every descriptor the service owns.
func (s *RelayService) Start() error {
	defer s.Close()

	s.log.Debug("Registering listener in event loop", "listener_fd", s.listenerFD)
	if err := s.loop.Register(s.listenerFD, domain.EventRead); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	if err := s.loop.Run(s); err != nil {
		return err
	}
	s.log.Info("Shutdown requested, closing connections", "active", s.table.Len())
	return nil
}

// Shutdown asks the loop to stop. Teardown happens on the loop goroutine at
// the start of its next iteration.
func (s *RelayService) Shutdown() {
	s.stopping.Store(true)
	if err := s.loop.Wake(); err != nil {
		s.log.Error("Failed to wake event loop", "error", err)
	}
}

func (s *RelayService) Stopping() bool { return s.stopping.Load() }

// Close closes the listener and every connection without flushing pending
// data. It is idempotent.
func (s *RelayService) Close() {
	if s.closed {
		return
	}
	s.closed = true

	_ = s.loop.Unregister(s.listenerFD)
	unix.Close(s.listenerFD)
	s.listenerFD = -1

	s.table.Each(func(c *domain.Connection) {
		s.teardown(c, reasonShutdown)
	})
}

func (s *RelayService) HandleEvent(fd int, event domain.EventType) error {
	if fd == s.listenerFD {
		s.acceptClient()
		return nil
	}

	c := s.table.Lookup(fd)
	if c == nil {
		return nil
	}
	s.relay(c, fd, event)
	return nil
}

func (s *RelayService) acceptClient() {
	nfd, peer, err := network.Accept(s.listenerFD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.ECONNABORTED || err == unix.EINTR {
			return
		}
		s.acceptFailed(err)
		return
	}
	s.acceptFailing = false

	c, err := s.table.Allocate(nfd, peer)
	if err != nil {
		s.log.Debug("Connection refused", "client", peer, "reason", err, "max_clients", s.table.Cap())
		obs.RefusedTotal.WithLabelValues(obs.ReasonTableFull).Inc()
		unix.Close(nfd)
		return
	}

	s.log.Debug("New connection", "slot", c.Slot, "client", peer)
	s.connectBackend(c)
	s.syncActive()
}

// acceptFailed reports an accept error. The listener is level-triggered, so
// a persistent failure such as EMFILE re-fires every iteration until a
// descriptor frees up; only the first of a run is logged at Error.
func (s *RelayService) acceptFailed(err error) {
	obs.RefusedTotal.WithLabelValues(obs.ReasonAccept).Inc()
	if s.acceptFailing {
		s.log.Debug("Accept still failing", "error", err)
		return
	}
	s.acceptFailing = true
	s.log.Error("Accept failed", "error", err)
}

// connectBackend dials the backend for a freshly allocated slot. A connect
// still in progress is good enough: data written before it completes waits
// in the pending buffer until the socket turns writable.
func (s *RelayService) connectBackend(c *domain.Connection) {
	bfd, err := network.DialNonblock(s.opts.Backend)
	if err != nil {
		s.log.Warn("Backend connect failed", "slot", c.Slot, "backend", s.opts.Backend, "error", err)
		obs.RefusedTotal.WithLabelValues(obs.ReasonDial).Inc()
		cfd, _ := s.table.Release(c)
		unix.Close(cfd)
		return
	}
	s.table.Attach(c, bfd, s.opts.Backend)

	if err := s.register(c); err != nil {
		s.log.Error("Failed to register connection", "slot", c.Slot, "error", err)
		s.teardown(c, reasonRegister)
		return
	}
	obs.AcceptedTotal.Inc()
}

func (s *RelayService) register(c *domain.Connection) error {
	c.ClientEvents = c.ClientInterest()
	if err := s.loop.Register(c.ClientFD, c.ClientEvents); err != nil {
		return fmt.Errorf("client fd %d: %w", c.ClientFD, err)
	}
	c.BackendEvents = c.BackendInterest()
	if err := s.loop.Register(c.BackendFD, c.BackendEvents); err != nil {
		return fmt.Errorf("backend fd %d: %w", c.BackendFD, err)
	}
	return nil
}

// teardown releases the slot and closes both descriptors in one step.
func (s *RelayService) teardown(c *domain.Connection, reason string) {
	slot, peer := c.Slot, c.Peer
	total := c.BytesToBackend + c.BytesToClient

	cfd, bfd := s.table.Release(c)
	for _, fd := range [2]int{cfd, bfd} {
		if fd < 0 {
			continue
		}
		_ = s.loop.Unregister(fd)
		unix.Close(fd)
	}

	obs.TeardownTotal.WithLabelValues(reason).Inc()
	obs.ConnectionBytes.Observe(float64(total))
	s.syncActive()
	s.log.Debug("Connection closed", "slot", slot, "client", peer, "reason", reason, "bytes", total)
}

func (s *RelayService) syncActive() {
	n := s.table.Len()
	s.active.Store(int64(n))
	obs.ActiveConnections.Set(float64(n))
}
