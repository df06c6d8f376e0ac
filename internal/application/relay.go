package application

import (
	"golang.org/x/sys/unix"
	"tcp-relay/internal/domain"
	"tcp-relay/internal/obs"
)

// direction is one half of a connection: bytes read from src go to dst,
// and whatever dst does not take immediately is parked in pending.
type direction struct {
	src, dst  int
	pending   *[]byte
	relayed   *uint64
	label     string
	srcEOF    string
	srcErr    string
	dstErr    string
	suspended bool
}

func clientToBackend(c *domain.Connection) direction {
	return direction{
		src:       c.ClientFD,
		dst:       c.BackendFD,
		pending:   &c.ToBackend,
		relayed:   &c.BytesToBackend,
		label:     obs.DirToBackend,
		srcEOF:    reasonClientEOF,
		srcErr:    reasonClientError,
		dstErr:    reasonBackendError,
		suspended: len(c.ToBackend) > 0,
	}
}

func backendToClient(c *domain.Connection) direction {
	return direction{
		src:       c.BackendFD,
		dst:       c.ClientFD,
		pending:   &c.ToClient,
		relayed:   &c.BytesToClient,
		label:     obs.DirToClient,
		srcEOF:    reasonBackendEOF,
		srcErr:    reasonBackendError,
		dstErr:    reasonClientError,
		suspended: len(c.ToClient) > 0,
	}
}

// relay services one ready descriptor of c. Writability flushes bytes
// parked for fd; readability reads from fd and forwards to its peer.
func (s *RelayService) relay(c *domain.Connection, fd int, event domain.EventType) {
	in, out := clientToBackend(c), backendToClient(c)
	if fd == c.BackendFD {
		in, out = out, in
	}
	// in reads from fd, out writes to fd

	if event&domain.EventError != 0 {
		if soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err != nil || soErr != 0 {
			s.teardown(c, in.srcErr)
			return
		}
	}

	if event&domain.EventWrite != 0 && len(*out.pending) > 0 {
		if !s.flush(c, out) {
			return
		}
	}

	if event&(domain.EventRead|domain.EventHangup) == 0 {
		return
	}
	if in.suspended {
		if event&domain.EventHangup != 0 && s.peerGone(fd) {
			s.teardown(c, in.srcEOF)
		}
		return
	}
	s.forward(c, in)
}

// forward performs one read of at most the buffer size and writes it to the
// peer. End of stream or an error on either side tears the whole connection
// down; there is no half-close.
func (s *RelayService) forward(c *domain.Connection, d direction) {
	n, err := unix.Read(d.src, s.buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		s.teardown(c, d.srcErr)
		return
	}
	if n == 0 {
		s.teardown(c, d.srcEOF)
		return
	}

	data := s.buf[:n]
	w, err := unix.Write(d.dst, data)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EINTR {
			s.teardown(c, d.dstErr)
			return
		}
		w = 0
	}
	s.account(d, w)

	if w < n {
		*d.pending = append((*d.pending)[:0], data[w:]...)
		obs.BackpressureTotal.WithLabelValues(d.label).Inc()
		if err := s.updateInterest(c); err != nil {
			s.log.Error("Failed to update interest", "slot", c.Slot, "error", err)
			s.teardown(c, reasonRegister)
		}
	}
}

// flush writes bytes parked for d.dst. It reports false when the
// connection was torn down.
func (s *RelayService) flush(c *domain.Connection, d direction) bool {
	w, err := unix.Write(d.dst, *d.pending)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return true
		}
		s.teardown(c, d.dstErr)
		return false
	}
	s.account(d, w)

	*d.pending = (*d.pending)[:copy(*d.pending, (*d.pending)[w:])]
	if len(*d.pending) == 0 {
		if err := s.updateInterest(c); err != nil {
			s.log.Error("Failed to update interest", "slot", c.Slot, "error", err)
			s.teardown(c, reasonRegister)
			return false
		}
	}
	return true
}

func (s *RelayService) account(d direction, n int) {
	if n <= 0 {
		return
	}
	*d.relayed += uint64(n)
	obs.BytesRelayedTotal.WithLabelValues(d.label).Add(float64(n))
}

// peerGone tells a real hangup from a stale one (the descriptor number may
// have been reused earlier in the same batch).
func (s *RelayService) peerGone(fd int) bool {
	var b [1]byte
	n, _, err := unix.Recvfrom(fd, b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err == unix.EAGAIN {
		return false
	}
	return err != nil || n == 0
}

// updateInterest re-registers both descriptors when the pending buffers
// changed what each one should be watched for.
func (s *RelayService) updateInterest(c *domain.Connection) error {
	if want := c.ClientInterest(); want != c.ClientEvents {
		if err := s.loop.Modify(c.ClientFD, want); err != nil {
			return err
		}
		c.ClientEvents = want
	}
	if want := c.BackendInterest(); want != c.BackendEvents {
		if err := s.loop.Modify(c.BackendFD, want); err != nil {
			return err
		}
		c.BackendEvents = want
	}
	return nil
}
