package domain

import (
	"errors"
	"net/netip"
)

type State int

const (
	StateEmpty      State = iota // Free slot
	StateConnecting              // Accepted, backend dial not issued yet
	StateRelaying                // Dial issued (possibly still in progress)
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	default:
		return "unknown"
	}
}

var ErrTableFull = errors.New("connection table full")

// Connection pairs one accepted client with its backend socket. A Connection
// owns both descriptors; they are closed together on teardown.
type Connection struct {
	Slot      int
	ClientFD  int
	BackendFD int
	State     State

	Peer   netip.AddrPort
	Target netip.AddrPort

	// ToBackend holds client bytes the backend did not accept yet,
	// ToClient the reverse. Each stays below the relay buffer size.
	ToBackend []byte
	ToClient  []byte

	// Interest currently registered with the event loop.
	ClientEvents  EventType
	BackendEvents EventType

	BytesToBackend uint64
	BytesToClient  uint64
}

// ClientInterest is the event set the client descriptor should be watched
// for: reading is suspended while the backend has unsent bytes.
func (c *Connection) ClientInterest() EventType {
	var ev EventType
	if len(c.ToBackend) == 0 {
		ev |= EventRead
	}
	if len(c.ToClient) > 0 {
		ev |= EventWrite
	}
	return ev
}

func (c *Connection) BackendInterest() EventType {
	var ev EventType
	if len(c.ToClient) == 0 {
		ev |= EventRead
	}
	if len(c.ToBackend) > 0 {
		ev |= EventWrite
	}
	return ev
}

func (c *Connection) reset() {
	*c = Connection{
		Slot:      c.Slot,
		ClientFD:  -1,
		BackendFD: -1,
		State:     StateEmpty,
		ToBackend: c.ToBackend[:0],
		ToClient:  c.ToClient[:0],
	}
}
