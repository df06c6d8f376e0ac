package domain

import "net/netip"

// Table is a fixed-capacity arena of connection slots. Free slots are kept
// on a stack and occupied ones in a dense active list, so allocation,
// release and lookup are O(1) and enumeration is O(active).
type Table struct {
	slots  []Connection
	free   []int
	active []int
	pos    []int // slot -> index in active, -1 when free
	byFD   map[int]*Connection
}

func NewTable(capacity int) *Table {
	t := &Table{
		slots:  make([]Connection, capacity),
		free:   make([]int, 0, capacity),
		active: make([]int, 0, capacity),
		pos:    make([]int, capacity),
		byFD:   make(map[int]*Connection, 2*capacity),
	}
	for i := range t.slots {
		t.slots[i].Slot = i
		t.slots[i].reset()
		t.pos[i] = -1
	}
	// lowest index on top
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

func (t *Table) Cap() int { return len(t.slots) }
func (t *Table) Len() int { return len(t.active) }

// Allocate takes a free slot for an accepted client. The slot starts in
// StateConnecting with no backend descriptor.
func (t *Table) Allocate(clientFD int, peer netip.AddrPort) (*Connection, error) {
	if len(t.free) == 0 {
		return nil, ErrTableFull
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	t.pos[idx] = len(t.active)
	t.active = append(t.active, idx)

	c := &t.slots[idx]
	c.ClientFD = clientFD
	c.Peer = peer
	c.State = StateConnecting
	t.byFD[clientFD] = c
	return c, nil
}

// Attach records the backend descriptor once the dial has been issued.
func (t *Table) Attach(c *Connection, backendFD int, target netip.AddrPort) {
	c.BackendFD = backendFD
	c.Target = target
	c.State = StateRelaying
	t.byFD[backendFD] = c
}

// Lookup returns the live connection owning fd, or nil.
func (t *Table) Lookup(fd int) *Connection {
	return t.byFD[fd]
}

// Release empties the slot and returns the descriptors it held (-1 when
// unset). The caller closes them.
func (t *Table) Release(c *Connection) (clientFD, backendFD int) {
	idx := c.Slot
	if c.State == StateEmpty || t.pos[idx] < 0 {
		return -1, -1
	}
	clientFD, backendFD = c.ClientFD, c.BackendFD
	if clientFD >= 0 {
		delete(t.byFD, clientFD)
	}
	if backendFD >= 0 {
		delete(t.byFD, backendFD)
	}

	// swap-remove from the active list
	i := t.pos[idx]
	last := t.active[len(t.active)-1]
	t.active[i] = last
	t.pos[last] = i
	t.active = t.active[:len(t.active)-1]
	t.pos[idx] = -1

	c.reset()
	t.free = append(t.free, idx)
	return clientFD, backendFD
}

// Each calls fn for every occupied slot. fn may release the connection it
// is handed; it must not release others.
func (t *Table) Each(fn func(*Connection)) {
	for i := len(t.active) - 1; i >= 0; i-- {
		fn(&t.slots[t.active[i]])
	}
}
