package querytable

import (
	"math/rand/v2"
	"net"
	"sync"

	"github.com/sansdns/sans-forward/internal/dnswire"
)

// DefaultCapacity is the fixed ceiling on simultaneously in-flight
// queries. Exceeding it is not a programming error: it is an expected
// back-pressure condition under load, and Add returns ErrFull rather than
// panicking.
const DefaultCapacity = 128

// DefaultTTLTicks is the number of 1 Hz ticks a context survives without
// a matching reply before Tick garbage-collects it.
const DefaultTTLTicks = 6

// Proto identifies which transport a client used to submit a query, and
// therefore which transport its reply must go back over.
type Proto int

const (
	ProtoUDP Proto = iota
	ProtoTCP
)

// QueryContext is the state kept for one in-flight client query.
// Ownership is exclusively the Table's, and Delete is the single
// destruction point.
type QueryContext struct {
	// OrigID is the 16-bit transaction id the client sent.
	OrigID uint16
	// CurID is the id currently on the wire to whichever upstream this
	// context is waiting on. It is also this context's key in the
	// Table.
	CurID uint16

	Proto Proto
	// UDPConn and ClientAddr are set when Proto is ProtoUDP: the shared
	// listener socket and the peer to reply to.
	UDPConn    net.PacketConn
	ClientAddr net.Addr
	// ClientConn is set when Proto is ProtoTCP: the per-query connection,
	// closed after the single reply is written.
	ClientConn net.Conn

	QName string
	QType uint16

	// RawMsg is the original query bytes, mutated in place by NewID when
	// this context's id is remapped for an upstream leg.
	RawMsg []byte

	// TTL counts down once per reactor tick; the context is
	// garbage-collected when it reaches zero regardless of whether a
	// reply is still outstanding.
	TTL int
}

// Table is the fixed-capacity set of active query contexts, keyed by
// CurID. It is safe for concurrent use: the forwarder core runs query
// handling across many goroutines rather than a single reactor thread, so
// every operation here takes the table's mutex.
type Table struct {
	mu       sync.Mutex
	entries  map[uint16]*QueryContext
	capacity int
}

// New creates a Table with the given capacity.
func New(capacity int) *Table {
	return &Table{
		entries:  make(map[uint16]*QueryContext, capacity),
		capacity: capacity,
	}
}

// Add inserts ctx into the table, assigning it a fresh, collision-free
// CurID (overwriting any value already set on ctx) and stamping that id
// into ctx.RawMsg. It returns ErrFull once the table holds capacity
// entries.
func (t *Table) Add(ctx *QueryContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.capacity {
		return ErrFull
	}
	id := t.freshIDLocked()
	ctx.CurID = id
	if ctx.RawMsg != nil {
		_ = dnswire.SetID(ctx.RawMsg, id)
	}
	t.entries[id] = ctx
	return nil
}

// Search returns the context registered under id, if any.
func (t *Table) Search(id uint16) (*QueryContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, ok := t.entries[id]
	return ctx, ok
}

// NewID reassigns ctx's CurID to a fresh, collision-free value, rewrites
// the id bytes of ctx.RawMsg, and re-keys the table entry. It is used
// each time a context's query is re-sent to a different upstream leg
// (probe dispatch, then post-probe dispatch of the original query).
func (t *Table) NewID(ctx *QueryContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[ctx.CurID]; !ok {
		return ErrNotFound
	}
	delete(t.entries, ctx.CurID)
	id := t.freshIDLocked()
	ctx.CurID = id
	if ctx.RawMsg != nil {
		_ = dnswire.SetID(ctx.RawMsg, id)
	}
	t.entries[id] = ctx
	return nil
}

// Delete removes the context registered under id, if any. It is the
// only place a QueryContext is released.
func (t *Table) Delete(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len reports the number of active contexts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Tick decrements every context's TTL by one and deletes those that
// reach zero, regardless of whether a reply is still expected for them.
// It returns the contexts that were garbage-collected (not just their
// ids) so callers can release any resources the context still holds —
// notably a TCP QueryContext's ClientConn, which nothing else closes if
// no reply ever arrives.
func (t *Table) Tick() []*QueryContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*QueryContext
	for id, ctx := range t.entries {
		ctx.TTL--
		if ctx.TTL <= 0 {
			expired = append(expired, ctx)
			delete(t.entries, id)
		}
	}
	return expired
}

// freshIDLocked returns a non-zero id not currently in use. Caller must
// hold t.mu.
func (t *Table) freshIDLocked() uint16 {
	for {
		id := uint16(rand.UintN(1 << 16)) //nolint:gosec // classification nonce, not a security boundary
		if id == 0 {
			continue
		}
		if _, exists := t.entries[id]; !exists {
			return id
		}
	}
}
