package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/pool"
)

// upstreamBufferPool reduces allocations for replies arriving on an
// upstream UDP socket.
var upstreamBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	return &buf
})

// ReplyHandlerFunc processes one reply datagram from an upstream
// resolver.
type ReplyHandlerFunc func(msg []byte)

// UpstreamUDP is one of the forwarder's long-lived outbound UDP sockets
// (probe, cn, trusted), each dialed to a single fixed remote address
// for the life of the process. Using a connected UDP socket (net.Dial)
// means Write always targets that one address and Read only ever
// returns datagrams from it, the kernel-level equivalent of a
// sendto/recvfrom pair bound to one peer.
type UpstreamUDP struct {
	Logger  *slog.Logger
	OnReply ReplyHandlerFunc

	conn net.Conn
	wg   sync.WaitGroup
}

// DialUpstreamUDP opens a connected UDP socket to addr.
func DialUpstreamUDP(addr string) (*UpstreamUDP, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UpstreamUDP{conn: conn}, nil
}

// Run starts the receive loop and blocks until ctx is cancelled.
func (u *UpstreamUDP) Run(ctx context.Context) {
	u.wg.Add(1)
	defer u.wg.Done()

	go func() {
		<-ctx.Done()
		_ = u.conn.Close()
	}()

	for {
		bufPtr := upstreamBufferPool.Get()
		buf := *bufPtr
		// A single Read here silently discards anything past
		// dnswire.MaxIncomingMessageSize if an upstream ever replies
		// with a larger datagram. That can't happen from a well-behaved
		// upstream today: every query this forwarder sends upstream is
		// resynthesized by internal/forwarder.buildQuery, which never
		// emits an EDNS0 OPT record, so there is no advertised payload
		// size an upstream could honor above the classic 512-byte
		// UDP reply limit.
		n, err := u.conn.Read(buf)
		if err != nil {
			upstreamBufferPool.Put(bufPtr)
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		upstreamBufferPool.Put(bufPtr)

		if u.OnReply != nil {
			u.OnReply(msg)
		}
	}
}

// Send writes msg to the upstream, logging on error: a transient
// upstream I/O error is logged and the leg abandoned; the client query
// is eventually reclaimed by the query table's TTL.
func (u *UpstreamUDP) Send(msg []byte) error {
	_, err := u.conn.Write(msg)
	if err != nil && u.Logger != nil {
		u.Logger.Warn("upstream udp send failed", "addr", u.conn.RemoteAddr(), "err", err)
	}
	return err
}

// Close closes the socket and waits for the receive loop to exit.
func (u *UpstreamUDP) Close() error {
	err := u.conn.Close()
	u.wg.Wait()
	return err
}
