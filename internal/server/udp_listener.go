package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/pool"
	"github.com/sansdns/sans-forward/internal/querytable"
)

// Socket buffer sizes for burst handling.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// clientBufferPool reduces allocations for incoming UDP datagrams. Every
// buffer is sized for the fixed cap applied to all reads.
var clientBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	return &buf
})

// QueryEvent is one inbound client query, handed from this I/O layer to
// the forwarder core. The forwarder owns the query table, so allocation
// of the QueryContext happens there, not here: this package's job ends
// at "here is a parsed-enough message and where to reply to."
type QueryEvent struct {
	Proto querytable.Proto

	RawMsg []byte

	// Set when Proto is ProtoUDP.
	UDPConn    net.PacketConn
	ClientAddr net.Addr

	// Set when Proto is ProtoTCP. The connection stays open; the
	// forwarder writes the reply to it (or Tick closes it on timeout)
	// since a TCP client connection serves exactly one query.
	ClientConn net.Conn
}

// QueryHandlerFunc processes one inbound client query.
type QueryHandlerFunc func(ctx context.Context, evt QueryEvent)

// UDPListener is the client-facing UDP half of the DNS I/O component.
// One socket is opened per CPU core with SO_REUSEPORT, each read by its
// own persistent goroutine.
type UDPListener struct {
	Logger  *slog.Logger
	Limiter *RateLimiter
	OnQuery QueryHandlerFunc

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

// Run opens one UDP socket per CPU core on addr and blocks until ctx is
// cancelled, then closes every socket and waits for in-flight
// goroutines to drain.
func (l *UDPListener) Run(ctx context.Context, addr string) error {
	socketCount := runtime.NumCPU()
	l.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenUDPReusePort(addr)
		if err != nil {
			for _, c := range l.conns {
				_ = c.Close()
			}
			return err
		}
		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)
		l.conns = append(l.conns, conn)

		c := conn
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.recvLoop(ctx, c)
		}()
	}

	<-ctx.Done()
	return l.Stop(5 * time.Second)
}

func (l *UDPListener) recvLoop(ctx context.Context, conn *net.UDPConn) {
	for {
		bufPtr := clientBufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			clientBufferPool.Put(bufPtr)
			return
		}

		if l.Limiter != nil {
			if ip, ok := netipAddrFromUDPAddr(peer); !ok || !l.Limiter.AllowAddr(ip) {
				clientBufferPool.Put(bufPtr)
				continue
			}
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		clientBufferPool.Put(bufPtr)

		if l.OnQuery != nil {
			l.OnQuery(ctx, QueryEvent{
				Proto:      querytable.ProtoUDP,
				RawMsg:     msg,
				UDPConn:    conn,
				ClientAddr: peer,
			})
		}
	}
}

// Stop closes every socket and waits up to timeout for recv goroutines
// to exit.
func (l *UDPListener) Stop(timeout time.Duration) error {
	for _, c := range l.conns {
		_ = c.Close()
	}
	if timeout <= 0 {
		l.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp listener: timeout waiting for goroutines to exit")
	}
}

// netipAddrFromUDPAddr extracts a netip.Addr from a net.UDPAddr without
// a String() allocation, for the rate limiter's fast path.
func netipAddrFromUDPAddr(addr *net.UDPAddr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
