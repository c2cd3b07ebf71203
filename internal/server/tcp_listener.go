package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/querytable"
)

// acceptTimeout is the send/recv timeout set on every accepted
// connection.
const acceptTimeout = 3 * time.Second

// maxTCPConnectionsPerIP bounds concurrent client connections per
// source IP, ahead of, and independent from, the query table's own
// capacity ceiling.
const maxTCPConnectionsPerIP = 10

// TCPListener is the client-facing TCP half of the DNS I/O component.
// One listener is opened per CPU core with SO_REUSEPORT. A TCP client
// connection serves exactly one query: after OnQuery is invoked the
// connection is handed to the forwarder core, which writes the single
// reply and closes it (or Tick closes it on a timeout if no reply ever
// arrives).
type TCPListener struct {
	Logger  *slog.Logger
	OnQuery QueryHandlerFunc

	listeners []net.Listener
	wg        sync.WaitGroup

	mu        sync.Mutex
	connPerIP map[string]int
}

// Run opens one TCP listener per CPU core on addr and blocks until ctx
// is cancelled.
func (l *TCPListener) Run(ctx context.Context, addr string) error {
	socketCount := runtime.NumCPU()
	l.listeners = make([]net.Listener, 0, socketCount)

	l.mu.Lock()
	if l.connPerIP == nil {
		l.connPerIP = map[string]int{}
	}
	l.mu.Unlock()

	for range socketCount {
		ln, err := listenTCPReusePort(ctx, addr)
		if err != nil {
			for _, existing := range l.listeners {
				_ = existing.Close()
			}
			return err
		}
		l.listeners = append(l.listeners, ln)

		listener := ln
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.acceptLoop(ctx, listener)
		}()
	}

	<-ctx.Done()
	return l.Stop(5 * time.Second)
}

func (l *TCPListener) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		ip := remoteIPString(conn.RemoteAddr())
		if !l.tryAcquireConn(ip) {
			if l.Logger != nil {
				l.Logger.WarnContext(ctx, "tcp connection limit exceeded", "ip", ip)
			}
			_ = conn.Close()
			continue
		}

		c := conn
		go l.handleAccept(ctx, c, ip)
	}
}

// handleAccept prepares an accepted connection: set SO_KEEPALIVE, set
// a timeout, then receive exactly one query.
func (l *TCPListener) handleAccept(ctx context.Context, conn net.Conn, ip string) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
	}
	_ = conn.SetDeadline(time.Now().Add(acceptTimeout))

	msg, err := ReadTCPMessage(conn, dnswire.MaxIncomingMessageSize)
	if err != nil || len(msg) == 0 {
		l.releaseConn(ip)
		_ = conn.Close()
		return
	}

	// Connection ownership now transfers to the forwarder core: it
	// closes conn after writing the reply, or Tick closes it on
	// timeout. Either way this listener's per-IP count must be
	// released when that happens, so wrap the connection to hook Close.
	l.OnQuery(ctx, QueryEvent{
		Proto:      querytable.ProtoTCP,
		RawMsg:     msg,
		ClientConn: &releasingConn{Conn: conn, release: func() { l.releaseConn(ip) }},
	})
}

// releasingConn wraps a net.Conn so the first Close() call also runs a
// release callback, regardless of which goroutine or code path performs
// the close (forwarder reply path or Tick-driven garbage collection).
type releasingConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *releasingConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}

// Stop closes every listener and waits up to timeout for accept
// goroutines to exit. In-flight per-connection goroutines are owned by
// the forwarder core past the point of OnQuery and are not waited on
// here.
func (l *TCPListener) Stop(timeout time.Duration) error {
	for _, ln := range l.listeners {
		_ = ln.Close()
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
		return errors.New("tcp listener: timeout waiting for listeners to close")
	}
}

func (l *TCPListener) tryAcquireConn(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connPerIP[ip] >= maxTCPConnectionsPerIP {
		return false
	}
	l.connPerIP[ip]++
	return true
}

func (l *TCPListener) releaseConn(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connPerIP[ip] <= 1 {
		delete(l.connPerIP, ip)
		return
	}
	l.connPerIP[ip]--
}
