// Package server implements the DNS I/O component: framed send/receive
// of DNS messages over UDP and TCP, for both the client-facing listeners
// and the upstream legs the forwarder core dials out on.
//
// Goroutine model: client-facing listeners use one socket per CPU core
// (SO_REUSEPORT) so the kernel load-balances across cores without
// userspace coordination; each socket is read by a single persistent
// goroutine, which also handles each UDP query it reads. Every accepted
// TCP connection gets its own goroutine. All of them are coordinated
// through a context.Context rather than a single-threaded readiness loop.
package server

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenUDPReusePort opens a UDP socket with SO_REUSEPORT set, so
// multiple sockets can share the same listen address across CPU cores.
func listenUDPReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// listenTCPReusePort opens a TCP listener with SO_REUSEPORT set.
func listenTCPReusePort(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}

// remoteIPString extracts the bare IP from a net.Addr, for per-IP
// bookkeeping (rate limiting, connection counting).
func remoteIPString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}
