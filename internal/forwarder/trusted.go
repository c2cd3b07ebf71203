package forwarder

import (
	"context"
	"net"
	"time"

	"github.com/sansdns/sans-forward/internal/querytable"
	"github.com/sansdns/sans-forward/internal/server"
)

// trustedTCPLeg dials the trusted server (direct, or through SOCKS5
// when configured), sends a freshly synthesized query for qctx's
// qname/qtype framed, reads the single framed reply, and hands it to
// onReply. A connect failure deletes the context
// silently since there is no reply path left to report the failure on
// — the client's own retransmission, or its own resolver timeout, is
// the only recovery.
//
// This runs as a single goroutine making blocking calls rather than a
// write-watcher-then-read-watcher callback chain over a non-blocking
// socket: the goroutine itself is the continuation.
func (f *Forwarder) trustedTCPLeg(ctx context.Context, qctx *querytable.QueryContext) {
	dialCtx, cancel := context.WithTimeout(ctx, trustedDialTimeout)
	defer cancel()

	conn, err := f.dialTrusted(dialCtx)
	if err != nil {
		f.Logger.Warn("trusted upstream connect failed", "qname", qctx.QName, "err", err)
		f.Stats.RecordUpstreamError()
		f.abandon(qctx)
		return
	}
	defer conn.Close()

	msg, err := buildQuery(qctx.QName, qctx.QType, qctx.CurID)
	if err != nil {
		f.Logger.Warn("building trusted query failed", "qname", qctx.QName, "err", err)
		f.abandon(qctx)
		return
	}

	_ = conn.SetDeadline(time.Now().Add(trustedIOTimeout))

	reply, err := server.QueryOverConn(conn, msg, trustedMaxReplySize)
	if err != nil {
		f.Logger.Warn("trusted upstream query failed", "qname", qctx.QName, "err", err)
		f.Stats.RecordUpstreamError()
		f.abandon(qctx)
		return
	}

	f.onReply(reply)
}

// dialTrusted opens a TCP connection to the trusted server, tunneled
// through SOCKS5 when configured.
func (f *Forwarder) dialTrusted(ctx context.Context) (net.Conn, error) {
	if f.SOCKS5 != nil {
		return f.SOCKS5.Dial(ctx, f.TrustedAddr)
	}
	return f.TrustedDialer.DialContext(ctx, "tcp", f.TrustedAddr.String())
}

// abandon removes qctx from the table and releases its client
// connection, for a query that will never receive a reply.
func (f *Forwarder) abandon(qctx *querytable.QueryContext) {
	f.Table.Delete(qctx.CurID)
	if qctx.Proto == querytable.ProtoTCP && qctx.ClientConn != nil {
		_ = qctx.ClientConn.Close()
	}
}
