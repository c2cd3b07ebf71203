package forwarder

import (
	"context"
	"strings"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/querytable"
	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/verdict"
)

// verdictKey builds the synthetic cache key for name, tagged with a
// type value that never collides with a real DNS record type so
// classification rows never alias actual DNS records. Names are
// lowercased before lookup and insert so
// "Example.com" and "example.com" share one verdict.
func verdictKey(name string) verdict.Key {
	return verdict.Key{Name: strings.ToLower(name), Type: uint16(dnswire.TypeBlock)}
}

// OnQuery is the server.QueryHandlerFunc wired to both the UDP and TCP
// client-facing listeners. It allocates a query context, bypasses
// classification for PTR lookups, consults the verdict cache, and
// either dispatches immediately or falls through to a
// probe.
func (f *Forwarder) OnQuery(ctx context.Context, evt server.QueryEvent) {
	transport := "udp"
	if evt.Proto == querytable.ProtoTCP {
		transport = "tcp"
	}
	f.Stats.RecordQuery(transport)

	origID, err := dnswire.GetID(evt.RawMsg)
	if err != nil {
		f.Logger.Warn("dropping query with no transaction id", "err", err)
		f.Stats.RecordDroppedParse()
		closeIfTCP(evt)
		return
	}
	qname, qtype, err := dnswire.ParseQuery(evt.RawMsg)
	if err != nil {
		f.Logger.Warn("dropping unparsable query", "err", err)
		f.Stats.RecordDroppedParse()
		closeIfTCP(evt)
		return
	}

	qctx := &querytable.QueryContext{
		OrigID:     origID,
		Proto:      evt.Proto,
		UDPConn:    evt.UDPConn,
		ClientAddr: evt.ClientAddr,
		ClientConn: evt.ClientConn,
		QName:      qname,
		QType:      qtype,
		RawMsg:     evt.RawMsg,
		TTL:        querytable.DefaultTTLTicks,
	}

	if err := f.Table.Add(qctx); err != nil {
		f.Logger.Warn("query table full, dropping query", "qname", qname)
		f.Stats.RecordDroppedFull()
		closeIfTCP(evt)
		return
	}

	if dnswire.RecordType(qtype) == dnswire.TypePTR {
		f.dispatchClean(qctx)
		return
	}

	if entry, ok := f.Cache.Search(verdictKey(qname)); ok {
		f.Stats.RecordCacheHit()
		if entry.Blocked {
			f.dispatchTrusted(ctx, qctx)
		} else {
			f.dispatchClean(qctx)
		}
		return
	}

	f.dispatchProbe(qctx)
}

// closeIfTCP closes a TCP client connection for a query that was
// rejected before it ever entered the query table, so it isn't leaked
// until some unrelated Tick eventually notices it. UDP has no
// connection to release.
func closeIfTCP(evt server.QueryEvent) {
	if evt.Proto == querytable.ProtoTCP && evt.ClientConn != nil {
		_ = evt.ClientConn.Close()
	}
}

// buildQuery synthesizes a fresh minimal DNS query for qname/qtype
// stamped with id. Every upstream-bound message is built this way
// rather than forwarding the client's raw bytes, so a client-supplied
// EDNS0 OPT record advertising a UDP payload size larger than this
// forwarder's fixed receive buffer never reaches an upstream: MakeQuery
// never emits one.
func buildQuery(qname string, qtype uint16, id uint16) ([]byte, error) {
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(buf, qname, qtype)
	if err != nil {
		return nil, err
	}
	msg := buf[:n]
	if err := dnswire.SetID(msg, id); err != nil {
		return nil, err
	}
	return msg, nil
}

// dispatchProbe rewrites qctx's id, synthesizes an SOA probe query for
// its name under that new id, and sends it to the probe resolver.
func (f *Forwarder) dispatchProbe(qctx *querytable.QueryContext) {
	if err := f.Table.NewID(qctx); err != nil {
		f.Logger.Warn("assigning probe id failed", "qname", qctx.QName, "err", err)
		return
	}

	soaMsg, err := buildQuery(qctx.QName, uint16(dnswire.TypeSOA), qctx.CurID)
	if err != nil {
		f.Logger.Warn("building probe query failed", "qname", qctx.QName, "err", err)
		f.Table.Delete(qctx.CurID)
		return
	}

	f.Stats.RecordProbe()
	if err := f.Probe.Send(soaMsg); err != nil {
		f.Stats.RecordUpstreamError()
	}
}

// dispatchClean synthesizes a fresh query for qctx's qname/qtype under
// its current id and forwards it to the cn resolver. Shared by the
// cache-hit blocked=false path, the PTR bypass, and a clean probe
// classification.
func (f *Forwarder) dispatchClean(qctx *querytable.QueryContext) {
	msg, err := buildQuery(qctx.QName, qctx.QType, qctx.CurID)
	if err != nil {
		f.Logger.Warn("building clean query failed", "qname", qctx.QName, "err", err)
		f.abandon(qctx)
		return
	}
	if err := f.CN.Send(msg); err != nil {
		f.Stats.RecordUpstreamError()
	}
}

// dispatchTrusted routes a freshly synthesized query for qctx's
// qname/qtype to the trusted resolver: over UDP when NSPResolver is
// set, otherwise over a per-query TCP connection (direct or
// SOCKS5-tunneled).
func (f *Forwarder) dispatchTrusted(ctx context.Context, qctx *querytable.QueryContext) {
	if f.NSPResolver {
		msg, err := buildQuery(qctx.QName, qctx.QType, qctx.CurID)
		if err != nil {
			f.Logger.Warn("building trusted query failed", "qname", qctx.QName, "err", err)
			f.abandon(qctx)
			return
		}
		if err := f.Trusted.Send(msg); err != nil {
			f.Stats.RecordUpstreamError()
		}
		return
	}
	go f.trustedTCPLeg(ctx, qctx)
}

// onProbeReply is the server.ReplyHandlerFunc wired to the probe
// upstream socket. It classifies by the first answer's type, caches
// the verdict, then dispatches the original query down the classified
// path under a fresh id.
func (f *Forwarder) onProbeReply(msg []byte) {
	id, err := dnswire.GetID(msg)
	if err != nil {
		f.Stats.RecordDroppedParse()
		return
	}
	qctx, ok := f.Table.Search(id)
	if !ok {
		return // late or unknown reply; drop silently
	}

	_, answerType, err := dnswire.ParseReply(msg)
	if err != nil {
		f.Logger.Warn("dropping malformed probe reply", "qname", qctx.QName, "err", err)
		f.Stats.RecordDroppedParse()
		return
	}

	blocked := answerType == f.ProbeSignalType
	f.Cache.Insert(verdictKey(qctx.QName), verdict.Entry{Blocked: blocked, TTL: verdict.DefaultTTL})
	f.Stats.RecordClassification(blocked)

	if err := f.Table.NewID(qctx); err != nil {
		f.Logger.Warn("assigning post-probe id failed", "qname", qctx.QName, "err", err)
		return
	}

	if blocked {
		f.dispatchTrusted(f.baseCtx, qctx)
	} else {
		f.dispatchClean(qctx)
	}
}

// onReply is the server.ReplyHandlerFunc wired to the cn upstream
// socket and (when NSPResolver is set) the trusted upstream socket. It
// also serves as the final step of the trusted TCP/SOCKS5 leg:
// restore the client's original id, write the reply back over the
// original transport, and release the context.
func (f *Forwarder) onReply(msg []byte) {
	id, err := dnswire.GetID(msg)
	if err != nil {
		f.Stats.RecordDroppedParse()
		return
	}
	qctx, ok := f.Table.Search(id)
	if !ok {
		return // late reply for an id no longer in the table; drop
	}
	f.Table.Delete(id)

	if err := dnswire.SetID(msg, qctx.OrigID); err != nil {
		f.Stats.RecordDroppedParse()
		if qctx.Proto == querytable.ProtoTCP && qctx.ClientConn != nil {
			_ = qctx.ClientConn.Close()
		}
		return
	}

	switch qctx.Proto {
	case querytable.ProtoUDP:
		out := msg
		if len(out) > dnswire.MaxIncomingMessageSize {
			out = server.TruncateUDPResponse(out, dnswire.MaxIncomingMessageSize)
		}
		if _, err := qctx.UDPConn.WriteTo(out, qctx.ClientAddr); err != nil {
			f.Logger.Warn("writing reply to udp client failed", "err", err)
		}
	case querytable.ProtoTCP:
		if err := server.WriteTCPMessage(qctx.ClientConn, msg); err != nil {
			f.Logger.Warn("writing reply to tcp client failed", "err", err)
		}
		_ = qctx.ClientConn.Close()
	}
}
