package forwarder

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/sansdns/sans-forward/internal/config"
	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/querytable"
	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/verdict"
	"github.com/stretchr/testify/require"
)

// buildTestReply constructs a minimal reply to a query with the given
// id: one question (qname/qtype) and, if ancount is 1, one answer RR of
// answerType whose name is a compression pointer back to the question.
// The forwarder only ever reads the id, the question name, and the
// first answer's type, so RDATA is omitted.
func buildTestReply(t *testing.T, id uint16, qname string, qtype uint16, ancount int, answerType uint16) []byte {
	t.Helper()
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(buf, qname, qtype)
	require.NoError(t, err)
	msg := append([]byte{}, buf[:n]...)
	require.NoError(t, dnswire.SetID(msg, id))

	binary.BigEndian.PutUint16(msg[2:4], 0x8180) // QR=1, RD=1, RA=1
	if ancount == 0 {
		return msg
	}
	binary.BigEndian.PutUint16(msg[6:8], 1)
	answer := []byte{0xC0, 0x0C} // pointer to offset 12 (the question name)
	answer = binary.BigEndian.AppendUint16(answer, answerType)
	answer = binary.BigEndian.AppendUint16(answer, dnswire.ClassIN)
	answer = binary.BigEndian.AppendUint32(answer, 300)
	answer = binary.BigEndian.AppendUint16(answer, 0) // RDLENGTH=0
	return append(msg, answer...)
}

// echoUDPServer replies to every datagram it receives by calling build
// with the incoming message's id, until ctx is cancelled.
func echoUDPServer(t *testing.T, ctx context.Context, build func(id uint16) []byte) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		buf := make([]byte, dnswire.MaxIncomingMessageSize)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			id, err := dnswire.GetID(buf[:n])
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(build(id), peer)
		}
	}()
	return conn
}

// echoTCPServer replies to the single framed query on each accepted
// connection by calling build with its id, then closes the connection.
func echoTCPServer(t *testing.T, ctx context.Context, build func(id uint16) []byte) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				msg, err := server.ReadTCPMessage(conn, dnswire.MaxIncomingMessageSize)
				if err != nil {
					return
				}
				id, err := dnswire.GetID(msg)
				if err != nil {
					return
				}
				_ = server.WriteTCPMessage(conn, build(id))
			}()
		}
	}()
	return ln
}

func newTestForwarder(t *testing.T, probe, cn *net.UDPConn, trustedTCP net.Listener) *Forwarder {
	t.Helper()
	probeAddr := probe.LocalAddr().(*net.UDPAddr)
	cnAddr := cn.LocalAddr().(*net.UDPAddr)
	trustedAddr := trustedTCP.Addr().(*net.TCPAddr)

	cfg := &config.Config{
		Probe: config.ProbeConfig{
			Server:     config.Endpoint{Addr: "127.0.0.1", Port: probeAddr.Port},
			SignalType: uint16(dnswire.TypeA),
		},
		CNServer:      config.Endpoint{Addr: "127.0.0.1", Port: cnAddr.Port},
		TrustedServer: config.Endpoint{Addr: "127.0.0.1", Port: trustedAddr.Port},
	}

	fwd, err := New(cfg, nil, server.NewDNSStats())
	require.NoError(t, err)
	return fwd
}

// udpClientHarness simulates a client socket pair: serverConn is handed
// to the forwarder as the "listening socket" it writes replies to;
// clientConn is read from to observe what the client actually receives.
type udpClientHarness struct {
	serverConn *net.UDPConn
	clientConn *net.UDPConn
}

func newUDPClientHarness(t *testing.T) *udpClientHarness {
	t.Helper()
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return &udpClientHarness{serverConn: serverConn, clientConn: clientConn}
}

func (h *udpClientHarness) close() {
	h.serverConn.Close()
	h.clientConn.Close()
}

func (h *udpClientHarness) readReply(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, h.clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := h.clientConn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestForwarder_S1_CacheMissUnpoisoned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := echoUDPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "example.com", uint16(dnswire.TypeSOA), 0, 0)
	})
	cn := echoUDPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "example.com", uint16(dnswire.TypeA), 1, uint16(dnswire.TypeA))
	})
	trustedCalled := make(chan struct{}, 1)
	trustedTCP := echoTCPServer(t, ctx, func(id uint16) []byte {
		select {
		case trustedCalled <- struct{}{}:
		default:
		}
		return buildTestReply(t, id, "example.com", uint16(dnswire.TypeA), 1, uint16(dnswire.TypeA))
	})

	fwd := newTestForwarder(t, probe, cn, trustedTCP)
	go fwd.Run(ctx)

	harness := newUDPClientHarness(t)
	defer harness.close()

	query := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(query, "example.com", uint16(dnswire.TypeA))
	require.NoError(t, err)
	require.NoError(t, dnswire.SetID(query, 0x1234))

	fwd.OnQuery(ctx, server.QueryEvent{
		Proto:      querytable.ProtoUDP,
		RawMsg:     query[:n],
		UDPConn:    harness.serverConn,
		ClientAddr: harness.clientConn.LocalAddr(),
	})

	reply := harness.readReply(t)
	gotID, err := dnswire.GetID(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), gotID)

	entry, ok := fwd.Cache.Search(verdictKey("example.com"))
	require.True(t, ok)
	require.False(t, entry.Blocked)

	select {
	case <-trustedCalled:
		t.Fatal("trusted server should not be contacted on the clean path")
	default:
	}
}

func TestForwarder_S2_CacheMissPoisoned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := echoUDPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "twitter.com", uint16(dnswire.TypeSOA), 1, uint16(dnswire.TypeA))
	})
	cnCalled := make(chan struct{}, 1)
	cn := echoUDPServer(t, ctx, func(id uint16) []byte {
		select {
		case cnCalled <- struct{}{}:
		default:
		}
		return buildTestReply(t, id, "twitter.com", uint16(dnswire.TypeA), 1, uint16(dnswire.TypeA))
	})
	trustedTCP := echoTCPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "twitter.com", uint16(dnswire.TypeA), 1, uint16(dnswire.TypeA))
	})

	fwd := newTestForwarder(t, probe, cn, trustedTCP)
	go fwd.Run(ctx)

	harness := newUDPClientHarness(t)
	defer harness.close()

	query := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(query, "twitter.com", uint16(dnswire.TypeA))
	require.NoError(t, err)
	require.NoError(t, dnswire.SetID(query, 0xBEEF))

	fwd.OnQuery(ctx, server.QueryEvent{
		Proto:      querytable.ProtoUDP,
		RawMsg:     query[:n],
		UDPConn:    harness.serverConn,
		ClientAddr: harness.clientConn.LocalAddr(),
	})

	reply := harness.readReply(t)
	gotID, err := dnswire.GetID(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), gotID)

	entry, ok := fwd.Cache.Search(verdictKey("twitter.com"))
	require.True(t, ok)
	require.True(t, entry.Blocked)

	select {
	case <-cnCalled:
		t.Fatal("cn server should not be contacted on the poisoned path")
	default:
	}
}

func TestForwarder_S4_CacheHitSkipsProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probeCalled := make(chan struct{}, 1)
	probe := echoUDPServer(t, ctx, func(id uint16) []byte {
		select {
		case probeCalled <- struct{}{}:
		default:
		}
		return buildTestReply(t, id, "example.com", uint16(dnswire.TypeSOA), 0, 0)
	})
	cn := echoUDPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "example.com", uint16(dnswire.TypeAAAA), 1, uint16(dnswire.TypeAAAA))
	})
	trustedTCP := echoTCPServer(t, ctx, func(id uint16) []byte { return nil })

	fwd := newTestForwarder(t, probe, cn, trustedTCP)
	fwd.Cache.Insert(verdictKey("example.com"), verdict.Entry{Blocked: false, TTL: 100})

	go fwd.Run(ctx)

	harness := newUDPClientHarness(t)
	defer harness.close()

	query := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(query, "example.com", uint16(dnswire.TypeAAAA))
	require.NoError(t, err)
	require.NoError(t, dnswire.SetID(query, 0x5555))

	fwd.OnQuery(ctx, server.QueryEvent{
		Proto:      querytable.ProtoUDP,
		RawMsg:     query[:n],
		UDPConn:    harness.serverConn,
		ClientAddr: harness.clientConn.LocalAddr(),
	})

	reply := harness.readReply(t)
	gotID, err := dnswire.GetID(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0x5555), gotID)

	select {
	case <-probeCalled:
		t.Fatal("probe should not be contacted on a cache hit")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestForwarder_S5_PTRBypassesProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probeCalled := make(chan struct{}, 1)
	probe := echoUDPServer(t, ctx, func(id uint16) []byte {
		select {
		case probeCalled <- struct{}{}:
		default:
		}
		return buildTestReply(t, id, "1.0.0.127.in-addr.arpa", uint16(dnswire.TypeSOA), 0, 0)
	})
	cn := echoUDPServer(t, ctx, func(id uint16) []byte {
		return buildTestReply(t, id, "1.0.0.127.in-addr.arpa", uint16(dnswire.TypePTR), 1, uint16(dnswire.TypePTR))
	})
	trustedTCP := echoTCPServer(t, ctx, func(id uint16) []byte { return nil })

	fwd := newTestForwarder(t, probe, cn, trustedTCP)
	go fwd.Run(ctx)

	harness := newUDPClientHarness(t)
	defer harness.close()

	query := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := dnswire.MakeQuery(query, "1.0.0.127.in-addr.arpa", uint16(dnswire.TypePTR))
	require.NoError(t, err)
	require.NoError(t, dnswire.SetID(query, 0x7777))

	fwd.OnQuery(ctx, server.QueryEvent{
		Proto:      querytable.ProtoUDP,
		RawMsg:     query[:n],
		UDPConn:    harness.serverConn,
		ClientAddr: harness.clientConn.LocalAddr(),
	})

	reply := harness.readReply(t)
	gotID, err := dnswire.GetID(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0x7777), gotID)

	select {
	case <-probeCalled:
		t.Fatal("PTR queries must bypass probing")
	case <-time.After(200 * time.Millisecond):
	}

	_, ok := fwd.Cache.Search(verdictKey("1.0.0.127.in-addr.arpa"))
	require.False(t, ok, "PTR bypass must not write a verdict")
}
