// Package forwarder implements the forwarder core: accept client
// queries, classify their domain by probing, dispatch to the
// probe/cn/trusted upstream, remap transaction ids, and return replies.
//
// Rather than wiring this as callbacks dispatched from a single
// reactor thread sharing one set of process globals, this package
// spreads query handling across however many goroutines the I/O layer
// (internal/server) hands queries in on, and keeps correctness by
// pushing all shared mutable state into internal/querytable.Table and
// internal/verdict.Cache, which are themselves safe for concurrent use.
// A Forwarder has no other shared state: everything else (upstream
// sockets, the SOCKS5 client, configuration) is read-only after New
// returns and initialized only at startup.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sansdns/sans-forward/internal/config"
	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/sansdns/sans-forward/internal/helpers"
	"github.com/sansdns/sans-forward/internal/querytable"
	"github.com/sansdns/sans-forward/internal/reactor"
	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/socks5"
	"github.com/sansdns/sans-forward/internal/verdict"
)

// trustedDialTimeout and trustedIOTimeout bound the per-query TCP/SOCKS5
// leg to the trusted server: a 3 second send/receive timeout on every
// outbound socket used for a single query/reply cycle.
const (
	trustedDialTimeout = 3 * time.Second
	trustedIOTimeout   = 3 * time.Second

	// trustedMaxReplySize is the cap on a trusted-server TCP reply.
	// TCP replies are not bound by the 2048-byte UDP cap.
	trustedMaxReplySize = 0xFFFF
)

// Forwarder is the forwarder core. Construct with New, then call Run.
type Forwarder struct {
	Logger *slog.Logger
	Stats  *server.DNSStats

	Table *querytable.Table
	Cache *verdict.Cache

	// ProbeSignalType is the RR type that marks a probe reply as
	// disclosing a poisoned path (answer type == A, by default).
	// Parameterized since a different probe resolver might signal
	// poisoning with a different answer type.
	ProbeSignalType dnswire.RecordType

	// NSPResolver selects the UDP path for the trusted server instead
	// of TCP/SOCKS5.
	NSPResolver bool

	// Probe and CN are the two always-present long-lived upstream UDP
	// sockets. Trusted is non-nil only when NSPResolver is set; the TCP/
	// SOCKS5 legs otherwise dial per-query.
	Probe   *server.UpstreamUDP
	CN      *server.UpstreamUDP
	Trusted *server.UpstreamUDP

	// TrustedDialer and TrustedAddr serve the trusted TCP path: direct
	// dial when SOCKS5 is nil, a SOCKS5 CONNECT tunnel otherwise.
	TrustedDialer net.Dialer
	TrustedAddr   netip.AddrPort
	SOCKS5        *socks5.Client

	ticker *reactor.Ticker

	// baseCtx is the process-lifetime shutdown context, stashed by Run
	// for the one code path that needs to start work (a trusted TCP
	// dial) outside of a call already carrying a context: probe-reply
	// handling, which server.ReplyHandlerFunc does not thread one
	// through. Every other context.Context in this package flows
	// through the call stack normally.
	baseCtx context.Context
}

// New resolves the configured upstreams, opens the two always-on
// upstream UDP sockets (and, when cfg.NSPResolver is set, the third),
// and returns a Forwarder ready for Run. It does not open the client-
// facing listeners: those are internal/server's job, wired to this
// Forwarder's OnQuery as their callback.
func New(cfg *config.Config, logger *slog.Logger, stats *server.DNSStats) (*Forwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = server.NewDNSStats()
	}

	probe, err := server.DialUpstreamUDP(cfg.Probe.Server.String())
	if err != nil {
		return nil, fmt.Errorf("forwarder: dialing probe upstream: %w", err)
	}
	probe.Logger = logger

	cn, err := server.DialUpstreamUDP(cfg.CNServer.String())
	if err != nil {
		probe.Close()
		return nil, fmt.Errorf("forwarder: dialing cn upstream: %w", err)
	}
	cn.Logger = logger

	f := &Forwarder{
		Logger:          logger,
		Stats:           stats,
		Table:           querytable.New(querytable.DefaultCapacity),
		Cache:           verdict.New(),
		ProbeSignalType: dnswire.RecordType(cfg.Probe.SignalType),
		NSPResolver:     cfg.NSPResolver,
		Probe:           probe,
		CN:              cn,
		// Overwritten by Run with the real process-lifetime context;
		// defaulted here so a probe reply racing Run's first line never
		// dereferences a nil context.
		baseCtx: context.Background(),
	}
	f.Probe.OnReply = f.onProbeReply
	f.CN.OnReply = f.onReply

	trustedAddr, err := resolveAddrPort(cfg.TrustedServer.Addr, cfg.TrustedServer.Port)
	if err != nil {
		probe.Close()
		cn.Close()
		return nil, fmt.Errorf("forwarder: resolving trusted upstream: %w", err)
	}
	f.TrustedAddr = trustedAddr

	if cfg.NSPResolver {
		trusted, err := server.DialUpstreamUDP(cfg.TrustedServer.String())
		if err != nil {
			probe.Close()
			cn.Close()
			return nil, fmt.Errorf("forwarder: dialing trusted upstream: %w", err)
		}
		trusted.Logger = logger
		trusted.OnReply = f.onReply
		f.Trusted = trusted
	}

	if cfg.SOCKS5.Enabled() {
		f.SOCKS5 = &socks5.Client{ProxyAddr: cfg.SOCKS5.Endpoint()}
	}

	f.ticker = reactor.New(logger, f.tick)

	return f, nil
}

// resolveAddrPort resolves addr to a concrete IP and pairs it with
// port, satisfying the SOCKS5 client's requirement of a concrete ATYP
// target (never a domain name). port is already config-validated to
// 1..65535, but it
// arrives as an int (viper's native type for a scalar config value), so
// it's clamped rather than bare-cast on its way to the wire-level
// uint16 every other port in this package is expressed in.
func resolveAddrPort(addr string, port int) (netip.AddrPort, error) {
	p := helpers.ClampIntToUint16(port)
	if ip, err := netip.ParseAddr(addr); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), p), nil
	}
	ipAddr, err := net.ResolveIPAddr("ip", addr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, ok := netip.AddrFromSlice(ipAddr.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("could not convert resolved address %s to netip.Addr", ipAddr.IP)
	}
	return netip.AddrPortFrom(ip.Unmap(), p), nil
}

// Run starts the upstream receive loops and the 1 Hz aging tick, and
// blocks until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	f.baseCtx = ctx

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	start(f.Probe.Run)
	start(f.CN.Run)
	if f.Trusted != nil {
		start(f.Trusted.Run)
	}
	start(f.ticker.Run)

	wg.Wait()
}

// tick is the reactor's 1 Hz slow path: age out query contexts whose
// TTL has expired and decrement every cached verdict's TTL. A TCP
// query context that times out without a reply still holds
// an open client connection that nothing else will close, so it is
// closed here.
func (f *Forwarder) tick() {
	for _, qctx := range f.Table.Tick() {
		if qctx.Proto == querytable.ProtoTCP && qctx.ClientConn != nil {
			_ = qctx.ClientConn.Close()
		}
	}
	f.Cache.Tick()
}
