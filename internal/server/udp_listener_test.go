package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sansdns/sans-forward/internal/querytable"
	"github.com/stretchr/testify/require"
)

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestUDPListener_DispatchesQueryAndReply(t *testing.T) {
	addr := freeUDPAddr(t)

	events := make(chan QueryEvent, 1)
	l := &UDPListener{
		OnQuery: func(_ context.Context, evt QueryEvent) { events <- evt },
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx, addr) }()

	// Give the reuseport sockets a moment to bind before sending.
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("a dns query"))
	require.NoError(t, err)

	var evt QueryEvent
	select {
	case evt = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched query")
	}

	require.Equal(t, querytable.ProtoUDP, evt.Proto)
	require.Equal(t, "a dns query", string(evt.RawMsg))
	require.NotNil(t, evt.UDPConn)
	require.NotNil(t, evt.ClientAddr)

	_, err = evt.UDPConn.WriteTo([]byte("a dns reply"), evt.ClientAddr)
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "a dns reply", string(buf[:n]))

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestUDPListener_RateLimiterRejectsOverQuota(t *testing.T) {
	addr := freeUDPAddr(t)

	events := make(chan QueryEvent, 4)
	limiter := &RateLimiter{
		global: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: 1000, Burst: 1000, MaxEntries: 16}),
		prefix: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: 1000, Burst: 1000, MaxEntries: 16}),
		ip:     NewTokenBucketRateLimiter(TokenBucketConfig{Rate: 0.0000001, Burst: 1, MaxEntries: 16}),
	}
	// Exhaust the single token up front so the listener's copy is denied.
	require.True(t, limiter.ip.Allow("127.0.0.1"))

	l := &UDPListener{
		Limiter: limiter,
		OnQuery: func(_ context.Context, evt QueryEvent) { events <- evt },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, addr)
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("blocked by ip limiter"))
	require.NoError(t, err)

	select {
	case <-events:
		t.Fatal("query should have been rejected by the exhausted near-zero-rate IP limiter")
	case <-time.After(300 * time.Millisecond):
	}
}
