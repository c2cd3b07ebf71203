package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpstreamUDP_SendAndReceiveReply(t *testing.T) {
	fake, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer fake.Close()

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		buf := make([]byte, 2048)
		n, peer, err := fake.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reply := append([]byte("reply:"), buf[:n]...)
		_, _ = fake.WriteToUDP(reply, peer)
	}()

	up, err := DialUpstreamUDP(fake.LocalAddr().String())
	require.NoError(t, err)

	received := make(chan []byte, 1)
	up.OnReply = func(msg []byte) { received <- msg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go up.Run(ctx)

	require.NoError(t, up.Send([]byte("ping")))

	select {
	case msg := <-received:
		require.Equal(t, "reply:ping", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upstream reply")
	}

	<-echoDone
	cancel()
	_ = up.Close()
}

func TestUpstreamUDP_ContextCancelStopsRunLoop(t *testing.T) {
	fake, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer fake.Close()

	up, err := DialUpstreamUDP(fake.LocalAddr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		up.Run(ctx)
		close(runDone)
	}()

	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
