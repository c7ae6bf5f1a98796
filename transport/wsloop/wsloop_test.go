package wsloop

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

func peerID(b byte) wire.PeerID {
	var id wire.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestWSLoop_SendAndReceiveRoundTrip(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	a := NewTransport(DefaultConfig(addrA))
	b := NewTransport(DefaultConfig(addrB))

	aEvents := make(chan transport.Event, 4)
	bEvents := make(chan transport.Event, 4)
	a.Attach(aEvents)
	b.Attach(bEvents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	peerA, peerB := peerID(1), peerID(2)
	a.RegisterPeerAddr(peerB, fmt.Sprintf("ws://%s%s", addrB, "/bitchat"))

	pkt := &wire.Packet{
		Header: wire.Header{Version: wire.Version1, Type: wire.MessageTypeMessage, TTL: 5},
		Sender: peerA,
	}

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	err := a.Send(sendCtx, peerB, pkt)
	require.NoError(t, err)

	select {
	case ev := <-bEvents:
		require.Equal(t, transport.EventPacketReceived, ev.Kind)
		require.Equal(t, peerA, ev.Peer)
		require.Equal(t, wire.MessageTypeMessage, ev.Packet.Header.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
