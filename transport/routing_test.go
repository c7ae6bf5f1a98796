package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/wire"
)

type fakeTransport struct {
	name string
}

func (f *fakeTransport) Name() string                          { return f.name }
func (f *fakeTransport) Attach(events chan<- Event)             {}
func (f *fakeTransport) Run(ctx context.Context) error          { return nil }
func (f *fakeTransport) Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error {
	return nil
}

func testPacket() *wire.Packet {
	return &wire.Packet{
		Header: wire.Header{Version: wire.Version1, Type: wire.MessageTypeMessage, TTL: 5},
	}
}

func TestRouter_PrefersHighestPriorityUpTransport(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRouter(DefaultRouteConfig()).WithClock(func() time.Time { return now })

	direct := &fakeTransport{name: "direct-wireless"}
	relay := &fakeTransport{name: "relay"}
	r.Register(direct, 0)
	r.Register(relay, 1)

	peer := peerID(1)
	r.ObserveReachable("direct-wireless", peer)
	r.ObserveReachable("relay", peer)

	var used string
	err := r.Send(peer, testPacket(), func(tr Transport) error {
		used = tr.Name()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "direct-wireless", used)
}

func TestRouter_FailoverToNextBestOnSendFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRouter(DefaultRouteConfig()).WithClock(func() time.Time { return now })

	direct := &fakeTransport{name: "direct-wireless"}
	relay := &fakeTransport{name: "relay"}
	r.Register(direct, 0)
	r.Register(relay, 1)

	peer := peerID(2)
	r.ObserveReachable("direct-wireless", peer)
	r.ObserveReachable("relay", peer)

	var used string
	err := r.Send(peer, testPacket(), func(tr Transport) error {
		if tr.Name() == "direct-wireless" {
			return fmt.Errorf("link down")
		}
		used = tr.Name()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "relay", used)
}

func TestRouter_DegradesAfterRepeatedFailuresThenPrefersOther(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultRouteConfig()
	cfg.Health.FailureThreshold = 2
	r := NewRouter(cfg).WithClock(func() time.Time { return now })

	direct := &fakeTransport{name: "direct-wireless"}
	relay := &fakeTransport{name: "relay"}
	r.Register(direct, 0)
	r.Register(relay, 1)

	peer := peerID(3)
	r.ObserveReachable("direct-wireless", peer)
	r.ObserveReachable("relay", peer)

	fail := func(tr Transport) error {
		if tr.Name() == "direct-wireless" {
			return fmt.Errorf("fail")
		}
		return nil
	}
	require.NoError(t, r.Send(peer, testPacket(), fail))
	require.NoError(t, r.Send(peer, testPacket(), fail))

	state, ok := r.Health("direct-wireless")
	require.True(t, ok)
	require.Equal(t, HealthDegraded, state)

	var used string
	err := r.Send(peer, testPacket(), func(tr Transport) error {
		used = tr.Name()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "relay", used)
}

func TestRouter_QueuesWhenNoTransportReachableAndExpiresOnTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultRouteConfig()
	cfg.QueueTTL = 10 * time.Second
	r := NewRouter(cfg).WithClock(func() time.Time { return now })

	peer := peerID(4)
	err := r.Send(peer, testPacket(), func(tr Transport) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, r.QueueLen())

	now = now.Add(20 * time.Second)
	delivered, expired := r.Drain(func(tr Transport, p wire.PeerID, pkt *wire.Packet) error { return nil })
	require.Equal(t, 0, delivered)
	require.Len(t, expired, 1)
	require.Equal(t, 0, r.QueueLen())
}

func TestRouter_DrainDeliversOnceReachabilityAppears(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultRouteConfig()
	cfg.QueueTTL = time.Minute
	r := NewRouter(cfg).WithClock(func() time.Time { return now })

	relay := &fakeTransport{name: "relay"}
	r.Register(relay, 0)

	peer := peerID(5)
	require.NoError(t, r.Send(peer, testPacket(), func(tr Transport) error { return nil }))
	require.Equal(t, 1, r.QueueLen())

	r.ObserveReachable("relay", peer)
	delivered, expired := r.Drain(func(tr Transport, p wire.PeerID, pkt *wire.Packet) error { return nil })
	require.Equal(t, 1, delivered)
	require.Empty(t, expired)
	require.Equal(t, 0, r.QueueLen())
}

func TestHealthTracker_DownTransitionsToUpOnSuccess(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := HealthConfig{FailureThreshold: 1, Window: time.Minute}
	h := NewHealthTracker(cfg).WithClock(func() time.Time { return now })

	require.Equal(t, HealthDegraded, h.RecordFailure())
	require.Equal(t, HealthDown, h.RecordFailure())
	require.Equal(t, HealthUp, h.RecordSuccess())
}

func TestHealthTracker_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := HealthConfig{FailureThreshold: 2, Window: 5 * time.Second}
	h := NewHealthTracker(cfg).WithClock(func() time.Time { return now })

	require.Equal(t, HealthUp, h.RecordFailure())
	now = now.Add(10 * time.Second)
	require.Equal(t, HealthUp, h.RecordFailure())
}

func peerID(b byte) wire.PeerID {
	var id wire.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}
