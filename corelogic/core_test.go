package corelogic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/transport/loopback"
	"github.com/bitchat-mesh/bitchat/wire"
)

// capturingTransport wraps a loopback.Transport, recording every packet it
// is asked to send so a test can replay one verbatim later.
type capturingTransport struct {
	inner *loopback.Transport

	mu   sync.Mutex
	sent []*wire.Packet
}

func (c *capturingTransport) Name() string                       { return c.inner.Name() }
func (c *capturingTransport) Attach(events chan<- transport.Event) { c.inner.Attach(events) }
func (c *capturingTransport) Run(ctx context.Context) error       { return c.inner.Run(ctx) }
func (c *capturingTransport) Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error {
	c.mu.Lock()
	c.sent = append(c.sent, pkt)
	c.mu.Unlock()
	return c.inner.Send(ctx, peer, pkt)
}

func (c *capturingTransport) last() *wire.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// namedFaultyTransport wraps a loopback.Transport under a caller-chosen
// name and can be told to fail every Send, for exercising the router's
// failover path (scenario E3) without a real flaky network.
type namedFaultyTransport struct {
	inner *loopback.Transport
	name  string

	mu     sync.Mutex
	broken bool
}

func (f *namedFaultyTransport) Name() string { return f.name }
func (f *namedFaultyTransport) Attach(events chan<- transport.Event) {
	f.inner.Attach(events)
}
func (f *namedFaultyTransport) Run(ctx context.Context) error { return f.inner.Run(ctx) }
func (f *namedFaultyTransport) Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return fmt.Errorf("namedFaultyTransport %s: simulated send failure", f.name)
	}
	return f.inner.Send(ctx, peer, pkt)
}

func peerID(b byte) wire.PeerID {
	var id wire.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func newLinkedCores(t *testing.T, net *loopback.Network, a, b wire.PeerID, cfg Config) (*Core, *Core) {
	aStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)
	bStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)

	coreA := NewCore(a, aStatic, cfg)
	coreB := NewCore(b, bStatic, cfg)

	coreA.RegisterTransport(net.Join(a, &loopback.Transport{}), 0)
	coreB.RegisterTransport(net.Join(b, &loopback.Transport{}), 0)

	return coreA, coreB
}

func runCore(t *testing.T, ctx context.Context, c *Core) {
	t.Helper()
	go func() {
		_ = c.Run(ctx)
	}()
}

func awaitEvent(t *testing.T, events <-chan AppEvent, kind AppEventKind) AppEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("app event channel closed before seeing kind %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for app event kind %v", kind)
		}
	}
}

// TestCore_BasicExchangeEstablishesSessionAndDelivers covers scenario E1: a
// message to a never-before-seen peer triggers a handshake, is delivered,
// and is acknowledged back to the sender.
func TestCore_BasicExchangeEstablishesSessionAndDelivers(t *testing.T) {
	net := loopback.NewNetwork()
	pa, pb := peerID(1), peerID(2)
	a, b := newLinkedCores(t, net, pa, pb, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCore(t, ctx, a)
	runCore(t, ctx, b)

	require.NoError(t, a.Submit(Command{Kind: CommandSendMessage, To: pb, Content: []byte("hi"), Reliable: true}))

	recv := awaitEvent(t, b.AppEvents(), AppEventMessageReceived)
	require.Equal(t, "hi", string(recv.Content))
	require.Equal(t, pa, recv.From)

	delivered := awaitEvent(t, a.AppEvents(), AppEventMessageDelivered)
	require.NotEmpty(t, delivered.MessageID)
}

// TestCore_FragmentedMessageReassemblesToOneReceive covers scenario E2: a
// payload larger than the configured MTU is split into several Fragment
// packets and reassembled into a single MessageReceived on the far side.
func TestCore_FragmentedMessageReassemblesToOneReceive(t *testing.T) {
	net := loopback.NewNetwork()
	pa, pb := peerID(3), peerID(4)
	cfg := DefaultConfig()
	cfg.MTU = 64
	a, b := newLinkedCores(t, net, pa, pb, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCore(t, ctx, a)
	runCore(t, ctx, b)

	payload := []byte(strings.Repeat("x", 200))
	require.NoError(t, a.Submit(Command{Kind: CommandSendMessage, To: pb, Content: payload}))

	recv := awaitEvent(t, b.AppEvents(), AppEventMessageReceived)
	require.Equal(t, payload, recv.Content)
}

// TestCore_FailsOverToBackupTransportOnSendFailure covers scenario E3: a's
// higher-priority transport fails every send; the router records each
// failure against it (degrading it once enough have failed) and retries the next-best candidate within the same routing attempt, so the
// handshake and message still reach b over the lower-priority transport.
func TestCore_FailsOverToBackupTransportOnSendFailure(t *testing.T) {
	net := loopback.NewNetwork()
	pa, pb := peerID(7), peerID(8)

	aStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)
	bStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)

	a := NewCore(pa, aStatic, DefaultConfig())
	b := NewCore(pb, bStatic, DefaultConfig())

	// primary is never joined to the network: every Send on it fails
	// immediately, simulating a transport that can't reach anyone. backup is
	// the one actually wired into the shared loopback network, so a's
	// inbound traffic (handshake replies, acks) flows through it.
	primary := &namedFaultyTransport{inner: &loopback.Transport{}, name: "primary", broken: true}
	backup := &namedFaultyTransport{inner: net.Join(pa, &loopback.Transport{}), name: "backup"}
	a.RegisterTransport(primary, 0)
	a.RegisterTransport(backup, 1)
	b.RegisterTransport(net.Join(pb, &loopback.Transport{}), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCore(t, ctx, a)
	runCore(t, ctx, b)

	require.NoError(t, a.Submit(Command{Kind: CommandSendMessage, To: pb, Content: []byte("routed via backup"), Reliable: true}))

	recv := awaitEvent(t, b.AppEvents(), AppEventMessageReceived)
	require.Equal(t, "routed via backup", string(recv.Content))
	require.Equal(t, pa, recv.From)

	// By the time b has the full message, a has already tried primary for
	// msg1, msg3, and the encrypted user message — three failures, enough to
	// cross the default degrade threshold.
	st, ok := a.router.Health("primary")
	require.True(t, ok)
	require.Equal(t, transport.HealthDegraded, st)
}

// TestCore_DuplicatePacketSuppressedByDedup covers scenario E4: replaying
// the exact same encoded packet a second time must not produce a second
// MessageReceived.
func TestCore_DuplicatePacketSuppressedByDedup(t *testing.T) {
	net := loopback.NewNetwork()
	pa, pb := peerID(5), peerID(6)

	aStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)
	bStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)

	a := NewCore(pa, aStatic, DefaultConfig())
	b := NewCore(pb, bStatic, DefaultConfig())

	aInner := net.Join(pa, &loopback.Transport{})
	aCapture := &capturingTransport{inner: aInner}
	a.RegisterTransport(aCapture, 0)
	b.RegisterTransport(net.Join(pb, &loopback.Transport{}), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCore(t, ctx, a)
	runCore(t, ctx, b)

	require.NoError(t, a.Submit(Command{Kind: CommandSendMessage, To: pb, Content: []byte("once")}))
	first := awaitEvent(t, b.AppEvents(), AppEventMessageReceived)
	require.Equal(t, "once", string(first.Content))

	// The last packet A's transport sent is the NoiseEncrypted user message
	// (the ack it receives back from B doesn't flow through this
	// transport). Replay it verbatim, bypassing Core entirely.
	dup := aCapture.last()
	require.NotNil(t, dup)
	require.Equal(t, wire.MessageTypeNoiseEncrypted, dup.Header.Type)
	require.NoError(t, aInner.Send(ctx, pb, dup))

	// Give B's event loop a moment to process the replay, then confirm no
	// second MessageReceived was produced: drain whatever else arrives and
	// make sure none of it is a second content-bearing receive of "once".
	select {
	case ev := <-b.AppEvents():
		if ev.Kind == AppEventMessageReceived {
			t.Fatalf("duplicate packet produced a second MessageReceived: %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
	}
}
