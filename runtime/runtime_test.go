package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/config"
	"github.com/bitchat-mesh/bitchat/corelogic"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/transport/loopback"
	"github.com/bitchat-mesh/bitchat/wire"
)

func mustStatic(t *testing.T) *noise.StaticKeyPair {
	t.Helper()
	kp, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)
	return kp
}

// TestRuntime_BasicExchangeOverLoopback builds two Runtimes from Builders,
// joins them on a shared loopback network, and confirms a message submitted
// on one side's Core is received on the other's while Run is driving both.
func TestRuntime_BasicExchangeOverLoopback(t *testing.T) {
	net := loopback.NewNetwork()
	aStatic, bStatic := mustStatic(t), mustStatic(t)
	cfg := config.DefaultEngineConfig()

	aRT := NewBuilder(aStatic, cfg).
		WithTransport(net.Join(PeerIDFromFingerprint(aStatic.Fingerprint()), &loopback.Transport{}), 0).
		Build()
	bRT := NewBuilder(bStatic, cfg).
		WithTransport(net.Join(PeerIDFromFingerprint(bStatic.Fingerprint()), &loopback.Transport{}), 0).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- aRT.Run(ctx) }()
	go func() { errs <- bRT.Run(ctx) }()

	require.NoError(t, aRT.Core().Submit(corelogic.Command{
		Kind:     corelogic.CommandSendMessage,
		To:       bRT.Self(),
		Content:  []byte("hello over runtime"),
		Reliable: true,
	}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-bRT.Core().AppEvents():
			if ev.Kind == corelogic.AppEventMessageReceived {
				require.Equal(t, "hello over runtime", string(ev.Content))
				require.Equal(t, aRT.Self(), ev.From)
				cancel()
				for i := 0; i < 2; i++ {
					require.NoError(t, <-errs)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for message to arrive at b's runtime")
		}
	}
}

// TestRuntime_ShutdownStopsRunCleanly confirms submitting a shutdown command
// unwinds Run with a nil error, rather than surfacing the shutdown sentinel
// or a context-cancellation error to the caller.
func TestRuntime_ShutdownStopsRunCleanly(t *testing.T) {
	net := loopback.NewNetwork()
	static := mustStatic(t)
	cfg := config.DefaultEngineConfig()

	rt := NewBuilder(static, cfg).
		WithTransport(net.Join(PeerIDFromFingerprint(static.Fingerprint()), &loopback.Transport{}), 0).
		Build()

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	// Give Run a moment to actually start its goroutines before shutdown.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rt.Shutdown())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

// TestRuntime_ContextCancelStopsRunCleanly confirms an externally cancelled
// context also unwinds Run without an error.
func TestRuntime_ContextCancelStopsRunCleanly(t *testing.T) {
	net := loopback.NewNetwork()
	static := mustStatic(t)
	cfg := config.DefaultEngineConfig()

	rt := NewBuilder(static, cfg).
		WithTransport(net.Join(PeerIDFromFingerprint(static.Fingerprint()), &loopback.Transport{}), 0).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancel")
	}
}

// TestPeerIDFromFingerprint_IsDeterministicTruncation confirms the derived
// PeerID is a stable function of the fingerprint and matches its first
// PeerIDSize bytes exactly.
func TestPeerIDFromFingerprint_IsDeterministicTruncation(t *testing.T) {
	static := mustStatic(t)
	fp := static.Fingerprint()

	got := PeerIDFromFingerprint(fp)
	var want wire.PeerID
	copy(want[:], fp[:])
	require.Equal(t, want, got)
	require.Equal(t, got, PeerIDFromFingerprint(fp))
}
