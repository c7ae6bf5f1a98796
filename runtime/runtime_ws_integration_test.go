package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/config"
	"github.com/bitchat-mesh/bitchat/corelogic"
	"github.com/bitchat-mesh/bitchat/internal/testutil"
	"github.com/bitchat-mesh/bitchat/transport/wsloop"
)

// TestRuntime_BasicExchangeOverRealWebSocket is an opt-in integration test:
// unlike TestRuntime_BasicExchangeOverLoopback, it drives two full Runtimes
// over real localhost sockets (transport/wsloop) instead of the in-process
// loopback transport. Skipped by default so a plain test run never depends
// on the local network stack behaving the way CI's sandbox expects;
// BITCHAT_WS_INTEGRATION=1 (optionally via .env) opts in.
func TestRuntime_BasicExchangeOverRealWebSocket(t *testing.T) {
	testutil.SkipUnlessEnv(t, ".env", "BITCHAT_WS_INTEGRATION")

	aStatic, bStatic := mustStatic(t), mustStatic(t)
	cfg := config.DefaultEngineConfig()

	addrA, addrB := "127.0.0.1:28481", "127.0.0.1:28482"
	aTransport := wsloop.NewTransport(wsloop.DefaultConfig(addrA))
	bTransport := wsloop.NewTransport(wsloop.DefaultConfig(addrB))

	aID := PeerIDFromFingerprint(aStatic.Fingerprint())
	bID := PeerIDFromFingerprint(bStatic.Fingerprint())
	aTransport.RegisterPeerAddr(bID, "ws://"+addrB+"/bitchat")
	bTransport.RegisterPeerAddr(aID, "ws://"+addrA+"/bitchat")

	aRT := NewBuilder(aStatic, cfg).WithTransport(aTransport, 0).Build()
	bRT := NewBuilder(bStatic, cfg).WithTransport(bTransport, 0).Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- aRT.Run(ctx) }()
	go func() { errs <- bRT.Run(ctx) }()
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, aRT.Core().Submit(corelogic.Command{
		Kind:     corelogic.CommandSendMessage,
		To:       bID,
		Content:  []byte("hello over real sockets"),
		Reliable: true,
	}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-bRT.Core().AppEvents():
			if ev.Kind == corelogic.AppEventMessageReceived {
				require.Equal(t, "hello over real sockets", string(ev.Content))
				cancel()
				for i := 0; i < 2; i++ {
					require.NoError(t, <-errs)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for message over real websocket transport")
		}
	}
}
