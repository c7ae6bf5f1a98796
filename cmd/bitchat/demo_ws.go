package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitchat-mesh/bitchat/config"
	"github.com/bitchat-mesh/bitchat/corelogic"
	"github.com/bitchat-mesh/bitchat/internal/logger"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/runtime"
	"github.com/bitchat-mesh/bitchat/transport/wsloop"
)

var (
	demoWSMessage string
	demoWSAddrA   string
	demoWSAddrB   string
)

var demoWSCmd = &cobra.Command{
	Use:   "ws",
	Short: "Exchange one message between two in-process peers over local WebSocket transports",
	Long: `Like "demo run", but each side listens on its own local WebSocket
address (transport/wsloop) instead of the in-process loopback transport, so
the exchange crosses a real (if local) network boundary.`,
	RunE: runDemoWS,
}

func init() {
	demoCmd.AddCommand(demoWSCmd)

	demoWSCmd.Flags().StringVarP(&demoWSMessage, "message", "m", "hello from bitchat demo ws", "message content to send")
	demoWSCmd.Flags().StringVar(&demoWSAddrA, "addr-a", "127.0.0.1:28471", "listen address for peer a")
	demoWSCmd.Flags().StringVar(&demoWSAddrB, "addr-b", "127.0.0.1:28472", "listen address for peer b")
}

func runDemoWS(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	aStatic, err := noise.GenerateStaticKeyPair()
	if err != nil {
		return fmt.Errorf("generate peer a identity: %w", err)
	}
	bStatic, err := noise.GenerateStaticKeyPair()
	if err != nil {
		return fmt.Errorf("generate peer b identity: %w", err)
	}

	cfg := config.DefaultEngineConfig()

	aID := runtime.PeerIDFromFingerprint(aStatic.Fingerprint())
	bID := runtime.PeerIDFromFingerprint(bStatic.Fingerprint())

	aTransport := wsloop.NewTransport(wsloop.DefaultConfig(demoWSAddrA))
	bTransport := wsloop.NewTransport(wsloop.DefaultConfig(demoWSAddrB))
	aTransport.RegisterPeerAddr(bID, "ws://"+demoWSAddrB+"/bitchat")
	bTransport.RegisterPeerAddr(aID, "ws://"+demoWSAddrA+"/bitchat")

	a := runtime.NewBuilder(aStatic, cfg).
		WithLogger(newLogger().WithFields(logger.String("peer", "a"))).
		WithTransport(aTransport, 0).
		Build()
	b := runtime.NewBuilder(bStatic, cfg).
		WithLogger(newLogger().WithFields(logger.String("peer", "b"))).
		WithTransport(bTransport, 0).
		Build()

	runErrs := make(chan error, 2)
	go func() { runErrs <- a.Run(ctx) }()
	go func() { runErrs <- b.Run(ctx) }()

	// Give each side's HTTP listener a moment to come up before dialing.
	time.Sleep(100 * time.Millisecond)

	go printAppEvents("a", a.Core().AppEvents())
	go printAppEvents("b", b.Core().AppEvents())

	if err := a.Core().Submit(corelogic.Command{
		Kind:     corelogic.CommandSendMessage,
		To:       bID,
		Content:  []byte(demoWSMessage),
		Reliable: true,
	}); err != nil {
		return fmt.Errorf("submit send: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	if err := a.Shutdown(); err != nil {
		return fmt.Errorf("shutdown peer a: %w", err)
	}
	if err := b.Shutdown(); err != nil {
		return fmt.Errorf("shutdown peer b: %w", err)
	}

	for i := 0; i < 2; i++ {
		if err := <-runErrs; err != nil {
			return err
		}
	}
	return nil
}
