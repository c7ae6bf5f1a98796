// Package wsloop implements a Transport over real localhost WebSocket
// connections, for exercising the transport contract without a BLE/Nostr
// radio stack. Peers dial each other's listen address; inbound and outbound
// connections are both read continuously, and the sender PeerId carried in
// every wire.Packet identifies which peer a connection belongs to, so a
// server-accepted connection can be reused for outbound sends too.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package wsloop

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Config tunes dial/read/write deadlines and the local listen address.
type Config struct {
	ListenAddr   string
	Path         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's WebSocket transport timeout defaults.
func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:   listenAddr,
		Path:         "/bitchat",
		DialTimeout:  10 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Transport is a transport.Transport implementation backed by gorilla
// WebSocket connections between localhost peers.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conns  map[wire.PeerID]*websocket.Conn
	addrs  map[wire.PeerID]string
	events chan<- transport.Event
}

// NewTransport constructs a wsloop Transport listening on cfg.ListenAddr.
func NewTransport(cfg Config) *Transport {
	return &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		conns:  make(map[wire.PeerID]*websocket.Conn),
		addrs:  make(map[wire.PeerID]string),
	}
}

// Name returns the transport identifier used for routing priority.
func (t *Transport) Name() string { return "websocket" }

// Attach stores the event sink Core Logic will receive inbound events on.
func (t *Transport) Attach(events chan<- transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = events
}

// RegisterPeerAddr records the ws:// address to dial to reach peer, learned
// out-of-band (e.g. from an announce packet carrying a rendezvous address).
func (t *Transport) RegisterPeerAddr(peer wire.PeerID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[peer] = addr
}

// Run starts the local HTTP listener accepting inbound WebSocket connections
// until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		t.readLoop(conn)
	})

	srv := &http.Server{Addr: t.cfg.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// readLoop decodes binary frames as wire.Packets and emits EventPacketReceived,
// registering the connection under the packet's sender PeerId so future Sends
// to that peer reuse it.
func (t *Transport) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	var peer wire.PeerID
	var learned bool

	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if learned {
				t.dropConn(peer, conn)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		pkt, err := wire.Decode(data)
		if err != nil {
			continue
		}
		if !learned {
			peer = pkt.Sender
			t.rememberConn(peer, conn)
			learned = true
		}
		t.mu.Lock()
		events := t.events
		t.mu.Unlock()
		if events != nil {
			events <- transport.Event{Kind: transport.EventPacketReceived, Transport: t.Name(), Peer: peer, Packet: pkt}
		}
	}
}

func (t *Transport) rememberConn(peer wire.PeerID, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[peer] = conn
}

func (t *Transport) dropConn(peer wire.PeerID, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[peer] == conn {
		delete(t.conns, peer)
	}
}

// ensureConn returns an existing connection to peer or dials its registered
// address.
func (t *Transport) ensureConn(ctx context.Context, peer wire.PeerID) (*websocket.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[peer]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	addr, ok := t.addrs[peer]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("wsloop: no known address for peer %x", peer)
	}

	conn, _, err := t.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("wsloop: dial %s: %w", addr, err)
	}
	t.rememberConn(peer, conn)
	go t.readLoop(conn)
	return conn, nil
}

// Send encodes pkt and writes it as a single binary WebSocket frame to peer,
// dialing a fresh connection if none is open yet.
func (t *Transport) Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error {
	conn, err := t.ensureConn(ctx, peer)
	if err != nil {
		return err
	}
	raw, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.dropConn(peer, conn)
		return fmt.Errorf("wsloop: write: %w", err)
	}
	return nil
}
