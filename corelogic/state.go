package corelogic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitchat-mesh/bitchat/dedup"
	"github.com/bitchat-mesh/bitchat/delivery"
	"github.com/bitchat-mesh/bitchat/fragment"
	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/internal/logger"
	"github.com/bitchat-mesh/bitchat/internal/metrics"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/session"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Config tunes Core Logic itself plus every component it owns, so a
// runtime.Supervisor can build one Core from one EngineConfig without
// reaching into package-level Default*Config constructors (§4.10, §4.12).
type Config struct {
	MTU                int
	MaxCommandsPerTick int
	CommandQueueSize   int
	EventQueueSize     int
	AppEventQueueSize  int

	// CompressionMinSize is the smallest outbound payload buildOutbound will
	// even attempt to zstd-compress (§4.1); below it the frame and flag
	// overhead aren't worth the CPU. A payload is only sent compressed when
	// doing so actually shrinks it.
	CompressionMinSize int

	Dedup              dedup.Config
	ReassemblyDeadline time.Duration
	Delivery           delivery.Config
	Session            session.Config
	Route              transport.RouteConfig
}

// DefaultConfig matches the low-hundreds channel capacities named in §5, a
// conservative MTU that exercises fragmentation in the demo/tests, and each
// owned component's own documented defaults.
func DefaultConfig() Config {
	return Config{
		MTU:                200,
		MaxCommandsPerTick: 32,
		CommandQueueSize:   256,
		EventQueueSize:     256,
		AppEventQueueSize:  256,
		CompressionMinSize: 64,

		Dedup:              dedup.DefaultConfig(),
		ReassemblyDeadline: fragment.DefaultReassemblyDeadline,
		Delivery:           delivery.DefaultConfig(),
		Session:            session.DefaultConfig(),
		Route:              transport.DefaultRouteConfig(),
	}
}

// pendingMessage is a SendMessage submitted before peer's session reached
// Established, queued for replay once the handshake completes.
type pendingMessage struct {
	content  []byte
	reliable bool
	hash     store.Hash
}

// peerRuntime is the per-peer bookkeeping Core Logic keeps beyond the
// Session itself: a pending outbound queue for messages submitted before a
// session is Established, the implicit NoiseEncrypted recv counter (§4.2:
// "the counter is supplied out-of-band ... tracked per-session"), and
// whether the in-progress handshake is an initial one or a rekey (so
// completion emits SessionEstablished vs SessionRekeyed, §6).
type peerRuntime struct {
	pending          []pendingMessage
	recvCounter      uint64
	rekeying         bool
	handshakeStarted time.Time
}

// Core is the single Core Logic task: the one place session map, delivery
// tracker, message store, and identity cache are mutated (§4.10, §5).
// Grounded on the teacher-adjacent reference's CoreLogicTask/CoreState
// split (single bottleneck task, components already separated so they
// could later be sharded, per that module's own design notes).
type Core struct {
	self   wire.PeerID
	static *noise.StaticKeyPair
	cfg    Config

	sessions   *session.Manager
	identities *identity.Manager
	dedupe     *dedup.Filter
	reasm      *fragment.Reassembler
	delivery   *delivery.Tracker
	store      *store.Store
	router     *transport.Router
	metrics    *metrics.Collector
	log        logger.Logger
	signingKey *noise.SigningKeyPair

	mu          sync.Mutex
	transports  map[string]transport.Transport
	peers       map[wire.PeerID]*peerRuntime
	discovering bool
	paused      map[string]bool

	// sentContent caches plaintext by content hash so a delivery retry can
	// re-encrypt and retransmit; delivery.Tracker itself only keeps the hash.
	sentContent map[store.Hash][]byte
	// lastHealth is the last AppEventTransportStatusChanged status emitted
	// per transport, diffed each router-drain tick since Router has no
	// change-notification callback of its own.
	lastHealth map[string]transport.HealthState

	commands  chan Command
	events    chan transport.Event
	timers    chan timerTick
	appEvents chan AppEvent

	ctx context.Context
	now func() time.Time
}

// NewCore constructs a Core Logic task for self, using static as the
// process's long-term Noise identity key.
func NewCore(self wire.PeerID, static *noise.StaticKeyPair, cfg Config) *Core {
	now := time.Now
	dedupFilter, err := dedup.NewFilter(cfg.Dedup)
	if err != nil {
		panic(fmt.Sprintf("corelogic: dedup filter: %v", err))
	}
	return &Core{
		self:       self,
		static:     static,
		cfg:        cfg,
		sessions:   session.NewManager(static, cfg.Session),
		identities: identity.NewManager(),
		dedupe:     dedupFilter,
		reasm:      fragment.NewReassembler().WithDeadline(cfg.ReassemblyDeadline),
		delivery:   delivery.NewTracker(cfg.Delivery),
		store:      store.New(store.DefaultRetentionPolicy()),
		router:     transport.NewRouter(cfg.Route),
		metrics:    metrics.NewCollector(),
		log:        logger.Default(),
		transports:  make(map[string]transport.Transport),
		peers:       make(map[wire.PeerID]*peerRuntime),
		paused:      make(map[string]bool),
		sentContent: make(map[store.Hash][]byte),
		lastHealth:  make(map[string]transport.HealthState),
		commands:   make(chan Command, cfg.CommandQueueSize),
		events:     make(chan transport.Event, cfg.EventQueueSize),
		timers:     make(chan timerTick, 16),
		appEvents:  make(chan AppEvent, cfg.AppEventQueueSize),
		now:        now,
	}
}

// WithClock overrides every owned component's clock for deterministic
// tests; must be called before Run.
func (c *Core) WithClock(now func() time.Time) *Core {
	c.now = now
	c.sessions.WithClock(now)
	c.identities.WithClock(now)
	c.reasm.WithClock(now)
	c.delivery.WithClock(now)
	c.store.WithClock(now)
	c.router.WithClock(now)
	return c
}

// WithLogger overrides the logger used for Core's own lifecycle and
// protocol-error messages; must be called before Run.
func (c *Core) WithLogger(l logger.Logger) *Core {
	c.log = l
	return c
}

// WithSigningKey attaches an optional Ed25519 signing key: every packet
// this Core originates then carries flags.has-signature and a signature
// over its SignedFields, and any inbound signed packet whose sender's
// signing public key is already known is verified before being processed
// further (§4.2).
func (c *Core) WithSigningKey(kp *noise.SigningKeyPair) *Core {
	c.signingKey = kp
	return c
}

// RegisterTransport wires t into both the event-receiving path (Attach) and
// the outbound router (priority: lower is preferred, §4.9).
func (c *Core) RegisterTransport(t transport.Transport, priority int) {
	c.mu.Lock()
	c.transports[t.Name()] = t
	c.mu.Unlock()
	t.Attach(c.events)
	c.router.Register(t, priority)
}

// AppEvents exposes the outbound application-event stream.
func (c *Core) AppEvents() <-chan AppEvent { return c.appEvents }

// Metrics exposes the in-process counters this Core has been recording,
// for an embedding application to snapshot or for a runtime.Runtime to
// expose over Prometheus (§4.12).
func (c *Core) Metrics() *metrics.Collector { return c.metrics }

// Submit enqueues a command for processing, matching §5's backpressure
// policy: a bounded non-blocking send, falling back to a short blocking
// send with timeout for the critical Shutdown command.
func (c *Core) Submit(cmd Command) error {
	if cmd.Kind == CommandShutdown {
		select {
		case c.commands <- cmd:
			return nil
		case <-time.After(time.Second):
			return fmt.Errorf("corelogic: command queue full, shutdown not accepted")
		}
	}
	select {
	case c.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("corelogic: command queue full, dropped %v", cmd.Kind)
	}
}

func (c *Core) peerState(peer wire.PeerID) *peerRuntime {
	pr, ok := c.peers[peer]
	if !ok {
		pr = &peerRuntime{}
		c.peers[peer] = pr
	}
	return pr
}
