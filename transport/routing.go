package transport

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bitchat-mesh/bitchat/wire"
)

// ErrDeliveryExpired is surfaced when a queued outbound packet's TTL elapses
// with no Up transport ever reaching the recipient (§4.9).
var ErrDeliveryExpired = fmt.Errorf("transport: delivery ttl expired before any route was reachable")

// RouteConfig tunes reachability aging and per-transport priority (§4.9:
// prefer direct-wireless over relay by default).
type RouteConfig struct {
	ReachabilityTTL time.Duration
	QueueTTL        time.Duration
	Health          HealthConfig
}

// DefaultRouteConfig matches the defaults named in §4.9.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		ReachabilityTTL: 2 * time.Minute,
		QueueTTL:        30 * time.Second,
		Health:          DefaultHealthConfig(),
	}
}

// registeredTransport pairs a Transport with its routing priority (lower
// numbers are preferred) and health tracker.
type registeredTransport struct {
	t        Transport
	priority int
	health   *HealthTracker
}

// sighting records that a transport most recently observed peer reachable.
type sighting struct {
	peer wire.PeerID
	name string
	at   time.Time
}

// queuedSend is a packet awaiting an Up transport to peer, queued with a
// deadline (§4.9 TTL queue).
type queuedSend struct {
	peer     wire.PeerID
	pkt      *wire.Packet
	deadline time.Time
	tried    map[string]bool
}

// Router owns the set of registered transports, the peer-reachability table
// learned from announce/traffic sightings, and the TTL outbound queue. It
// implements the routing/failover decisions of §4.9: prefer the
// highest-priority Up transport reachable to a peer, record a send failure
// against that transport's health and try the next-best, and queue with TTL
// when no candidate succeeds.
type Router struct {
	mu         sync.Mutex
	cfg        RouteConfig
	transports map[string]*registeredTransport
	reach      map[wire.PeerID]map[string]sighting
	queue      *list.List // of *queuedSend
	now        func() time.Time
}

// NewRouter constructs an empty Router.
func NewRouter(cfg RouteConfig) *Router {
	return &Router{
		cfg:        cfg,
		transports: make(map[string]*registeredTransport),
		reach:      make(map[wire.PeerID]map[string]sighting),
		queue:      list.New(),
		now:        time.Now,
	}
}

// WithClock overrides the router's clock for deterministic tests.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// Register adds a transport with a routing priority; lower priority values
// are preferred when more than one transport reaches a peer.
func (r *Router) Register(t Transport, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = &registeredTransport{
		t:        t,
		priority: priority,
		health:   NewHealthTracker(r.cfg.Health).WithClock(r.now),
	}
}

// ObserveReachable records that transport observed peer as reachable, e.g.
// on receipt of an announce packet or any recent traffic (§4.9).
func (r *Router) ObserveReachable(transportName string, peer wire.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.reach[peer]
	if !ok {
		m = make(map[string]sighting)
		r.reach[peer] = m
	}
	m[transportName] = sighting{peer: peer, name: transportName, at: r.now()}
}

// pruneStaleLocked drops reachability sightings older than ReachabilityTTL.
func (r *Router) pruneStaleLocked() {
	cutoff := r.now().Add(-r.cfg.ReachabilityTTL)
	for peer, m := range r.reach {
		for name, s := range m {
			if s.at.Before(cutoff) {
				delete(m, name)
			}
		}
		if len(m) == 0 {
			delete(r.reach, peer)
		}
	}
}

// candidatesLocked returns the transports currently reachable to peer,
// ordered by priority (best first), restricted to those not yet in exclude
// and not in HealthDown.
func (r *Router) candidatesLocked(peer wire.PeerID, exclude map[string]bool) []*registeredTransport {
	m := r.reach[peer]
	var out []*registeredTransport
	for name := range m {
		rt, ok := r.transports[name]
		if !ok || exclude[name] {
			continue
		}
		if rt.health.State() == HealthDown {
			continue
		}
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].health.State(), out[j].health.State()
		if hi != hj {
			return hi < hj // Up(0) before Degraded(1)
		}
		return out[i].priority < out[j].priority
	})
	return out
}

// Send routes pkt to peer over the best reachable transport. On failure it
// records the failure with that transport's HealthTracker (which turns
// Degraded only once FailureThreshold failures fall within Window) and
// tries the next-best candidate. If no
// transport is currently reachable, or all candidates fail, the packet is
// queued with the configured TTL for a later Drain to retry (§4.9).
func (r *Router) Send(peer wire.PeerID, pkt *wire.Packet, send func(Transport) error) error {
	r.mu.Lock()
	r.pruneStaleLocked()
	candidates := r.candidatesLocked(peer, nil)
	r.mu.Unlock()

	tried := make(map[string]bool)
	for _, rt := range candidates {
		tried[rt.t.Name()] = true
		if err := send(rt.t); err != nil {
			rt.health.RecordFailure()
			continue
		}
		rt.health.RecordSuccess()
		return nil
	}

	r.mu.Lock()
	r.queue.PushBack(&queuedSend{
		peer:     peer,
		pkt:      pkt,
		deadline: r.now().Add(r.cfg.QueueTTL),
		tried:    tried,
	})
	r.mu.Unlock()
	return nil
}

// Drain retries queued sends now that reachability may have changed,
// dropping (and returning as expired) anything past its TTL with no
// successful route (§4.9: surface DeliveryFailed on TTL expiry). send is
// invoked with the specific peer/packet of the queued item under retry,
// since a single Drain call walks the whole queue and different entries
// carry different packets.
func (r *Router) Drain(send func(t Transport, peer wire.PeerID, pkt *wire.Packet) error) (delivered int, expired []*wire.Packet) {
	r.mu.Lock()
	r.pruneStaleLocked()
	now := r.now()
	var next list.List
	for e := r.queue.Front(); e != nil; e = e.Next() {
		qs := e.Value.(*queuedSend)
		candidates := r.candidatesLocked(qs.peer, qs.tried)
		r.mu.Unlock()

		sent := false
		for _, rt := range candidates {
			if err := send(rt.t, qs.peer, qs.pkt); err != nil {
				rt.health.RecordFailure()
				qs.tried[rt.t.Name()] = true
				continue
			}
			rt.health.RecordSuccess()
			sent = true
			break
		}

		r.mu.Lock()
		switch {
		case sent:
			delivered++
		case now.After(qs.deadline):
			expired = append(expired, qs.pkt)
		default:
			next.PushBack(qs)
		}
	}
	r.queue = &next
	r.mu.Unlock()
	return delivered, expired
}

// Health returns the current health state of a registered transport.
func (r *Router) Health(transportName string) (HealthState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.transports[transportName]
	if !ok {
		return HealthDown, false
	}
	return rt.health.State(), true
}

// QueueLen reports the number of packets currently queued awaiting a route.
func (r *Router) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}
