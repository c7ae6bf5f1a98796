// Package fragment implements MTU-aware splitting and reassembly of
// oversized payloads into Fragment packets (§4.4).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package fragment

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitchat-mesh/bitchat/wire"
)

// ErrFragmentConflict is returned when two fragments claim the same index
// with differing bytes within one reassembly group (§4.4).
var ErrFragmentConflict = errors.New("fragment: conflicting bytes for index")

// DefaultReassemblyDeadline is the default time a reassembly group is kept
// alive waiting for missing indices before being dropped (§4.4).
const DefaultReassemblyDeadline = 60 * time.Second

// Split divides payload into ceil(len(payload)/chunkSize) Fragment
// payloads carrying a fresh random fragment id. Indices are stable; emission
// order is the caller's choice.
func Split(originalType wire.MessageType, payload []byte, chunkSize int) ([]wire.FragmentPayload, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("fragment: chunkSize must be positive")
	}
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if total > 0xffff {
		return nil, fmt.Errorf("fragment: payload requires %d fragments, exceeds uint16 index range", total)
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, fmt.Errorf("fragment: generating fragment id: %w", err)
	}
	fragmentID := binary.BigEndian.Uint64(idBuf[:])

	out := make([]wire.FragmentPayload, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, wire.FragmentPayload{
			FragmentID:   fragmentID,
			Index:        uint16(i),
			Total:        uint16(total),
			OriginalType: originalType,
			Chunk:        append([]byte(nil), payload[start:end]...),
		})
	}
	return out, nil
}

// groupKey identifies a reassembly group: sender plus fragment id.
type groupKey struct {
	sender     wire.PeerID
	fragmentID uint64
}

type group struct {
	total        uint16
	originalType wire.MessageType
	received     map[uint16][]byte
	deadline     time.Time
}

func (g *group) complete() bool {
	return len(g.received) == int(g.total)
}

func (g *group) assemble() []byte {
	out := make([]byte, 0)
	for i := uint16(0); i < g.total; i++ {
		out = append(out, g.received[i]...)
	}
	return out
}

// Reassembler tracks in-flight fragment groups keyed by (sender, fragment-id).
type Reassembler struct {
	mu       sync.Mutex
	deadline time.Duration
	groups   map[groupKey]*group
	now      func() time.Time
}

// NewReassembler constructs a Reassembler with the default reassembly
// deadline. Pass a custom clock via WithClock for deterministic tests.
func NewReassembler() *Reassembler {
	return &Reassembler{
		deadline: DefaultReassemblyDeadline,
		groups:   make(map[groupKey]*group),
		now:      time.Now,
	}
}

// WithClock overrides the reassembler's clock, for deterministic tests of
// the reassembly deadline without real sleeps.
func (r *Reassembler) WithClock(now func() time.Time) *Reassembler {
	r.now = now
	return r
}

// WithDeadline overrides the default reassembly deadline.
func (r *Reassembler) WithDeadline(d time.Duration) *Reassembler {
	r.deadline = d
	return r
}

// Result is returned once a group completes.
type Result struct {
	OriginalType wire.MessageType
	Payload      []byte
}

// Add ingests one received fragment. It returns (Result, true, nil) when the
// group completes, (Result{}, false, nil) when more fragments are needed,
// and a non-nil error on conflict. Incomplete groups are never partially
// delivered (§4.4).
func (r *Reassembler) Add(sender wire.PeerID, f wire.FragmentPayload) (Result, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := groupKey{sender: sender, fragmentID: f.FragmentID}
	g, ok := r.groups[key]
	if !ok {
		g = &group{
			total:        f.Total,
			originalType: f.OriginalType,
			received:     make(map[uint16][]byte),
			deadline:     r.now().Add(r.deadline),
		}
		r.groups[key] = g
	}

	if existing, ok := g.received[f.Index]; ok {
		if string(existing) != string(f.Chunk) {
			delete(r.groups, key)
			return Result{}, false, ErrFragmentConflict
		}
		return Result{}, false, nil
	}
	g.received[f.Index] = f.Chunk

	if g.complete() {
		payload := g.assemble()
		delete(r.groups, key)
		return Result{OriginalType: g.originalType, Payload: payload}, true, nil
	}
	return Result{}, false, nil
}

// ExpireStale drops any group whose reassembly deadline has passed and
// returns the count of groups dropped, for metrics (§4.4: incomplete groups
// are dropped, never partially delivered).
func (r *Reassembler) ExpireStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	dropped := 0
	for key, g := range r.groups {
		if now.After(g.deadline) {
			delete(r.groups, key)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of in-flight reassembly groups.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
