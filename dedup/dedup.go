// Package dedup implements the duplicate-packet suppression described in
// §4.5: a bloom filter guarding a bounded FIFO ring of exact ids, with
// generation rotation bounding memory without opening a false-negative
// window.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sync"

	"github.com/holiman/bloomfilter/v2"
)

// PacketID is H(sender || timestamp || payload[:32]) as specified in §4.5.
type PacketID [32]byte

// ComputePacketID derives the dedup identity of an inbound packet.
func ComputePacketID(sender []byte, timestampMs uint64, payload []byte) PacketID {
	h := sha256.New()
	h.Write(sender)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampMs)
	h.Write(ts[:])
	if len(payload) > 32 {
		payload = payload[:32]
	}
	h.Write(payload)
	var id PacketID
	copy(id[:], h.Sum(nil))
	return id
}

// Config tunes filter capacity and the FIFO ring size.
type Config struct {
	// FalsePositiveRate is the target bloom filter false-positive rate.
	FalsePositiveRate float64
	// ExpectedElements sizes the bloom filter's bit array.
	ExpectedElements uint64
	// RingCapacity bounds the exact-id FIFO ring (default 4096 per §4.5).
	RingCapacity int
}

// DefaultConfig matches the defaults named in §4.5.
func DefaultConfig() Config {
	return Config{
		FalsePositiveRate: 0.001,
		ExpectedElements:  65536,
		RingCapacity:      4096,
	}
}

// fifoRing is a fixed-capacity set of exact PacketIDs, evicting the oldest
// entry once full.
type fifoRing struct {
	capacity int
	order    []PacketID
	present  map[PacketID]struct{}
}

func newFIFORing(capacity int) *fifoRing {
	return &fifoRing{
		capacity: capacity,
		present:  make(map[PacketID]struct{}, capacity),
	}
}

func (r *fifoRing) contains(id PacketID) bool {
	_, ok := r.present[id]
	return ok
}

func (r *fifoRing) insert(id PacketID) {
	if r.contains(id) {
		return
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.present, oldest)
	}
	r.order = append(r.order, id)
	r.present[id] = struct{}{}
}

// generation pairs a bloom filter with the exact ring it guards.
type generation struct {
	bloom *bloomfilter.Filter
	ring  *fifoRing
}

func newGeneration(cfg Config) (*generation, error) {
	bf, err := bloomfilter.NewOptimal(cfg.ExpectedElements, cfg.FalsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &generation{bloom: bf, ring: newFIFORing(cfg.RingCapacity)}, nil
}

func (g *generation) maybeContains(id PacketID) bool {
	return g.bloom.Contains(idHash(id))
}

func (g *generation) insert(id PacketID) {
	g.bloom.Add(idHash(id))
	g.ring.insert(id)
}

func idHash(id PacketID) hash.Hash64 {
	return &bloomHash{sum: id}
}

// bloomHash adapts a PacketID to the hash.Hash64 interface bloomfilter.Add
// and bloomfilter.Contains require. The id is already a SHA-256 digest, so
// Sum64 just folds its first 8 bytes; Write/Sum/Reset are unused by the
// library's usage pattern but required to satisfy hash.Hash.
type bloomHash struct {
	sum [32]byte
}

func (b *bloomHash) Sum64() uint64            { return binary.BigEndian.Uint64(b.sum[:8]) }
func (b *bloomHash) Write(p []byte) (int, error) { return len(p), nil }
func (b *bloomHash) Sum(p []byte) []byte      { return append(p, b.sum[:]...) }
func (b *bloomHash) Reset()                   {}
func (b *bloomHash) Size() int                { return 32 }
func (b *bloomHash) BlockSize() int           { return 32 }

// Filter is the full dedup mechanism: a current generation consulted first,
// and a previous generation consulted for one additional cycle after
// rotation, bounding memory without a false-negative window (§4.5).
type Filter struct {
	mu       sync.Mutex
	cfg      Config
	current  *generation
	previous *generation
	inserted uint64
}

// NewFilter constructs a Filter with the given configuration.
func NewFilter(cfg Config) (*Filter, error) {
	gen, err := newGeneration(cfg)
	if err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg, current: gen}, nil
}

// Seen reports whether a packet with this id has already been accepted. If
// not, it is inserted and the call reports false (new). Rotation into a
// fresh generation happens transparently when the current generation
// reaches its expected capacity.
func (f *Filter) Seen(id PacketID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current.maybeContains(id) {
		if f.current.ring.contains(id) {
			return true, nil
		}
		// Possibly-seen but not in the exact ring: bloom false positive,
		// or the entry aged out of the ring while remaining in the filter.
		// Treat as unseen and accept, per §4.5.
	} else if f.previous != nil && f.previous.maybeContains(id) && f.previous.ring.contains(id) {
		return true, nil
	}

	f.current.insert(id)
	f.inserted++
	if f.inserted >= f.cfg.ExpectedElements {
		if err := f.rotate(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (f *Filter) rotate() error {
	gen, err := newGeneration(f.cfg)
	if err != nil {
		return err
	}
	f.previous = f.current
	f.current = gen
	f.inserted = 0
	return nil
}
