// Package delivery tracks outgoing user-visible messages through
// acknowledgement, retry, and terminal delivery outcomes (§4.6).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a TrackedMessage's lifecycle state.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes retry backoff and retention.
type Config struct {
	BaseBackoff   time.Duration // default 2s
	MaxBackoff    time.Duration // default 60s cap
	MaxAttempts   int           // default 5
	RetentionTime time.Duration // how long Delivered entries are kept before GC
}

// DefaultConfig matches the defaults named in §4.6.
func DefaultConfig() Config {
	return Config{
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    60 * time.Second,
		MaxAttempts:   5,
		RetentionTime: 5 * time.Minute,
	}
}

// backoffFor returns base·2^(attempts-1), capped.
func (c Config) backoffFor(attempts int) time.Duration {
	d := c.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// TrackedMessage is one outgoing message under delivery tracking.
type TrackedMessage struct {
	ID          string
	MessageHash [32]byte
	Peer        string
	SentAt      time.Time
	LastAttempt time.Time
	Attempts    int
	Status      Status
}

// FailedEvent is surfaced when a message exhausts its retry budget.
type FailedEvent struct {
	ID   string
	Peer string
}

// Tracker is the per-process delivery tracker, serialized by its own mutex
// (it is additionally only ever mutated from inside Core Logic per §5, but
// the mutex keeps the type safe to unit test standalone).
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	messages map[string]*TrackedMessage
	now      func() time.Time
}

// NewTracker constructs a Tracker with the given config.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg,
		messages: make(map[string]*TrackedMessage),
		now:      time.Now,
	}
}

// WithClock overrides the tracker's clock for deterministic retry tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// TrackSend records a newly sent message (§4.6 step 1).
func (t *Tracker) TrackSend(peer string, hash [32]byte) *TrackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := &TrackedMessage{
		ID:          uuid.NewString(),
		MessageHash: hash,
		Peer:        peer,
		SentAt:      t.now(),
		LastAttempt: t.now(),
		Attempts:    1,
		Status:      StatusSent,
	}
	t.messages[msg.ID] = msg
	return msg
}

// Ack marks a tracked message delivered (§4.6 step 2). Retention removal
// happens lazily via GC, not immediately, so callers can still query it
// briefly after ack.
func (t *Tracker) Ack(hash [32]byte) (id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range t.messages {
		if msg.MessageHash == hash && msg.Status == StatusSent {
			msg.Status = StatusDelivered
			return msg.ID, true
		}
	}
	return "", false
}

// DueForRetry returns messages whose backoff window has elapsed without an
// ack (§4.6 step 3), advancing their attempt counter and marking any that
// have exhausted max_attempts as Failed (§4.6 step 4). Exhausted messages
// are returned via failed, not retries.
func (t *Tracker) DueForRetry() (retries []*TrackedMessage, failed []FailedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, msg := range t.messages {
		if msg.Status != StatusSent {
			continue
		}
		backoff := t.cfg.backoffFor(msg.Attempts)
		if now.Before(msg.LastAttempt.Add(backoff)) {
			continue
		}
		if msg.Attempts >= t.cfg.MaxAttempts {
			msg.Status = StatusFailed
			failed = append(failed, FailedEvent{ID: msg.ID, Peer: msg.Peer})
			continue
		}
		msg.Attempts++
		msg.LastAttempt = now
		retries = append(retries, msg)
	}
	return retries, failed
}

// GC removes Delivered/Failed entries older than RetentionTime.
func (t *Tracker) GC() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for id, msg := range t.messages {
		if msg.Status == StatusSent {
			continue
		}
		if now.Sub(msg.LastAttempt) >= t.cfg.RetentionTime {
			delete(t.messages, id)
			removed++
		}
	}
	return removed
}

// Get returns a tracked message by id, for tests and introspection.
func (t *Tracker) Get(id string) (*TrackedMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	return msg, ok
}
