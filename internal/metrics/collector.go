// Package metrics collects engine statistics for both in-process
// inspection (Collector) and Prometheus scraping (see prometheus.go).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates counters and rolling timing samples for the
// protocol engine. Tests can read it directly without standing up an HTTP
// listener; every Record* method also updates the matching package-global
// Prometheus metric in Registry (prometheus.go).
type Collector struct {
	mu sync.RWMutex

	HandshakesInitiated int64
	HandshakesCompleted int64
	HandshakesFailed    int64
	RekeysCompleted     int64

	PacketsDeduped  int64
	PacketsAccepted int64

	FragmentGroupsStarted     int64
	FragmentGroupsReassembled int64
	FragmentGroupsExpired     int64

	DeliveriesSent      int64
	DeliveriesRetried   int64
	DeliveriesDelivered int64
	DeliveriesFailed    int64

	startTime time.Time

	handshakeTimes []int64
	deliveryTimes  []int64
	maxSamples     int
}

// NewCollector creates a Collector with its uptime clock started now.
func NewCollector() *Collector {
	return &Collector{
		startTime:  time.Now(),
		maxSamples: 1000,
	}
}

// RecordHandshake records a completed (or failed) handshake attempt, in
// both the in-process counters and the Prometheus registry.
func (c *Collector) RecordHandshake(success bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HandshakesInitiated++
	outcome := "failed"
	if success {
		c.HandshakesCompleted++
		outcome = "completed"
	} else {
		c.HandshakesFailed++
	}
	c.handshakeTimes = appendBounded(c.handshakeTimes, d.Microseconds(), c.maxSamples)
	HandshakesTotal.WithLabelValues(outcome).Inc()
	HandshakeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRekey records a completed in-band rekey.
func (c *Collector) RecordRekey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RekeysCompleted++
	RekeysTotal.Inc()
}

// RecordDedup records a dedup verdict for one inbound packet.
func (c *Collector) RecordDedup(seen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := "accepted"
	if seen {
		c.PacketsDeduped++
		result = "seen"
	} else {
		c.PacketsAccepted++
	}
	DedupVerdicts.WithLabelValues(result).Inc()
}

// RecordFragmentGroupStart records the start of a new fragment group.
func (c *Collector) RecordFragmentGroupStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FragmentGroupsStarted++
	FragmentGroups.WithLabelValues("started").Inc()
}

// RecordFragmentGroupDone records a group reaching a terminal state.
func (c *Collector) RecordFragmentGroupDone(reassembled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "expired"
	if reassembled {
		c.FragmentGroupsReassembled++
		outcome = "reassembled"
	} else {
		c.FragmentGroupsExpired++
	}
	FragmentGroups.WithLabelValues(outcome).Inc()
}

// RecordDeliverySent records an outbound delivery attempt (initial or retry).
func (c *Collector) RecordDeliverySent(isRetry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeliveriesSent++
	kind := "initial"
	if isRetry {
		c.DeliveriesRetried++
		kind = "retry"
	}
	DeliveryAttempts.WithLabelValues(kind).Inc()
}

// RecordDeliveryOutcome records a terminal delivery outcome and the time
// since the message was first sent.
func (c *Collector) RecordDeliveryOutcome(delivered bool, sinceSend time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "failed"
	if delivered {
		c.DeliveriesDelivered++
		outcome = "delivered"
	} else {
		c.DeliveriesFailed++
	}
	c.deliveryTimes = appendBounded(c.deliveryTimes, sinceSend.Microseconds(), c.maxSamples)
	DeliveryOutcomes.WithLabelValues(outcome).Inc()
}

// SetSessionGauges publishes the current session count by state to the
// Prometheus registry. Unlike the other Record* methods this isn't backed
// by a Collector-side counter of its own: session counts are a gauge over
// state owned by session.Manager, sampled periodically rather than derived
// from discrete events.
func (c *Collector) SetSessionGauges(established, handshaking, rekeying, failed int) {
	SessionsByState.WithLabelValues("established").Set(float64(established))
	SessionsByState.WithLabelValues("handshaking").Set(float64(handshaking))
	SessionsByState.WithLabelValues("rekeying").Set(float64(rekeying))
	SessionsByState.WithLabelValues("failed").Set(float64(failed))
}

// Snapshot is a point-in-time copy of the collected counters.
type Snapshot struct {
	UptimeSeconds             float64
	HandshakesInitiated       int64
	HandshakesCompleted       int64
	HandshakesFailed          int64
	RekeysCompleted           int64
	PacketsDeduped            int64
	PacketsAccepted           int64
	FragmentGroupsStarted     int64
	FragmentGroupsReassembled int64
	FragmentGroupsExpired     int64
	DeliveriesSent            int64
	DeliveriesRetried         int64
	DeliveriesDelivered       int64
	DeliveriesFailed          int64
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UptimeSeconds:             time.Since(c.startTime).Seconds(),
		HandshakesInitiated:       c.HandshakesInitiated,
		HandshakesCompleted:       c.HandshakesCompleted,
		HandshakesFailed:          c.HandshakesFailed,
		RekeysCompleted:           c.RekeysCompleted,
		PacketsDeduped:            c.PacketsDeduped,
		PacketsAccepted:           c.PacketsAccepted,
		FragmentGroupsStarted:     c.FragmentGroupsStarted,
		FragmentGroupsReassembled: c.FragmentGroupsReassembled,
		FragmentGroupsExpired:     c.FragmentGroupsExpired,
		DeliveriesSent:            c.DeliveriesSent,
		DeliveriesRetried:         c.DeliveriesRetried,
		DeliveriesDelivered:       c.DeliveriesDelivered,
		DeliveriesFailed:          c.DeliveriesFailed,
	}
}

func appendBounded(samples []int64, v int64, max int) []int64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}
