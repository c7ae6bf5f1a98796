// Package config collects the tunables every ambient and domain component
// exposes as a Default*Config into one loadable EngineConfig, the way a
// deployed BitChat process would configure an engine instance end to end.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the top-level configuration for one BitChat engine
// instance: everything a runtime.Supervisor needs to construct a
// corelogic.Core and its owned components without reaching for any
// package-level Default*Config directly.
type EngineConfig struct {
	Core       CoreConfig       `yaml:"core" json:"core"`
	Dedup      DedupConfig      `yaml:"dedup" json:"dedup"`
	Fragment   FragmentConfig   `yaml:"fragment" json:"fragment"`
	Delivery   DeliveryConfig   `yaml:"delivery" json:"delivery"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Transport  TransportConfig  `yaml:"transport" json:"transport"`
}

// CoreConfig mirrors corelogic.Config: MTU and channel/backpressure sizing
// (§4.10, §5).
type CoreConfig struct {
	MTU                int `yaml:"mtu" json:"mtu"`
	MaxCommandsPerTick int `yaml:"max_commands_per_tick" json:"max_commands_per_tick"`
	CommandQueueSize   int `yaml:"command_queue_size" json:"command_queue_size"`
	EventQueueSize     int `yaml:"event_queue_size" json:"event_queue_size"`
	AppEventQueueSize  int `yaml:"app_event_queue_size" json:"app_event_queue_size"`
}

// DedupConfig mirrors dedup.Config: bloom filter sizing plus the exact-id
// ring capacity (§4.5).
type DedupConfig struct {
	FalsePositiveRate float64 `yaml:"false_positive_rate" json:"false_positive_rate"`
	ExpectedElements  uint64  `yaml:"expected_elements" json:"expected_elements"`
	RingCapacity      int     `yaml:"ring_capacity" json:"ring_capacity"`
}

// FragmentConfig mirrors the fragment package's reassembly deadline (§4.4).
type FragmentConfig struct {
	ReassemblyDeadline time.Duration `yaml:"reassembly_deadline" json:"reassembly_deadline"`
}

// DeliveryConfig mirrors delivery.Config: retry backoff schedule (§4.6).
type DeliveryConfig struct {
	BaseBackoff   time.Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff" json:"max_backoff"`
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	RetentionTime time.Duration `yaml:"retention_time" json:"retention_time"`
}

// SessionConfig mirrors session.Config: handshake/idle timeouts and rekey
// thresholds (§4.3).
type SessionConfig struct {
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	RekeyMessageCount     uint64        `yaml:"rekey_message_count" json:"rekey_message_count"`
	RekeyByteCount        uint64        `yaml:"rekey_byte_count" json:"rekey_byte_count"`
	RekeyElapsed          time.Duration `yaml:"rekey_elapsed" json:"rekey_elapsed"`
	HandshakeRetryBackoff time.Duration `yaml:"handshake_retry_backoff" json:"handshake_retry_backoff"`
}

// TransportConfig mirrors transport.RouteConfig: reachability/queue aging
// and the health-tracker's failure threshold (§4.9).
type TransportConfig struct {
	ReachabilityTTL  time.Duration `yaml:"reachability_ttl" json:"reachability_ttl"`
	QueueTTL         time.Duration `yaml:"queue_ttl" json:"queue_ttl"`
	HealthFailureThreshold int     `yaml:"health_failure_threshold" json:"health_failure_threshold"`
	HealthWindow     time.Duration `yaml:"health_window" json:"health_window"`
}

// DefaultEngineConfig returns the same defaults each component's own
// Default*Config constructor would pick, collected into one struct so a
// runtime.Supervisor has a single value to thread through.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Core: CoreConfig{
			MTU:                200,
			MaxCommandsPerTick: 32,
			CommandQueueSize:   256,
			EventQueueSize:     256,
			AppEventQueueSize:  256,
		},
		Dedup: DedupConfig{
			FalsePositiveRate: 0.001,
			ExpectedElements:  65536,
			RingCapacity:      4096,
		},
		Fragment: FragmentConfig{
			ReassemblyDeadline: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			BaseBackoff:   2 * time.Second,
			MaxBackoff:    60 * time.Second,
			MaxAttempts:   5,
			RetentionTime: 5 * time.Minute,
		},
		Session: SessionConfig{
			HandshakeTimeout:      30 * time.Second,
			IdleTimeout:           10 * time.Minute,
			RekeyMessageCount:     1000,
			RekeyElapsed:          time.Hour,
			HandshakeRetryBackoff: 2 * time.Second,
		},
		Transport: TransportConfig{
			ReachabilityTTL:        2 * time.Minute,
			QueueTTL:               30 * time.Second,
			HealthFailureThreshold: 3,
			HealthWindow:           30 * time.Second,
		},
	}
}

// LoadYAML reads an EngineConfig from a YAML file, starting from
// DefaultEngineConfig so a partial file only overrides what it names.
// Exposed on the CLI via "bitchat demo run --config".
func LoadYAML(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
