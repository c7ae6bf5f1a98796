// Package runtime is the top-level wiring ambient to any deployed BitChat
// engine but not itself a spec.md component: it constructs a corelogic.Core,
// registers transports against it, and runs everything under one
// cancellation domain.
//
// Grounded on original_source's bitchat-runtime::{builder, supervisor}
// module shape (RuntimeBuilder, SupervisorTask) and the teacher's cmd/*
// wiring style.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package runtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bitchat-mesh/bitchat/config"
	"github.com/bitchat-mesh/bitchat/corelogic"
	"github.com/bitchat-mesh/bitchat/dedup"
	"github.com/bitchat-mesh/bitchat/delivery"
	"github.com/bitchat-mesh/bitchat/internal/logger"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/session"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// PeerIDFromFingerprint derives the 8-byte on-wire PeerID a process
// advertises for a given static key's fingerprint, truncating its SHA-256
// fingerprint (itself already a hash of the X25519 static public key). This
// is a demo/CLI convenience: a production deployment may instead assign
// PeerIds by some other out-of-band convention (§3 treats PeerId and
// CryptographicIdentity.Fingerprint as related but distinct identifiers).
func PeerIDFromFingerprint(fp noise.Fingerprint) wire.PeerID {
	var id wire.PeerID
	copy(id[:], fp[:])
	return id
}

// registeredTransport is one transport.Transport plus the routing priority
// it should be registered with (§4.9: lower is preferred).
type registeredTransport struct {
	t        transport.Transport
	priority int
}

// Builder assembles a Runtime from an EngineConfig, a static identity key,
// and zero or more transports, mirroring bitchat-runtime's RuntimeBuilder.
type Builder struct {
	self       wire.PeerID
	static     *noise.StaticKeyPair
	cfg        config.EngineConfig
	transports []registeredTransport
	log        logger.Logger
	signingKey *noise.SigningKeyPair
}

// NewBuilder starts a Builder for a process identified by static's
// fingerprint-derived PeerId.
func NewBuilder(static *noise.StaticKeyPair, cfg config.EngineConfig) *Builder {
	return &Builder{
		self:   PeerIDFromFingerprint(static.Fingerprint()),
		static: static,
		cfg:    cfg,
		log:    logger.Default(),
	}
}

// WithLogger overrides the logger used for runtime-level lifecycle messages.
func (b *Builder) WithLogger(l logger.Logger) *Builder {
	b.log = l
	return b
}

// WithSigningKey attaches an optional Ed25519 signing key: every packet
// this process originates then carries flags.has-signature, and an inbound
// signed packet from a peer whose signing key is already known is verified
// before being processed (§4.2).
func (b *Builder) WithSigningKey(kp *noise.SigningKeyPair) *Builder {
	b.signingKey = kp
	return b
}

// WithTransport registers a transport to be attached to the Core and driven
// by the supervisor, at the given routing priority.
func (b *Builder) WithTransport(t transport.Transport, priority int) *Builder {
	b.transports = append(b.transports, registeredTransport{t: t, priority: priority})
	return b
}

// engineConfigToCoreConfig maps the ambient EngineConfig's nested structs
// onto corelogic.Config's embedded component configs.
func engineConfigToCoreConfig(cfg config.EngineConfig) corelogic.Config {
	return corelogic.Config{
		MTU:                cfg.Core.MTU,
		MaxCommandsPerTick: cfg.Core.MaxCommandsPerTick,
		CommandQueueSize:   cfg.Core.CommandQueueSize,
		EventQueueSize:     cfg.Core.EventQueueSize,
		AppEventQueueSize:  cfg.Core.AppEventQueueSize,

		Dedup:              dedupConfig(cfg),
		ReassemblyDeadline: cfg.Fragment.ReassemblyDeadline,
		Delivery:           deliveryConfig(cfg),
		Session:            sessionConfig(cfg),
		Route:              routeConfig(cfg),
	}
}

// Build constructs the Core and wires every registered transport into it,
// but does not start anything running yet (see Runtime.Run).
func (b *Builder) Build() *Runtime {
	core := corelogic.NewCore(b.self, b.static, engineConfigToCoreConfig(b.cfg)).WithLogger(b.log)
	if b.signingKey != nil {
		core = core.WithSigningKey(b.signingKey)
	}
	for _, rt := range b.transports {
		core.RegisterTransport(rt.t, rt.priority)
	}
	return &Runtime{
		self:       b.self,
		core:       core,
		transports: b.transports,
		log:        b.log,
	}
}

// Runtime is a built, runnable engine instance: one Core plus the
// transports wired into it.
type Runtime struct {
	self       wire.PeerID
	core       *corelogic.Core
	transports []registeredTransport
	log        logger.Logger
}

// Self returns this runtime's own PeerId.
func (r *Runtime) Self() wire.PeerID { return r.self }

// Core exposes the underlying Core Logic task, e.g. for Submit/AppEvents.
func (r *Runtime) Core() *corelogic.Core { return r.core }

// Shutdown submits a CommandShutdown to the Core Logic task; Run returns
// nil once it has been processed and every transport has unwound.
func (r *Runtime) Shutdown() error {
	return r.core.Submit(corelogic.Command{Kind: corelogic.CommandShutdown})
}

// Run drives the Core and every registered transport under one
// errgroup-managed cancellation domain (§4.11): if any of them returns a
// real failure, the group cancels the shared context and every other
// goroutine unwinds. A clean ctx cancellation from the caller, or a
// CommandShutdown processed via Shutdown, both stop everything without
// Run returning an error.
func (r *Runtime) Run(ctx context.Context) error {
	innerCtx, stop := context.WithCancel(ctx)
	defer stop()
	group, gctx := errgroup.WithContext(innerCtx)

	group.Go(func() error {
		err := r.core.Run(gctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, corelogic.ErrShutdown):
			stop() // cancel gctx so every transport's Run unwinds too
			return nil
		default:
			r.log.Error("core logic task exited", logger.Err(err))
			return err
		}
	})

	for _, rt := range r.transports {
		rt := rt
		group.Go(func() error {
			err := rt.t.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("transport exited", logger.String("transport", rt.t.Name()), logger.Err(err))
				return fmt.Errorf("runtime: transport %s: %w", rt.t.Name(), err)
			}
			return nil
		})
	}

	return group.Wait()
}

func dedupConfig(cfg config.EngineConfig) dedup.Config {
	return dedup.Config{
		FalsePositiveRate: cfg.Dedup.FalsePositiveRate,
		ExpectedElements:  cfg.Dedup.ExpectedElements,
		RingCapacity:      cfg.Dedup.RingCapacity,
	}
}

func deliveryConfig(cfg config.EngineConfig) delivery.Config {
	return delivery.Config{
		BaseBackoff:   cfg.Delivery.BaseBackoff,
		MaxBackoff:    cfg.Delivery.MaxBackoff,
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		RetentionTime: cfg.Delivery.RetentionTime,
	}
}

func sessionConfig(cfg config.EngineConfig) session.Config {
	return session.Config{
		HandshakeTimeout:      cfg.Session.HandshakeTimeout,
		IdleTimeout:           cfg.Session.IdleTimeout,
		RekeyMessageCount:     cfg.Session.RekeyMessageCount,
		RekeyByteCount:        cfg.Session.RekeyByteCount,
		RekeyElapsed:          cfg.Session.RekeyElapsed,
		HandshakeRetryBackoff: cfg.Session.HandshakeRetryBackoff,
	}
}

func routeConfig(cfg config.EngineConfig) transport.RouteConfig {
	return transport.RouteConfig{
		ReachabilityTTL: cfg.Transport.ReachabilityTTL,
		QueueTTL:        cfg.Transport.QueueTTL,
		Health: transport.HealthConfig{
			FailureThreshold: cfg.Transport.HealthFailureThreshold,
			Window:           cfg.Transport.HealthWindow,
		},
	}
}
