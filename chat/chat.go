// Package chat composes the peer runtime: identity, registry, decision
// engine, network services, display bus, and the interactive command
// loop.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/p2pchat/chat/net"
	"github.com/sage-x-project/p2pchat/config"
	"github.com/sage-x-project/p2pchat/crypto"
	"github.com/sage-x-project/p2pchat/health"
	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
	"github.com/sage-x-project/p2pchat/threshold"
)

// exitFlushWindow is how long the peer waits after broadcasting Exit
// before tearing down, so in-flight writes can drain.
const exitFlushWindow = 300 * time.Millisecond

// Peer is a running chat instance. A fresh identity is generated per
// run; nothing is persisted.
type Peer struct {
	cfg      *config.Config
	crypto   *crypto.Manager
	registry *peer.Registry
	engine   *threshold.Engine
	bus      *Bus
	net      *net.Services
	checker  *health.Checker
	logger   logger.Logger

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New builds a peer from the given configuration. The display name and
// port are normalized before use.
func New(cfg *config.Config) (*Peer, error) {
	cfg.Normalize()

	peerID := uuid.New().String()
	cryptoMgr, err := crypto.NewManager(peerID, cfg.Name)
	if err != nil {
		return nil, err
	}

	registry := peer.NewRegistry(peerID)
	engine := threshold.NewEngine()
	bus := NewBus()

	services := net.NewServices(net.Config{
		SelfID:            peerID,
		SelfName:          cfg.Name,
		Port:              cfg.Port,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatPort:     cfg.Heartbeat.Port,
		PeerTimeout:       cfg.Heartbeat.PeerTimeout,
		MaxMessageAge:     cfg.Crypto.MaxMessageAge,
	}, registry, cryptoMgr, engine, bus)

	engine.SetApprovalHook(func(proposalID string, approvals, total int) {
		metrics.SecureOnlyEnabled.Set(1)
		bus.Publish(fmt.Sprintf("🔐 Secure-only messaging enabled! Threshold of %d/%d approvals met.",
			approvals, total))
	})

	checker := health.NewChecker(0)
	checker.RegisterCheck("listener", func(ctx context.Context) error {
		if !services.ListenerUp() {
			return fmt.Errorf("tcp listener not accepting")
		}
		return nil
	})
	checker.RegisterCheck("discovery", func(ctx context.Context) error {
		if !services.DiscoveryUp() {
			return fmt.Errorf("mdns registration not held")
		}
		return nil
	})

	return &Peer{
		cfg:      cfg,
		crypto:   cryptoMgr,
		registry: registry,
		engine:   engine,
		bus:      bus,
		net:      services,
		checker:  checker,
		logger:   logger.GetDefaultLogger().WithFields(logger.String("peer_id", peerID)),
	}, nil
}

// ID returns the peer's generated id.
func (p *Peer) ID() string { return p.crypto.Identity().PeerID }

// Name returns the normalized display name.
func (p *Peer) Name() string { return p.cfg.Name }

// Port returns the normalized TCP port.
func (p *Peer) Port() uint16 { return p.cfg.Port }

// Start runs all long-lived loops. The first loop to fail tears the
// rest down; Start returns when everything has stopped.
func (p *Peer) Start(ctx context.Context) error {
	identity := p.crypto.Identity()
	fmt.Println("🎙️  Starting P2P Chat...")
	fmt.Printf("👤 Your ID: %s\n", identity.PeerID)
	fmt.Printf("📡 Your Name: %s\n", identity.Name)
	fmt.Printf("🔌 Listening on port: %d\n", p.cfg.Port)
	fmt.Printf("🔑 Public Key: %s\n", crypto.Fingerprint(identity.PublicKey))

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.net.RunListener(ctx) })
	g.Go(func() error { return p.net.RunDiscovery(ctx) })
	g.Go(func() error { return p.net.RunHeartbeat(ctx) })
	g.Go(func() error { return p.net.RunHeartbeatListener(ctx) })
	g.Go(func() error { return p.net.RunReaper(ctx) })
	g.Go(func() error { return p.bus.Run(ctx) })
	g.Go(func() error { return p.runCommands(ctx) })

	if p.cfg.Metrics.Enabled {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", p.cfg.Metrics.Port)
			extra := map[string]http.Handler{"/healthz": p.checker.Handler()}
			return metrics.StartServer(ctx, addr, p.cfg.Metrics.Path, extra)
		})
	}

	// Give discovery a moment to seed the registry, then announce our
	// public key to whoever is already there.
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
			_ = p.net.BroadcastIdentity()
		}
	}()

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		p.logger.Error("peer stopped on error", logger.Error(err))
	}
	return err
}

// Shutdown broadcasts an exit notice, waits briefly for the writes to
// flush, and cancels every running loop. Safe to call more than once.
func (p *Peer) Shutdown() {
	p.shutdownOnce.Do(func() {
		exitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.net.BroadcastExit(exitCtx)

		fmt.Println("👋 Now Goodbye!")
		time.Sleep(exitFlushWindow)

		if p.cancel != nil {
			p.cancel()
		}
	})
}
