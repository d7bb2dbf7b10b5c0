// Package net runs the peer's network services: the TCP listener and
// dispatcher, the outbound broadcaster, mDNS discovery, and the UDP
// heartbeat. Services share a narrow environment rather than the whole
// peer; each takes only the handles it needs.
package net

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/sage-x-project/p2pchat/crypto"
	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/peer"
	"github.com/sage-x-project/p2pchat/threshold"
)

// dialTimeout bounds outbound connect and write.
const dialTimeout = 5 * time.Second

// maxWireLine bounds a single NDJSON wire line.
const maxWireLine = 64 * 1024

// Publisher delivers formatted lines to the user-facing display.
type Publisher interface {
	Publish(msg string)
}

// Config carries the identity and tunables shared by the services.
type Config struct {
	SelfID   string
	SelfName string
	Port     uint16

	HeartbeatInterval time.Duration
	HeartbeatPort     uint16
	PeerTimeout       time.Duration

	// MaxMessageAge is the freshness window for signed messages.
	MaxMessageAge time.Duration
}

// Services composes the network side of the peer.
type Services struct {
	cfg      Config
	registry *peer.Registry
	crypto   *crypto.Manager
	engine   *threshold.Engine
	display  Publisher
	logger   logger.Logger

	listenerUp  atomic.Bool
	discoveryUp atomic.Bool
}

// NewServices wires the network services to their collaborators.
func NewServices(cfg Config, registry *peer.Registry, cryptoMgr *crypto.Manager, engine *threshold.Engine, display Publisher) *Services {
	return &Services{
		cfg:      cfg,
		registry: registry,
		crypto:   cryptoMgr,
		engine:   engine,
		display:  display,
		logger:   logger.GetDefaultLogger().WithFields(logger.String("service", "net")),
	}
}

// ListenerUp reports whether the TCP listener is accepting.
func (s *Services) ListenerUp() bool { return s.listenerUp.Load() }

// DiscoveryUp reports whether the mDNS registration is held.
func (s *Services) DiscoveryUp() bool { return s.discoveryUp.Load() }

// selfInfo builds this peer's address record as seen from a given
// LAN address. The caller supplies the IP because the peer itself only
// knows it is bound to the wildcard address.
func (s *Services) selfInfo(visibleFrom net.IP) peer.PeerInfo {
	return peer.PeerInfo{
		ID:   s.cfg.SelfID,
		Name: s.cfg.SelfName,
		IP:   visibleFrom,
		Port: s.cfg.Port,
	}
}
