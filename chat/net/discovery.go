package net

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
)

const (
	serviceType    = "_chat._udp"
	serviceDomain  = "local."
	browseInterval = 15 * time.Second
	appTag         = "app=p2pchat"
)

// RunDiscovery advertises this peer over mDNS and browses for others
// until the context is cancelled. The registration is held for the
// lifetime of the service.
func (s *Services) RunDiscovery(ctx context.Context) error {
	instance := fmt.Sprintf("%s-%s", s.cfg.SelfName, s.cfg.SelfID)
	txt := []string{fmt.Sprintf("peer_id=%s", s.cfg.SelfID), appTag}

	server, err := zeroconf.Register(instance, serviceType, serviceDomain, int(s.cfg.Port), txt, nil)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "mdns register failed", err)
	}
	defer server.Shutdown()

	s.discoveryUp.Store(true)
	defer s.discoveryUp.Store(false)
	s.logger.Info("mdns service registered",
		logger.String("instance", instance),
		logger.Int("port", int(s.cfg.Port)))

	for {
		if err := s.browseOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("mdns browse failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(browseInterval):
		}
	}
}

// browseOnce issues one query round and consumes responses until the
// round times out.
func (s *Services) browseOnce(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "mdns resolver failed", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, browseInterval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(browseCtx, serviceType, serviceDomain, entries); err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "mdns browse failed", err)
	}

	for entry := range entries {
		s.handleEntry(entry)
	}
	return nil
}

// handleEntry validates one mDNS response and inserts the peer. On the
// first sighting of an id, a Discovery message with our own info is
// sent back to accelerate mutual awareness.
func (s *Services) handleEntry(entry *zeroconf.ServiceEntry) {
	var peerID string
	tagged := false
	for _, txt := range entry.Text {
		if txt == appTag {
			tagged = true
		}
		if id, ok := strings.CutPrefix(txt, "peer_id="); ok {
			peerID = id
		}
	}
	if !tagged || peerID == "" {
		return
	}
	if peerID == s.cfg.SelfID {
		return
	}

	ip := firstAddr(entry)
	if ip == nil {
		return
	}

	port := uint16(entry.Port)
	if port == 0 {
		port = s.cfg.Port
	}

	info := peer.PeerInfo{
		ID:   peerID,
		Name: entry.Instance,
		IP:   ip,
		Port: port,
	}
	if !info.IsValid() {
		s.logger.Debug("skipping invalid mdns response",
			logger.String("peer_id", peerID))
		return
	}

	isNew, stored := s.registry.Upsert(info)
	if !stored {
		return
	}
	metrics.PeersKnown.Set(float64(s.registry.Len()))
	if !isNew {
		return
	}

	s.logger.Info("discovered peer via mdns",
		logger.String("peer_id", peerID),
		logger.String("name", info.Name),
		logger.String("addr", info.Addr()))
	s.display.Publish(fmt.Sprintf("🔍 Discovered peer via mDNS: %s at %s", info.Name, info.Addr()))

	// Our own bound address is the wildcard; the address the new peer
	// was reached on is the best guess for how the LAN sees us.
	self := s.selfInfo(ip)
	if !self.IsValid() {
		return
	}
	go func() {
		msg := &peer.NetworkMessage{Discovery: &self}
		if err := s.sendTo(info, msg); err != nil {
			s.logger.Debug("discovery unicast failed",
				logger.String("peer_id", peerID), logger.Error(err))
			return
		}
		metrics.MessagesSent.WithLabelValues("discovery").Inc()
	}()
}

func firstAddr(entry *zeroconf.ServiceEntry) net.IP {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0]
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0]
	}
	return nil
}
