package net

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
)

// broadcastListenConfig enables SO_BROADCAST so writes to the limited
// broadcast address are permitted.
var broadcastListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var opErr error
		if err := c.Control(func(fd uintptr) {
			opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
		}); err != nil {
			return err
		}
		return opErr
	},
}

// RunHeartbeat broadcasts a liveness ping on the LAN at the configured
// interval. Send failures are logged and the loop continues.
func (s *Services) RunHeartbeat(ctx context.Context) error {
	conn, err := broadcastListenConfig.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "heartbeat socket failed", err)
	}
	defer conn.Close()

	target := &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: int(s.cfg.HeartbeatPort),
	}

	id := s.cfg.SelfID
	data, err := json.Marshal(peer.NetworkMessage{Heartbeat: &id})
	if err != nil {
		return logger.NewChatError(logger.ErrCodeSerialization, "encode heartbeat", err)
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if _, err := conn.WriteTo(data, target); err != nil {
			s.logger.Warn("failed to send heartbeat", logger.Error(err))
		} else {
			metrics.MessagesSent.WithLabelValues("heartbeat").Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunHeartbeatListener consumes liveness pings from the LAN and
// refreshes last-seen times in the registry.
func (s *Services) RunHeartbeatListener(ctx context.Context) error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", s.cfg.HeartbeatPort))
	if err != nil {
		// Another local peer may already own the port; liveness then
		// relies on the refreshes made by mDNS sightings and Discovery
		// messages alone.
		s.logger.Warn("heartbeat listen failed, liveness tracking degraded", logger.Error(err))
		<-ctx.Done()
		return nil
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return logger.NewChatError(logger.ErrCodeNetwork, "heartbeat read failed", err)
		}

		var msg peer.NetworkMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Heartbeat == nil {
			continue
		}
		if *msg.Heartbeat == s.cfg.SelfID {
			continue
		}
		metrics.MessagesReceived.WithLabelValues("heartbeat").Inc()
		s.registry.MarkSeen(*msg.Heartbeat)
	}
}

// RunReaper evicts peers whose heartbeats have gone quiet. Disabled
// when the timeout is zero; Exit messages still remove peers promptly.
func (s *Services) RunReaper(ctx context.Context) error {
	if s.cfg.PeerTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.PeerTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, info := range s.registry.ExpireStale(s.cfg.PeerTimeout) {
				metrics.PeersEvicted.Inc()
				s.logger.Info("evicted unresponsive peer",
					logger.String("peer_id", info.ID),
					logger.String("name", info.Name))
				s.display.Publish(fmt.Sprintf("⌛ Peer %s timed out and was removed from the list.", info.Name))
			}
			metrics.PeersKnown.Set(float64(s.registry.Len()))
		}
	}
}
