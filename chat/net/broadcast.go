package net

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
)

// sendTo opens a fresh connection to one peer, writes a single framed
// message, and closes. Connect and write are each bounded by
// dialTimeout.
func (s *Services) sendTo(info peer.PeerInfo, msg *peer.NetworkMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeSerialization, "encode message", err)
	}
	data = append(data, '\n')

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.Dial("tcp", info.Addr())
	if err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "dial peer", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(data); err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "write message", err)
	}
	return nil
}

// fanOut sends a message to every valid registry entry under a single
// snapshot, counting successes. Per-peer failures are silent.
func (s *Services) fanOut(msg *peer.NetworkMessage, variant string) int {
	successful := 0
	for _, info := range s.registry.Snapshot() {
		if !info.IsValid() {
			continue
		}
		if err := s.sendTo(info, msg); err != nil {
			metrics.BroadcastSends.WithLabelValues("failed").Inc()
			s.logger.Debug("broadcast send failed",
				logger.String("peer_id", info.ID), logger.Error(err))
			continue
		}
		metrics.BroadcastSends.WithLabelValues("ok").Inc()
		metrics.MessagesSent.WithLabelValues(variant).Inc()
		successful++
	}
	return successful
}

// BroadcastMessage signs the content and fans it out. When secure-only
// is latched only the signed form is ever written; otherwise a legacy
// chat form with embedded signing material is sent, on a fresh
// connection, to any peer the signed envelope could not be sent to.
func (s *Services) BroadcastMessage(content string) error {
	timestamp := uint64(time.Now().Unix())
	signed, err := s.crypto.Sign(content, timestamp)
	if err != nil {
		return err
	}

	signedMsg := &peer.NetworkMessage{SignedChat: signed}

	if s.engine.SecureOnlyEnabled() {
		count := s.fanOut(signedMsg, "signed_chat")
		s.reportSends(content, timestamp, count)
		return nil
	}

	legacyMsg := &peer.NetworkMessage{Chat: &peer.Message{
		FromID:    s.cfg.SelfID,
		FromName:  s.cfg.SelfName,
		Content:   content,
		Timestamp: timestamp,
		Signature: signed.Signature,
		PublicKey: signed.PublicKey,
	}}

	successful := 0
	for _, info := range s.registry.Snapshot() {
		if !info.IsValid() {
			continue
		}
		err := s.sendTo(info, signedMsg)
		if err != nil {
			// Fresh connection for the legacy form; the failed stream
			// is already closed.
			err = s.sendTo(info, legacyMsg)
		}
		if err != nil {
			metrics.BroadcastSends.WithLabelValues("failed").Inc()
			continue
		}
		metrics.BroadcastSends.WithLabelValues("ok").Inc()
		metrics.MessagesSent.WithLabelValues("signed_chat").Inc()
		successful++
	}

	s.reportSends(content, timestamp, successful)
	return nil
}

func (s *Services) reportSends(content string, timestamp uint64, count int) {
	if count > 0 {
		s.display.Publish(fmt.Sprintf("📤 Signed message sent to %d peer(s)", count))
		s.logger.Debug("signed broadcast complete",
			logger.String("content", content),
			logger.Any("timestamp", timestamp),
			logger.Int("recipients", count))
	} else {
		s.display.Publish("📭 No peers available to receive the message")
	}
}

// BroadcastUnsigned fans out a chat message with no signing material.
// Refused once secure-only is latched.
func (s *Services) BroadcastUnsigned(content string) error {
	if s.engine.SecureOnlyEnabled() {
		return logger.NewChatError(logger.ErrCodePolicy,
			"cannot send unsigned when secure-only is enabled", nil)
	}

	msg := &peer.NetworkMessage{Chat: &peer.Message{
		FromID:    s.cfg.SelfID,
		FromName:  s.cfg.SelfName,
		Content:   content,
		Timestamp: uint64(time.Now().Unix()),
	}}

	count := s.fanOut(msg, "chat")
	if count > 0 {
		s.display.Publish(fmt.Sprintf("📤 Unsigned message sent to %d peer(s)", count))
	} else {
		s.display.Publish("📭 No peers available to receive the message")
	}
	return nil
}

// BroadcastIdentity announces this peer's public key to all peers.
func (s *Services) BroadcastIdentity() error {
	identity := s.crypto.Identity()
	msg := &peer.NetworkMessage{IdentityAnnouncement: &identity}

	count := s.fanOut(msg, "identity")
	if count > 0 {
		s.display.Publish(fmt.Sprintf("🔐 Identity announced to %d peer(s)", count))
	}
	return nil
}

// BroadcastProposal sends an upgrade proposal to all peers.
func (s *Services) BroadcastProposal(proposalID string) error {
	proposal, ok := s.engine.Proposal(proposalID)
	if !ok {
		return logger.NewChatError(logger.ErrCodeState, "proposal not found", nil)
	}

	msg := &peer.NetworkMessage{UpgradeRequest: &proposal}
	count := s.fanOut(msg, "upgrade_request")
	s.display.Publish(fmt.Sprintf("📡 Upgrade proposal sent to %d peer(s)", count))
	return nil
}

// BroadcastVote sends this peer's recorded vote on a proposal.
func (s *Services) BroadcastVote(proposalID string) error {
	vote, ok := s.engine.OwnVote(proposalID, s.cfg.SelfID)
	if !ok {
		return logger.NewChatError(logger.ErrCodeState, "no local vote recorded", nil)
	}

	msg := &peer.NetworkMessage{UpgradeVote: &vote}
	count := s.fanOut(msg, "upgrade_vote")
	s.display.Publish(fmt.Sprintf("🗳️  Vote sent to %d peer(s)", count))
	return nil
}

// BroadcastExit tells every known peer this peer is leaving.
func (s *Services) BroadcastExit(ctx context.Context) {
	id := s.cfg.SelfID
	msg := &peer.NetworkMessage{Exit: &id}

	for _, info := range s.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if !info.IsValid() {
			continue
		}
		if err := s.sendTo(info, msg); err == nil {
			metrics.MessagesSent.WithLabelValues("exit").Inc()
			s.logger.Info("exit broadcast",
				logger.String("peer_id", info.ID),
				logger.String("name", info.Name))
		}
	}
}
