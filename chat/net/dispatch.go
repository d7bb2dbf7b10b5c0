package net

import (
	"fmt"
	"net"
	"time"

	"github.com/sage-x-project/p2pchat/crypto"
	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
	"github.com/sage-x-project/p2pchat/threshold"
)

// dispatch routes one decoded message to its typed handler.
func (s *Services) dispatch(msg *peer.NetworkMessage, remote net.Addr) {
	switch {
	case msg.Chat != nil:
		metrics.MessagesReceived.WithLabelValues("chat").Inc()
		s.handleChat(msg.Chat)
	case msg.SignedChat != nil:
		metrics.MessagesReceived.WithLabelValues("signed_chat").Inc()
		s.verifyAndDisplay(msg.SignedChat)
	case msg.Discovery != nil:
		metrics.MessagesReceived.WithLabelValues("discovery").Inc()
		s.handleDiscovery(msg.Discovery)
	case msg.Heartbeat != nil:
		metrics.MessagesReceived.WithLabelValues("heartbeat").Inc()
		s.registry.MarkSeen(*msg.Heartbeat)
	case msg.Exit != nil:
		metrics.MessagesReceived.WithLabelValues("exit").Inc()
		s.handleExit(*msg.Exit)
	case msg.IdentityAnnouncement != nil:
		metrics.MessagesReceived.WithLabelValues("identity").Inc()
		s.handleIdentityAnnouncement(msg.IdentityAnnouncement)
	case msg.UpgradeRequest != nil:
		metrics.MessagesReceived.WithLabelValues("upgrade_request").Inc()
		s.handleUpgradeRequest(msg.UpgradeRequest)
	case msg.UpgradeVote != nil:
		metrics.MessagesReceived.WithLabelValues("upgrade_vote").Inc()
		s.handleUpgradeVote(msg.UpgradeVote)
	case msg.PartialSignature != nil:
		metrics.MessagesReceived.WithLabelValues("partial_signature").Inc()
		s.handlePartialSignature(msg.PartialSignature)
	default:
		metrics.DecodeFailures.Inc()
		s.logger.Debug("message with no recognized variant",
			logger.String("remote", remote.String()))
	}
}

// handleChat displays a legacy chat message. When signing material is
// embedded it is treated as a signed message and verified.
func (s *Services) handleChat(msg *peer.Message) {
	if msg.Signature != nil && msg.PublicKey != nil {
		s.verifyAndDisplay(&crypto.SignedMessage{
			Message:    msg.Content,
			Signature:  msg.Signature,
			PublicKey:  msg.PublicKey,
			SignerID:   msg.FromID,
			SignerName: msg.FromName,
			Timestamp:  msg.Timestamp,
		})
		return
	}
	s.display.Publish(fmt.Sprintf("📝 %s says (unsigned): %s", msg.FromName, msg.Content))
}

// verifyAndDisplay checks freshness and signature, then publishes one
// of the three verification outcomes.
func (s *Services) verifyAndDisplay(signed *crypto.SignedMessage) {
	if !s.crypto.IsRecent(signed.Timestamp, uint64(s.cfg.MaxMessageAge/time.Second)) {
		metrics.Verifications.WithLabelValues("stale").Inc()
		s.display.Publish(fmt.Sprintf("❓ %s says (verification failed: %v): %s",
			signed.SignerName, crypto.ErrMessageTooOld, signed.Message))
		return
	}

	ok, err := s.crypto.Verify(signed)
	switch {
	case err != nil:
		metrics.Verifications.WithLabelValues("error").Inc()
		s.display.Publish(fmt.Sprintf("❓ %s says (verification failed: %v): %s",
			signed.SignerName, err, signed.Message))
	case ok:
		metrics.Verifications.WithLabelValues("verified").Inc()
		s.display.Publish(fmt.Sprintf("🔐 %s says (verified): %s",
			signed.SignerName, signed.Message))
	default:
		metrics.Verifications.WithLabelValues("invalid").Inc()
		s.display.Publish(fmt.Sprintf("⚠️  %s says (INVALID SIGNATURE): %s",
			signed.SignerName, signed.Message))
	}
}

// handleDiscovery inserts a peer learned over TCP.
func (s *Services) handleDiscovery(info *peer.PeerInfo) {
	if info.ID == s.cfg.SelfID {
		return
	}
	if !info.IsValid() {
		s.logger.Warn("invalid peer info received via tcp",
			logger.String("peer_id", info.ID))
		return
	}

	isNew, stored := s.registry.Upsert(*info)
	if !stored {
		return
	}
	metrics.PeersKnown.Set(float64(s.registry.Len()))
	if isNew {
		s.logger.Info("discovered peer via tcp",
			logger.String("peer_id", info.ID),
			logger.String("name", info.Name),
			logger.String("addr", info.Addr()))
		s.display.Publish(fmt.Sprintf("🔗 Discovered peer via TCP: %s at %s", info.Name, info.IP))
	}
}

// handleExit removes a departed peer and prints a departure line.
func (s *Services) handleExit(peerID string) {
	if !s.registry.Remove(peerID) {
		return
	}
	metrics.PeersKnown.Set(float64(s.registry.Len()))
	fmt.Printf("[%s] ❌ Peer %s exited and was removed from the list.\n",
		time.Now().Format("15:04:05"), peerID)
}

// handleIdentityAnnouncement binds an announced public key.
func (s *Services) handleIdentityAnnouncement(id *crypto.Identity) {
	if err := s.crypto.AddKnownPeer(id.PeerID, id.PublicKey); err != nil {
		s.logger.Warn("failed to add announced key",
			logger.String("peer_id", id.PeerID), logger.Error(err))
		return
	}
	s.logger.Info("bound public key for peer",
		logger.String("peer_id", id.PeerID),
		logger.String("name", id.Name),
		logger.String("key", crypto.Fingerprint(id.PublicKey)))
}

// handleUpgradeRequest stores a received proposal and announces it.
func (s *Services) handleUpgradeRequest(proposal *threshold.UpgradeProposal) {
	s.engine.InsertReceivedProposal(*proposal)
	metrics.ProposalsActive.Set(float64(len(s.engine.ActiveProposals())))

	s.logger.Info("received upgrade proposal",
		logger.String("proposal_id", proposal.ProposalID),
		logger.String("proposer", proposal.ProposerName),
		logger.Int("required", proposal.RequiredApprovals),
		logger.Int("total", proposal.TotalPeers))
	s.display.Publish(fmt.Sprintf("🔐 %s proposed secure messaging upgrade: %s (ID: %s)",
		proposal.ProposerName, proposal.Description, proposal.ProposalID))
}

// handleUpgradeVote records a received vote and announces it.
func (s *Services) handleUpgradeVote(vote *threshold.UpgradeVote) {
	s.engine.HandleReceivedVote(*vote, s.crypto)
	metrics.ProposalsActive.Set(float64(len(s.engine.ActiveProposals())))

	verdict := "✅ APPROVED"
	if !vote.Approved {
		verdict = "❌ REJECTED"
	}
	s.display.Publish(fmt.Sprintf("🗳️  %s voted %s on upgrade proposal %s",
		vote.VoterName, verdict, vote.ProposalID))
}

// handlePartialSignature stores a signature share for future M-of-N
// aggregation.
func (s *Services) handlePartialSignature(partial *threshold.PartialSignature) {
	s.engine.HandlePartialSignature(*partial)
	s.logger.Info("received partial signature",
		logger.String("proposal_id", partial.ProposalID),
		logger.String("signer", partial.SignerName))
	s.display.Publish(fmt.Sprintf("🔐 %s provided partial signature for proposal %s",
		partial.SignerName, partial.ProposalID))
}
