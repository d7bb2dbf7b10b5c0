// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package threshold

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/p2pchat/crypto"
	"github.com/sage-x-project/p2pchat/internal/logger"
)

// Signer produces signed messages for approval votes.
type Signer interface {
	Sign(message string, timestamp uint64) (*crypto.SignedMessage, error)
}

// KeyResolver looks up a cached verifying key for a peer id.
type KeyResolver interface {
	KnownKey(peerID string) (ed25519.PublicKey, bool)
}

// ApprovalHook is invoked once when a proposal reaches its threshold.
type ApprovalHook func(proposalID string, approvals, totalPeers int)

// Engine tracks proposals, votes, and partial signatures, each table
// behind its own lock. Locks are held only across map operations, never
// across I/O.
type Engine struct {
	proposalsMu sync.RWMutex
	proposals   map[string]UpgradeProposal

	votesMu sync.Mutex
	votes   map[string][]UpgradeVote

	partialsMu sync.Mutex
	partials   map[string][]PartialSignature

	statesMu sync.Mutex
	states   map[string]ProposalState

	secureOnly atomic.Bool

	hookMu     sync.Mutex
	onApproved ApprovalHook

	logger logger.Logger
}

// NewEngine creates an empty decision engine.
func NewEngine() *Engine {
	return &Engine{
		proposals: make(map[string]UpgradeProposal),
		votes:     make(map[string][]UpgradeVote),
		partials:  make(map[string][]PartialSignature),
		states:    make(map[string]ProposalState),
		logger:    logger.GetDefaultLogger().WithFields(logger.String("service", "threshold")),
	}
}

// SetApprovalHook registers a callback fired when any proposal flips to
// Approved.
func (e *Engine) SetApprovalHook(hook ApprovalHook) {
	e.hookMu.Lock()
	e.onApproved = hook
	e.hookMu.Unlock()
}

// CreateProposal registers a new local proposal and returns its id.
func (e *Engine) CreateProposal(proposerID, proposerName, description string, requiredApprovals, totalPeers int) (string, error) {
	now := time.Now().Unix()
	if now < 0 {
		return "", logger.NewChatError(logger.ErrCodeUnknown, "time", nil)
	}

	proposal := UpgradeProposal{
		ProposalID:        uuid.New().String(),
		ProposerID:        proposerID,
		ProposerName:      proposerName,
		Timestamp:         uint64(now),
		Description:       description,
		RequiredApprovals: requiredApprovals,
		TotalPeers:        totalPeers,
	}

	e.insert(proposal)
	return proposal.ProposalID, nil
}

// InsertReceivedProposal stores a proposal learned from the network.
// Re-broadcasts of an id already present are ignored, so a proposer
// cannot rewrite the threshold or description after the fact.
func (e *Engine) InsertReceivedProposal(proposal UpgradeProposal) {
	e.proposalsMu.RLock()
	_, exists := e.proposals[proposal.ProposalID]
	e.proposalsMu.RUnlock()
	if exists {
		return
	}
	e.insert(proposal)
}

func (e *Engine) insert(proposal UpgradeProposal) {
	e.proposalsMu.Lock()
	e.proposals[proposal.ProposalID] = proposal
	e.proposalsMu.Unlock()

	e.votesMu.Lock()
	e.votes[proposal.ProposalID] = nil
	e.votesMu.Unlock()

	e.partialsMu.Lock()
	e.partials[proposal.ProposalID] = nil
	e.partialsMu.Unlock()

	e.statesMu.Lock()
	e.states[proposal.ProposalID] = StateOpen
	e.statesMu.Unlock()
}

// votePayload is the content signed by approval votes; the signer
// appends the single :timestamp binding, the same way chat messages
// are bound.
func votePayload(proposalID, voterID string, approved bool) string {
	return fmt.Sprintf("%s:%s:%t", proposalID, voterID, approved)
}

// CastVote records this peer's own vote. Approvals are signed; a
// rejection carries no signature.
func (e *Engine) CastVote(proposalID, voterID, voterName string, approved bool, signer Signer) error {
	state, ok := e.State(proposalID)
	if !ok {
		return logger.NewChatError(logger.ErrCodeState, "state not found", nil)
	}
	if state != StateOpen {
		return logger.NewChatError(logger.ErrCodeState, "not open for voting", nil)
	}

	e.votesMu.Lock()
	for _, v := range e.votes[proposalID] {
		if v.VoterID == voterID {
			e.votesMu.Unlock()
			return logger.NewChatError(logger.ErrCodeState, "already voted", nil)
		}
	}
	e.votesMu.Unlock()

	timestamp := uint64(time.Now().Unix())

	var signature crypto.Bytes
	if approved {
		signed, err := signer.Sign(votePayload(proposalID, voterID, approved), timestamp)
		if err != nil {
			return err
		}
		signature = signed.Signature
	}

	vote := UpgradeVote{
		ProposalID: proposalID,
		VoterID:    voterID,
		VoterName:  voterName,
		Approved:   approved,
		Timestamp:  timestamp,
		Signature:  signature,
	}

	e.votesMu.Lock()
	e.votes[proposalID] = append(e.votes[proposalID], vote)
	e.votesMu.Unlock()

	e.checkThreshold(proposalID)
	return nil
}

// HandleReceivedVote records a vote learned from the network. A second
// vote from the same voter is ignored. Signed approvals are checked
// against the voter's cached key when one is bound; a bad signature
// drops the vote. Unsigned votes and votes from unknown keys are
// counted as advisory.
func (e *Engine) HandleReceivedVote(vote UpgradeVote, keys KeyResolver) {
	e.votesMu.Lock()
	for _, v := range e.votes[vote.ProposalID] {
		if v.VoterID == vote.VoterID {
			e.votesMu.Unlock()
			return
		}
	}
	e.votesMu.Unlock()

	if len(vote.Signature) > 0 && keys != nil {
		if key, bound := keys.KnownKey(vote.VoterID); bound {
			data := votePayload(vote.ProposalID, vote.VoterID, vote.Approved)
			payload := []byte(fmt.Sprintf("%s:%d", data, vote.Timestamp))
			ok, err := crypto.VerifyWithKey(key, payload, vote.Signature)
			if err != nil || !ok {
				e.logger.Warn("dropping vote with bad signature",
					logger.String("proposal_id", vote.ProposalID),
					logger.String("voter_id", vote.VoterID),
					logger.Error(err))
				return
			}
		} else {
			e.logger.Debug("vote from peer with no bound key, counting as advisory",
				logger.String("voter_id", vote.VoterID))
		}
	}

	e.votesMu.Lock()
	e.votes[vote.ProposalID] = append(e.votes[vote.ProposalID], vote)
	e.votesMu.Unlock()

	e.checkThreshold(vote.ProposalID)
}

// HandlePartialSignature stores a received signature share.
func (e *Engine) HandlePartialSignature(partial PartialSignature) {
	e.partialsMu.Lock()
	e.partials[partial.ProposalID] = append(e.partials[partial.ProposalID], partial)
	e.partialsMu.Unlock()
}

// checkThreshold recounts the votes on one proposal and applies the
// Open -> Approved / Open -> Rejected transitions.
func (e *Engine) checkThreshold(proposalID string) {
	proposal, ok := e.Proposal(proposalID)
	if !ok {
		return
	}
	if state, ok := e.State(proposalID); !ok || state != StateOpen {
		return
	}

	approvals, rejections := 0, 0
	e.votesMu.Lock()
	for _, v := range e.votes[proposalID] {
		if v.Approved {
			approvals++
		} else {
			rejections++
		}
	}
	e.votesMu.Unlock()

	switch {
	case approvals >= proposal.RequiredApprovals:
		e.statesMu.Lock()
		e.states[proposalID] = StateApproved
		e.statesMu.Unlock()
		e.secureOnly.Store(true)

		e.logger.Info("proposal approved, secure-only latched",
			logger.String("proposal_id", proposalID),
			logger.Int("approvals", approvals),
			logger.Int("total_peers", proposal.TotalPeers))

		e.hookMu.Lock()
		hook := e.onApproved
		e.hookMu.Unlock()
		if hook != nil {
			hook(proposalID, approvals, proposal.TotalPeers)
		}

	case rejections > proposal.TotalPeers-proposal.RequiredApprovals:
		// Approval can no longer reach M.
		e.statesMu.Lock()
		e.states[proposalID] = StateRejected
		e.statesMu.Unlock()

		e.logger.Info("proposal rejected",
			logger.String("proposal_id", proposalID),
			logger.Int("rejections", rejections))
	}
}

// ActiveProposals returns all proposals still open for voting.
func (e *Engine) ActiveProposals() []UpgradeProposal {
	e.statesMu.Lock()
	open := make(map[string]bool, len(e.states))
	for id, s := range e.states {
		if s == StateOpen {
			open[id] = true
		}
	}
	e.statesMu.Unlock()

	e.proposalsMu.RLock()
	defer e.proposalsMu.RUnlock()
	var active []UpgradeProposal
	for id, p := range e.proposals {
		if open[id] {
			active = append(active, p)
		}
	}
	return active
}

// ProposalVotes returns a copy of the votes recorded for a proposal.
func (e *Engine) ProposalVotes(proposalID string) []UpgradeVote {
	e.votesMu.Lock()
	defer e.votesMu.Unlock()
	return append([]UpgradeVote(nil), e.votes[proposalID]...)
}

// OwnVote returns the vote a given voter has recorded on a proposal.
func (e *Engine) OwnVote(proposalID, voterID string) (UpgradeVote, bool) {
	e.votesMu.Lock()
	defer e.votesMu.Unlock()
	for _, v := range e.votes[proposalID] {
		if v.VoterID == voterID {
			return v, true
		}
	}
	return UpgradeVote{}, false
}

// State returns the lifecycle state of a proposal.
func (e *Engine) State(proposalID string) (ProposalState, bool) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	state, ok := e.states[proposalID]
	return state, ok
}

// Proposal returns a proposal by id.
func (e *Engine) Proposal(proposalID string) (UpgradeProposal, bool) {
	e.proposalsMu.RLock()
	defer e.proposalsMu.RUnlock()
	p, ok := e.proposals[proposalID]
	return p, ok
}

// SecureOnlyEnabled reports the latching secure-only flag. Once true it
// stays true for the life of the process.
func (e *Engine) SecureOnlyEnabled() bool {
	return e.secureOnly.Load()
}
