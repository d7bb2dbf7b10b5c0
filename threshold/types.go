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

// Package threshold tracks secure-messaging upgrade proposals and their
// M-of-N approval votes, latching the process-wide secure-only flag
// when a proposal reaches its threshold.
package threshold

import (
	"github.com/sage-x-project/p2pchat/crypto"
)

// DefaultDescription is used for proposals created without one.
const DefaultDescription = "Enable secure-only messaging for all future communications"

// UpgradeProposal is a request to enter secure-only mode, approved when
// RequiredApprovals (M) of TotalPeers (N) peers vote yes.
type UpgradeProposal struct {
	ProposalID        string `json:"proposal_id"`
	ProposerID        string `json:"proposer_id"`
	ProposerName      string `json:"proposer_name"`
	Timestamp         uint64 `json:"timestamp"`
	Description       string `json:"description"`
	RequiredApprovals int    `json:"required_approvals"`
	TotalPeers        int    `json:"total_peers"`
}

// UpgradeVote is a single peer's vote on a proposal. Approval votes
// carry a signature over proposal_id:voter_id:approved:timestamp;
// rejections are unsigned and advisory.
type UpgradeVote struct {
	ProposalID string       `json:"proposal_id"`
	VoterID    string       `json:"voter_id"`
	VoterName  string       `json:"voter_name"`
	Approved   bool         `json:"approved"`
	Timestamp  uint64       `json:"timestamp"`
	Signature  crypto.Bytes `json:"signature,omitempty"`
}

// PartialSignature is a share of a future M-of-N aggregate signature.
// Shares are collected and displayed but not yet combined.
type PartialSignature struct {
	ProposalID string       `json:"proposal_id"`
	SignerID   string       `json:"signer_id"`
	SignerName string       `json:"signer_name"`
	Signature  crypto.Bytes `json:"signature"`
	PublicKey  crypto.Bytes `json:"public_key"`
	Timestamp  uint64       `json:"timestamp"`
}

// ProposalState is the lifecycle state of a proposal.
type ProposalState string

const (
	// StateOpen means the proposal is accepting votes.
	StateOpen ProposalState = "Open"
	// StateApproved means the approval threshold was reached. Terminal.
	StateApproved ProposalState = "Approved"
	// StateRejected means enough rejections arrived that the approval
	// threshold can no longer be reached. Terminal.
	StateRejected ProposalState = "Rejected"
)
