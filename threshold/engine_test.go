package threshold

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/p2pchat/crypto"
)

func newSigner(t *testing.T, id, name string) *crypto.Manager {
	t.Helper()
	mgr, err := crypto.NewManager(id, name)
	require.NoError(t, err)
	return mgr
}

func TestProposalCreation(t *testing.T) {
	engine := NewEngine()

	id, err := engine.CreateProposal("proposer", "Proposer", "Enable secure messaging", 2, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	active := engine.ActiveProposals()
	require.Len(t, active, 1)
	require.Equal(t, id, active[0].ProposalID)

	state, ok := engine.State(id)
	require.True(t, ok)
	require.Equal(t, StateOpen, state)
	require.False(t, engine.SecureOnlyEnabled())
}

func TestInsertReceivedProposalIdempotent(t *testing.T) {
	engine := NewEngine()

	original := UpgradeProposal{
		ProposalID:        "prop-1",
		ProposerID:        "p1",
		ProposerName:      "P1",
		Timestamp:         1000,
		Description:       "first",
		RequiredApprovals: 2,
		TotalPeers:        3,
	}
	engine.InsertReceivedProposal(original)

	// A re-broadcast with altered terms must not take effect.
	forged := original
	forged.RequiredApprovals = 1
	forged.Description = "weakened"
	engine.InsertReceivedProposal(forged)

	got, ok := engine.Proposal("prop-1")
	require.True(t, ok)
	require.Equal(t, 2, got.RequiredApprovals)
	require.Equal(t, "first", got.Description)
}

func TestThresholdReached(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	id, err := engine.CreateProposal("proposer", "Proposer", "Enable secure messaging", 2, 3)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(id, "v1", "V1", true, signer))
	state, _ := engine.State(id)
	require.Equal(t, StateOpen, state)
	require.False(t, engine.SecureOnlyEnabled())

	require.NoError(t, engine.CastVote(id, "v2", "V2", true, signer))
	state, _ = engine.State(id)
	require.Equal(t, StateApproved, state)
	require.True(t, engine.SecureOnlyEnabled())
}

func TestMixedVotesStayOpen(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	id, err := engine.CreateProposal("proposer", "Proposer", "Enable secure messaging", 2, 3)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(id, "v1", "V1", true, signer))
	require.NoError(t, engine.CastVote(id, "v2", "V2", false, signer))

	state, _ := engine.State(id)
	require.Equal(t, StateOpen, state)

	votes := engine.ProposalVotes(id)
	approvals, rejections := 0, 0
	for _, v := range votes {
		if v.Approved {
			approvals++
		} else {
			rejections++
		}
	}
	require.Equal(t, 1, approvals)
	require.Equal(t, 1, rejections)
}

func TestDuplicateVoteRejected(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	id, err := engine.CreateProposal("proposer", "Proposer", "Enable secure messaging", 2, 3)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(id, "v1", "V1", true, signer))

	err = engine.CastVote(id, "v1", "V1", false, signer)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already voted")
	require.Len(t, engine.ProposalVotes(id), 1)
}

func TestVoteOnMissingProposal(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	err := engine.CastVote("no-such-id", "v1", "V1", true, signer)
	require.Error(t, err)
	require.Contains(t, err.Error(), "state not found")
}

func TestVoteOnClosedProposal(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	id, err := engine.CreateProposal("proposer", "Proposer", "Enable secure messaging", 1, 2)
	require.NoError(t, err)
	require.NoError(t, engine.CastVote(id, "v1", "V1", true, signer))

	err = engine.CastVote(id, "v2", "V2", true, signer)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not open for voting")
}

func TestProposalsIndependent(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	p1, err := engine.CreateProposal("proposer", "Proposer", "first", 1, 2)
	require.NoError(t, err)
	p2, err := engine.CreateProposal("proposer", "Proposer", "second", 1, 2)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(p1, "x", "X", true, signer))

	s1, _ := engine.State(p1)
	s2, _ := engine.State(p2)
	require.Equal(t, StateApproved, s1)
	require.Equal(t, StateOpen, s2)

	active := engine.ActiveProposals()
	require.Len(t, active, 1)
	require.Equal(t, p2, active[0].ProposalID)
}

func TestApprovalVotesSignedRejectionsNot(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	id, err := engine.CreateProposal("proposer", "Proposer", "desc", 3, 4)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(id, "yes-voter", "Y", true, signer))
	require.NoError(t, engine.CastVote(id, "no-voter", "N", false, signer))

	votes := engine.ProposalVotes(id)
	require.Len(t, votes, 2)
	for _, v := range votes {
		if v.Approved {
			require.Len(t, []byte(v.Signature), 64)
		} else {
			require.Empty(t, v.Signature)
		}
	}
}

func TestHandleReceivedVote(t *testing.T) {
	t.Run("duplicate ignored", func(t *testing.T) {
		engine := NewEngine()
		engine.InsertReceivedProposal(UpgradeProposal{
			ProposalID: "p", RequiredApprovals: 2, TotalPeers: 3,
		})

		vote := UpgradeVote{ProposalID: "p", VoterID: "v1", VoterName: "V1", Approved: true, Timestamp: 10}
		engine.HandleReceivedVote(vote, nil)
		engine.HandleReceivedVote(vote, nil)
		require.Len(t, engine.ProposalVotes("p"), 1)
	})

	t.Run("threshold via received votes", func(t *testing.T) {
		engine := NewEngine()
		engine.InsertReceivedProposal(UpgradeProposal{
			ProposalID: "p", RequiredApprovals: 2, TotalPeers: 3,
		})

		engine.HandleReceivedVote(UpgradeVote{ProposalID: "p", VoterID: "v1", Approved: true}, nil)
		engine.HandleReceivedVote(UpgradeVote{ProposalID: "p", VoterID: "v2", Approved: true}, nil)

		state, _ := engine.State("p")
		require.Equal(t, StateApproved, state)
		require.True(t, engine.SecureOnlyEnabled())
	})

	t.Run("bad signature dropped when key bound", func(t *testing.T) {
		engine := NewEngine()
		engine.InsertReceivedProposal(UpgradeProposal{
			ProposalID: "p", RequiredApprovals: 1, TotalPeers: 2,
		})

		voter := newSigner(t, "voter", "Voter")
		verifier := newSigner(t, "self", "Self")
		require.NoError(t, verifier.AddKnownPeer("voter", voter.PublicKey()))

		forged := make(crypto.Bytes, 64)
		engine.HandleReceivedVote(UpgradeVote{
			ProposalID: "p", VoterID: "voter", Approved: true, Timestamp: 10, Signature: forged,
		}, verifier)

		require.Empty(t, engine.ProposalVotes("p"))
		require.False(t, engine.SecureOnlyEnabled())
	})

	t.Run("valid signature accepted when key bound", func(t *testing.T) {
		engine := NewEngine()
		engine.InsertReceivedProposal(UpgradeProposal{
			ProposalID: "p", RequiredApprovals: 1, TotalPeers: 2,
		})

		voter := newSigner(t, "voter", "Voter")
		verifier := newSigner(t, "self", "Self")
		require.NoError(t, verifier.AddKnownPeer("voter", voter.PublicKey()))

		// Build the vote the same way a remote CastVote would.
		remote := NewEngine()
		remote.InsertReceivedProposal(UpgradeProposal{
			ProposalID: "p", RequiredApprovals: 1, TotalPeers: 2,
		})
		require.NoError(t, remote.CastVote("p", "voter", "Voter", true, voter))
		vote, ok := remote.OwnVote("p", "voter")
		require.True(t, ok)

		engine.HandleReceivedVote(vote, verifier)
		require.Len(t, engine.ProposalVotes("p"), 1)
		require.True(t, engine.SecureOnlyEnabled())
	})
}

func TestRejectionThreshold(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	// M=2 of N=3: two rejections make approval unreachable.
	id, err := engine.CreateProposal("proposer", "Proposer", "desc", 2, 3)
	require.NoError(t, err)

	require.NoError(t, engine.CastVote(id, "v1", "V1", false, signer))
	state, _ := engine.State(id)
	require.Equal(t, StateOpen, state)

	require.NoError(t, engine.CastVote(id, "v2", "V2", false, signer))
	state, _ = engine.State(id)
	require.Equal(t, StateRejected, state)
	require.False(t, engine.SecureOnlyEnabled())

	// Terminal: further votes refused.
	err = engine.CastVote(id, "v3", "V3", true, signer)
	require.Error(t, err)
}

func TestSecureOnlyLatches(t *testing.T) {
	engine := NewEngine()
	signer := newSigner(t, "test-peer", "TestPeer")

	fired := 0
	engine.SetApprovalHook(func(string, int, int) { fired++ })

	id, err := engine.CreateProposal("proposer", "Proposer", "desc", 1, 1)
	require.NoError(t, err)
	require.NoError(t, engine.CastVote(id, "v1", "V1", true, signer))
	require.True(t, engine.SecureOnlyEnabled())
	require.Equal(t, 1, fired)

	// A later rejected proposal does not clear the flag.
	id2, err := engine.CreateProposal("proposer", "Proposer", "desc", 1, 1)
	require.NoError(t, err)
	require.NoError(t, engine.CastVote(id2, "v1", "V1", false, signer))
	require.True(t, engine.SecureOnlyEnabled())
}
