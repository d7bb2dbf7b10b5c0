package chat

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/threshold"
)

// maxInputLength bounds a single interactive line.
const maxInputLength = 512

// runCommands reads user input line by line and executes commands until
// the context is cancelled or stdin closes.
func (p *Peer) runCommands(ctx context.Context) error {
	printHelp()
	printPrompt()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 4096), 64*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := p.handleCommand(line); quit {
				return nil
			}
			printPrompt()
		}
	}
}

// handleCommand executes one input line, reporting whether the peer
// should shut down.
func (p *Peer) handleCommand(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if len(input) > maxInputLength {
		fmt.Println("Input too long. Please keep messages under 512 characters.")
		return false
	}

	command, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch command {
	case "/quit":
		p.Shutdown()
		return true

	case "/list":
		p.printPeerList()

	case "/crypto":
		p.printCryptoInfo()

	case "/propose":
		p.proposeUpgrade(args)

	case "/vote":
		p.voteOnProposal(args)

	case "/proposals":
		p.printProposals()

	case "/status":
		p.printStatus()

	case "/unsigned":
		if err := p.net.BroadcastUnsigned(args); err != nil {
			fmt.Printf("❌ Failed to send unsigned message: %v\n", err)
		}

	default:
		content := input
		if rest, ok := strings.CutPrefix(input, "/msg "); ok {
			content = rest
		}
		if err := p.net.BroadcastMessage(content); err != nil {
			fmt.Printf("❌ Failed to send message: %v\n", err)
		}
	}
	return false
}

func (p *Peer) printPeerList() {
	peers := p.registry.Snapshot()
	if len(peers) == 0 {
		fmt.Println("📭 No peers discovered yet.")
		return
	}
	fmt.Println("👥 Discovered peers:")
	for _, info := range peers {
		fmt.Printf("  - %s (%s) at %s\n", info.Name, info.ID, info.Addr())
	}
}

func (p *Peer) printCryptoInfo() {
	identity := p.crypto.Identity()
	fmt.Println("🔐 Cryptographic Identity:")
	fmt.Printf("  Peer ID: %s\n", identity.PeerID)
	fmt.Printf("  Name: %s\n", identity.Name)
	fmt.Printf("  Public Key: %x\n", []byte(identity.PublicKey))
	fmt.Printf("  Known Peer Keys: %d\n", p.crypto.KnownPeerCount())
}

// proposeUpgrade creates a proposal requiring a simple majority of the
// network as it is known right now (registry plus this peer).
func (p *Peer) proposeUpgrade(description string) {
	if description == "" {
		description = threshold.DefaultDescription
	}

	totalPeers := p.registry.Len() + 1
	required := totalPeers/2 + 1

	proposalID, err := p.engine.CreateProposal(p.ID(), p.Name(), description, required, totalPeers)
	if err != nil {
		fmt.Printf("❌ Failed to create upgrade proposal: %v\n", err)
		return
	}
	metrics.ProposalsActive.Set(float64(len(p.engine.ActiveProposals())))
	if err := p.net.BroadcastProposal(proposalID); err != nil {
		fmt.Printf("❌ Failed to broadcast upgrade proposal: %v\n", err)
		return
	}
	fmt.Println("✅ Upgrade proposal created successfully!")
	fmt.Printf("📋 Proposal ID: %s\n", proposalID)
}

func (p *Peer) voteOnProposal(args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		fmt.Println("❌ Usage: /vote <proposal_id> <approve|reject>")
		return
	}
	proposalID := parts[0]

	var approved bool
	switch strings.ToLower(parts[1]) {
	case "approve", "yes", "true", "1":
		approved = true
	case "reject", "no", "false", "0":
		approved = false
	default:
		fmt.Println("❌ Invalid vote. Use 'approve' or 'reject'")
		return
	}

	if err := p.engine.CastVote(proposalID, p.ID(), p.Name(), approved, p.crypto); err != nil {
		fmt.Printf("❌ Failed to vote on upgrade proposal: %v\n", err)
		return
	}
	metrics.ProposalsActive.Set(float64(len(p.engine.ActiveProposals())))
	if err := p.net.BroadcastVote(proposalID); err != nil {
		fmt.Printf("❌ Failed to broadcast vote: %v\n", err)
		return
	}

	verdict := "approved"
	if !approved {
		verdict = "rejected"
	}
	fmt.Printf("✅ Successfully %s upgrade proposal: %s\n", verdict, proposalID)
}

func (p *Peer) printProposals() {
	proposals := p.engine.ActiveProposals()
	if len(proposals) == 0 {
		fmt.Println("📭 No active upgrade proposals")
		return
	}
	fmt.Println("🔐 Active Upgrade Proposals:")
	for _, proposal := range proposals {
		fmt.Printf("  📋 ID: %s\n", proposal.ProposalID)
		fmt.Printf("    Proposed by: %s (%s)\n", proposal.ProposerName, proposal.ProposerID)
		fmt.Printf("    Description: %s\n", proposal.Description)
		fmt.Printf("    Required: %d/%d approvals\n", proposal.RequiredApprovals, proposal.TotalPeers)
		fmt.Printf("    Created: %d\n", proposal.Timestamp)
		fmt.Println()
	}
}

func (p *Peer) printStatus() {
	secureEnabled := p.engine.SecureOnlyEnabled()
	proposals := p.engine.ActiveProposals()

	fmt.Println("🔐 Security Status:")
	status := "❌ DISABLED"
	if secureEnabled {
		status = "✅ ENABLED"
	}
	fmt.Printf("  Secure-only messaging: %s\n", status)
	fmt.Printf("  Active proposals: %d\n", len(proposals))

	if len(proposals) == 0 {
		return
	}
	fmt.Println("\n📋 Active Proposals:")
	for _, proposal := range proposals {
		approvals, rejections := 0, 0
		for _, vote := range p.engine.ProposalVotes(proposal.ProposalID) {
			if vote.Approved {
				approvals++
			} else {
				rejections++
			}
		}
		fmt.Printf("  📋 %s: %d/%d approvals, %d rejections\n",
			proposal.ProposalID, approvals, proposal.RequiredApprovals, rejections)
	}
}

func printHelp() {
	fmt.Println("\n📋 Commands:")
	fmt.Println("  /list    - List discovered peers")
	fmt.Println("  /msg <message> - Send signed message to all peers")
	fmt.Println("  /unsigned <message> - Send unsigned message to all peers")
	fmt.Println("  /crypto  - Show cryptographic information")
	fmt.Println("  /propose <description> - Propose secure-only messaging upgrade")
	fmt.Println("  /vote <proposal_id> <approve|reject> - Vote on upgrade proposal")
	fmt.Println("  /proposals - List active upgrade proposals")
	fmt.Println("  /status  - Show security status and proposals")
	fmt.Println("  /quit    - Quit the application")
	fmt.Println("  Just type any message to broadcast it (signed by default)!")
	fmt.Println()
}
