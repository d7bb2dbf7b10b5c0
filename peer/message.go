package peer

import (
	"encoding/json"
	"errors"

	"github.com/sage-x-project/p2pchat/crypto"
	"github.com/sage-x-project/p2pchat/threshold"
)

// ProtocolVersion identifies the wire protocol: externally tagged JSON
// envelopes, one per line (newline-delimited JSON framing).
const ProtocolVersion = "p2pchat/2-ndjson"

// ErrUnknownVariant is returned when an envelope carries no recognized tag.
var ErrUnknownVariant = errors.New("unknown message variant")

// Message is a chat payload. Signature and PublicKey are present when
// the sender embedded signing material in the legacy chat form.
type Message struct {
	FromID    string       `json:"from_id"`
	FromName  string       `json:"from_name"`
	Content   string       `json:"content"`
	Timestamp uint64       `json:"timestamp"`
	Signature crypto.Bytes `json:"signature,omitempty"`
	PublicKey crypto.Bytes `json:"public_key,omitempty"`
}

// NetworkMessage is the tagged union written on the wire. Exactly one
// field is set; it serializes as {"Variant": payload}.
type NetworkMessage struct {
	Discovery            *PeerInfo
	Chat                 *Message
	SignedChat           *crypto.SignedMessage
	Heartbeat            *string
	Exit                 *string
	IdentityAnnouncement *crypto.Identity
	UpgradeRequest       *threshold.UpgradeProposal
	UpgradeVote          *threshold.UpgradeVote
	PartialSignature     *threshold.PartialSignature
}

// MarshalJSON writes the single set variant as an externally tagged
// object.
func (m NetworkMessage) MarshalJSON() ([]byte, error) {
	wrap := func(tag string, payload interface{}) ([]byte, error) {
		return json.Marshal(map[string]interface{}{tag: payload})
	}

	switch {
	case m.Discovery != nil:
		return wrap("Discovery", m.Discovery)
	case m.Chat != nil:
		return wrap("Chat", m.Chat)
	case m.SignedChat != nil:
		return wrap("SignedChat", m.SignedChat)
	case m.Heartbeat != nil:
		return wrap("Heartbeat", m.Heartbeat)
	case m.Exit != nil:
		return wrap("Exit", m.Exit)
	case m.IdentityAnnouncement != nil:
		return wrap("IdentityAnnouncement", m.IdentityAnnouncement)
	case m.UpgradeRequest != nil:
		return wrap("UpgradeRequest", m.UpgradeRequest)
	case m.UpgradeVote != nil:
		return wrap("UpgradeVote", m.UpgradeVote)
	case m.PartialSignature != nil:
		return wrap("PartialSignature", m.PartialSignature)
	default:
		return nil, ErrUnknownVariant
	}
}

// UnmarshalJSON reads an externally tagged object into the matching
// variant field.
func (m *NetworkMessage) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	for tag, payload := range tagged {
		switch tag {
		case "Discovery":
			m.Discovery = &PeerInfo{}
			return json.Unmarshal(payload, m.Discovery)
		case "Chat":
			m.Chat = &Message{}
			return json.Unmarshal(payload, m.Chat)
		case "SignedChat":
			m.SignedChat = &crypto.SignedMessage{}
			return json.Unmarshal(payload, m.SignedChat)
		case "Heartbeat":
			m.Heartbeat = new(string)
			return json.Unmarshal(payload, m.Heartbeat)
		case "Exit":
			m.Exit = new(string)
			return json.Unmarshal(payload, m.Exit)
		case "IdentityAnnouncement":
			m.IdentityAnnouncement = &crypto.Identity{}
			return json.Unmarshal(payload, m.IdentityAnnouncement)
		case "UpgradeRequest":
			m.UpgradeRequest = &threshold.UpgradeProposal{}
			return json.Unmarshal(payload, m.UpgradeRequest)
		case "UpgradeVote":
			m.UpgradeVote = &threshold.UpgradeVote{}
			return json.Unmarshal(payload, m.UpgradeVote)
		case "PartialSignature":
			m.PartialSignature = &threshold.PartialSignature{}
			return json.Unmarshal(payload, m.PartialSignature)
		}
	}
	return ErrUnknownVariant
}
