package crypto

import (
	"encoding/json"
	"errors"
)

// Errors that can occur during cryptographic operations
var (
	ErrInvalidPublicKey   = errors.New("invalid public key format")
	ErrInvalidSignature   = errors.New("invalid signature format")
	ErrVerificationFailed = errors.New("message verification failed")
	ErrMessageTooOld      = errors.New("message is too old")
)

// Bytes is a byte slice that serializes as a JSON array of numbers
// rather than a base64 string, matching the wire format of signatures
// and public keys.
type Bytes []byte

// MarshalJSON implements json.Marshaler
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	nums := make([]uint16, len(b))
	for i, v := range b {
		nums[i] = uint16(v)
	}
	return json.Marshal(nums)
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []uint16
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	if nums == nil {
		*b = nil
		return nil
	}
	out := make([]byte, len(nums))
	for i, v := range nums {
		if v > 255 {
			return errors.New("byte value out of range")
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Identity is the public view of a peer's cryptographic identity
type Identity struct {
	PeerID    string `json:"peer_id"`
	Name      string `json:"name"`
	PublicKey Bytes  `json:"public_key"`
}

// SignedMessage is a chat message carrying an Ed25519 signature over
// the message content bound to its timestamp.
type SignedMessage struct {
	Message    string `json:"message"`
	Signature  Bytes  `json:"signature"`
	PublicKey  Bytes  `json:"public_key"`
	SignerID   string `json:"signer_id"`
	SignerName string `json:"signer_name"`
	Timestamp  uint64 `json:"timestamp"`
}
