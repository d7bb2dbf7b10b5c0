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

package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/sage-x-project/p2pchat/internal/logger"
)

// Manager holds a peer's Ed25519 keypair and a trust-on-first-use cache
// of remote verifying keys. The keypair is generated fresh per process
// and never persisted.
type Manager struct {
	signingKey   ed25519.PrivateKey
	verifyingKey ed25519.PublicKey
	identity     Identity

	mu        sync.RWMutex
	knownKeys map[string]ed25519.PublicKey

	logger logger.Logger
}

// NewManager generates a fresh Ed25519 keypair for the given peer.
func NewManager(peerID, name string) (*Manager, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	return &Manager{
		signingKey:   privateKey,
		verifyingKey: publicKey,
		identity: Identity{
			PeerID:    peerID,
			Name:      name,
			PublicKey: Bytes(publicKey),
		},
		knownKeys: make(map[string]ed25519.PublicKey),
		logger:    logger.GetDefaultLogger().WithFields(logger.String("service", "crypto")),
	}, nil
}

// Identity returns the peer's public identity. The peer id and public
// key are stable for the lifetime of the process.
func (m *Manager) Identity() Identity {
	return m.identity
}

// PublicKey returns the peer's verifying key bytes.
func (m *Manager) PublicKey() Bytes {
	return Bytes(m.verifyingKey)
}

// signingPayload binds the content to its timestamp; the pair is what
// gets signed and verified.
func signingPayload(message string, timestamp uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d", message, timestamp))
}

// Sign signs message content bound to a timestamp and packages the
// result with the signer's identity.
func (m *Manager) Sign(message string, timestamp uint64) (*SignedMessage, error) {
	signature := ed25519.Sign(m.signingKey, signingPayload(message, timestamp))

	return &SignedMessage{
		Message:    message,
		Signature:  Bytes(signature),
		PublicKey:  Bytes(m.verifyingKey),
		SignerID:   m.identity.PeerID,
		SignerName: m.identity.Name,
		Timestamp:  timestamp,
	}, nil
}

// Verify checks a signed message. The verifying key is resolved from
// the known-key cache by signer id, falling back to the public key
// attached to the message; a successfully parsed attached key is cached
// for future lookups.
func (m *Manager) Verify(signed *SignedMessage) (bool, error) {
	m.mu.RLock()
	key, ok := m.knownKeys[signed.SignerID]
	m.mu.RUnlock()

	if !ok {
		parsed, err := parseVerifyingKey(signed.PublicKey)
		if err != nil {
			return false, err
		}
		m.mu.Lock()
		m.knownKeys[signed.SignerID] = parsed
		m.mu.Unlock()
		key = parsed
	}

	if len(signed.Signature) != ed25519.SignatureSize {
		return false, ErrInvalidSignature
	}

	return ed25519.Verify(key, signingPayload(signed.Message, signed.Timestamp), signed.Signature), nil
}

// AddKnownPeer caches a remote verifying key under the peer id. A
// conflicting key for an already-bound id is replaced, with a warning,
// so that trust stays first-use but rebinds are visible in the log.
func (m *Manager) AddKnownPeer(peerID string, publicKey []byte) error {
	key, err := parseVerifyingKey(publicKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if prev, ok := m.knownKeys[peerID]; ok && !bytes.Equal(prev, key) {
		m.logger.Warn("replacing bound public key",
			logger.String("peer_id", peerID),
			logger.String("old_key", Fingerprint(prev)),
			logger.String("new_key", Fingerprint(key)))
	}
	m.knownKeys[peerID] = key
	m.mu.Unlock()

	return nil
}

// KnownKey returns the cached verifying key for a peer id, if bound.
func (m *Manager) KnownKey(peerID string) (ed25519.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.knownKeys[peerID]
	return key, ok
}

// KnownPeerCount returns the number of cached verifying keys.
func (m *Manager) KnownPeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.knownKeys)
}

// IsRecent reports whether the timestamp is within maxAge seconds of
// now. Future timestamps are accepted.
func (m *Manager) IsRecent(timestamp, maxAgeSeconds uint64) bool {
	now := uint64(time.Now().Unix())
	if timestamp >= now {
		return true
	}
	return now-timestamp <= maxAgeSeconds
}

// VerifyWithKey checks an Ed25519 signature over arbitrary payload
// bytes with an explicit verifying key.
func VerifyWithKey(key ed25519.PublicKey, payload, signature []byte) (bool, error) {
	if len(signature) != ed25519.SignatureSize {
		return false, ErrInvalidSignature
	}
	return ed25519.Verify(key, payload, signature), nil
}

// Fingerprint renders a short base58 tag of a verifying key for logs
// and status output.
func Fingerprint(key []byte) string {
	if len(key) < 8 {
		return base58.Encode(key)
	}
	return base58.Encode(key[:8])
}

// parseVerifyingKey validates the byte length and rejects encodings
// that are not canonical curve points.
func parseVerifyingKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return nil, ErrInvalidPublicKey
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, b)
	return key, nil
}
