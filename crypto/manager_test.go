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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerCreation(t *testing.T) {
	mgr, err := NewManager("test-peer", "TestPeer")
	require.NoError(t, err)

	id := mgr.Identity()
	require.Equal(t, "test-peer", id.PeerID)
	require.Equal(t, "TestPeer", id.Name)
	require.Len(t, id.PublicKey, 32)

	// Identity is stable across reads
	require.Equal(t, id, mgr.Identity())
}

func TestSignAndVerify(t *testing.T) {
	mgr, err := NewManager("test-peer", "TestPeer")
	require.NoError(t, err)

	signed, err := mgr.Sign("Hello, world!", 1234567890)
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", signed.Message)
	require.EqualValues(t, 1234567890, signed.Timestamp)
	require.Len(t, signed.Signature, 64)

	ok, err := mgr.Verify(signed)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTamperDetection(t *testing.T) {
	mgr, err := NewManager("test-peer", "TestPeer")
	require.NoError(t, err)

	t.Run("mutated message", func(t *testing.T) {
		signed, err := mgr.Sign("Hello, world!", 1234567890)
		require.NoError(t, err)
		signed.Message = "Hello, tampered!"

		ok, err := mgr.Verify(signed)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("mutated timestamp", func(t *testing.T) {
		signed, err := mgr.Sign("Hello, world!", 1234567890)
		require.NoError(t, err)
		signed.Timestamp++

		ok, err := mgr.Verify(signed)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("mutated signature", func(t *testing.T) {
		signed, err := mgr.Sign("Hello, world!", 1234567890)
		require.NoError(t, err)
		signed.Signature[0] ^= 0xff

		ok, err := mgr.Verify(signed)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("truncated signature", func(t *testing.T) {
		signed, err := mgr.Sign("Hello, world!", 1234567890)
		require.NoError(t, err)
		signed.Signature = signed.Signature[:10]

		_, err = mgr.Verify(signed)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("malformed public key", func(t *testing.T) {
		other, err := NewManager("other-peer", "Other")
		require.NoError(t, err)
		signed, err := other.Sign("Hello, world!", 1234567890)
		require.NoError(t, err)
		signed.PublicKey = signed.PublicKey[:16]

		// The verifier has never seen other-peer, so the attached key
		// is the only candidate and must parse.
		_, err = mgr.Verify(signed)
		require.ErrorIs(t, err, ErrInvalidPublicKey)
	})
}

func TestVerifyPrefersKnownKey(t *testing.T) {
	alice, err := NewManager("alice", "Alice")
	require.NoError(t, err)
	bob, err := NewManager("bob", "Bob")
	require.NoError(t, err)

	require.NoError(t, bob.AddKnownPeer("alice", alice.PublicKey()))

	signed, err := alice.Sign("hi bob", 42)
	require.NoError(t, err)
	// A swapped attached key must not fool a verifier that already
	// holds alice's real key.
	mallory, err := NewManager("mallory", "Mallory")
	require.NoError(t, err)
	signed.PublicKey = mallory.PublicKey()

	ok, err := bob.Verify(signed)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyCachesAttachedKey(t *testing.T) {
	alice, err := NewManager("alice", "Alice")
	require.NoError(t, err)
	bob, err := NewManager("bob", "Bob")
	require.NoError(t, err)

	require.Equal(t, 0, bob.KnownPeerCount())

	signed, err := alice.Sign("first contact", 42)
	require.NoError(t, err)
	ok, err := bob.Verify(signed)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, bob.KnownPeerCount())
	_, bound := bob.KnownKey("alice")
	require.True(t, bound)
}

func TestAddKnownPeer(t *testing.T) {
	mgr, err := NewManager("self", "Self")
	require.NoError(t, err)

	other, err := NewManager("other", "Other")
	require.NoError(t, err)

	require.NoError(t, mgr.AddKnownPeer("other", other.PublicKey()))
	require.Equal(t, 1, mgr.KnownPeerCount())

	t.Run("rejects short key", func(t *testing.T) {
		err := mgr.AddKnownPeer("bad", []byte{1, 2, 3})
		require.ErrorIs(t, err, ErrInvalidPublicKey)
	})

	t.Run("overwrite keeps single binding", func(t *testing.T) {
		replacement, err := NewManager("other", "Other2")
		require.NoError(t, err)
		require.NoError(t, mgr.AddKnownPeer("other", replacement.PublicKey()))
		require.Equal(t, 1, mgr.KnownPeerCount())

		key, ok := mgr.KnownKey("other")
		require.True(t, ok)
		require.EqualValues(t, replacement.PublicKey(), Bytes(key))
	})
}

func TestIsRecent(t *testing.T) {
	mgr, err := NewManager("self", "Self")
	require.NoError(t, err)

	now := uint64(time.Now().Unix())
	require.True(t, mgr.IsRecent(now, 3600))
	require.True(t, mgr.IsRecent(now+1000, 3600), "future timestamps pass")
	require.False(t, mgr.IsRecent(1234567890, 3600))
}

func TestBytesWireFormat(t *testing.T) {
	data, err := json.Marshal(Bytes{0, 127, 255})
	require.NoError(t, err)
	require.JSONEq(t, "[0,127,255]", string(data))

	var back Bytes
	require.NoError(t, json.Unmarshal([]byte("[0,127,255]"), &back))
	require.Equal(t, Bytes{0, 127, 255}, back)

	require.Error(t, json.Unmarshal([]byte("[300]"), &back))
}
