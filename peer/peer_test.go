package peer

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/p2pchat/crypto"
)

func TestPeerInfoValidity(t *testing.T) {
	valid := PeerInfo{ID: "id1", Name: "Peer1", IP: net.ParseIP("192.168.1.10"), Port: 9000}
	require.True(t, valid.IsValid())

	tests := []struct {
		name string
		info PeerInfo
	}{
		{"empty everything", PeerInfo{ID: "", Name: "", IP: net.ParseIP("0.0.0.0"), Port: 0}},
		{"blank id", PeerInfo{ID: "   ", Name: "Peer1", IP: net.ParseIP("10.0.0.1"), Port: 9000}},
		{"blank name", PeerInfo{ID: "id1", Name: " ", IP: net.ParseIP("10.0.0.1"), Port: 9000}},
		{"oversize name", PeerInfo{ID: "id1", Name: strings.Repeat("a", 1000), IP: net.ParseIP("10.0.0.1"), Port: 9000}},
		{"zero port", PeerInfo{ID: "id1", Name: "Peer1", IP: net.ParseIP("10.0.0.1"), Port: 0}},
		{"loopback", PeerInfo{ID: "id1", Name: "Peer1", IP: net.ParseIP("127.0.0.1"), Port: 9000}},
		{"multicast", PeerInfo{ID: "id1", Name: "Peer1", IP: net.ParseIP("224.0.0.1"), Port: 9000}},
		{"nil ip", PeerInfo{ID: "id1", Name: "Peer1", Port: 9000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.info.IsValid())
		})
	}
}

func TestPeerInfoAddr(t *testing.T) {
	info := PeerInfo{ID: "id1", Name: "Peer1", IP: net.ParseIP("192.168.1.10"), Port: 9000}
	require.Equal(t, "192.168.1.10:9000", info.Addr())

	v6 := PeerInfo{ID: "id2", Name: "Peer2", IP: net.ParseIP("fe80::1"), Port: 9000}
	require.Equal(t, "[fe80::1]:9000", v6.Addr())
}

func TestNetworkMessageRoundTrip(t *testing.T) {
	t.Run("Discovery", func(t *testing.T) {
		msg := NetworkMessage{Discovery: &PeerInfo{
			ID: "id1", Name: "Peer1", IP: net.ParseIP("192.168.1.10"), Port: 9000,
		}}
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		require.Contains(t, string(data), `"Discovery"`)

		var back NetworkMessage
		require.NoError(t, json.Unmarshal(data, &back))
		require.NotNil(t, back.Discovery)
		require.Equal(t, "id1", back.Discovery.ID)
		require.True(t, back.Discovery.IP.Equal(net.ParseIP("192.168.1.10")))
	})

	t.Run("Exit carries bare peer id", func(t *testing.T) {
		id := "peer-123"
		data, err := json.Marshal(NetworkMessage{Exit: &id})
		require.NoError(t, err)
		require.JSONEq(t, `{"Exit":"peer-123"}`, string(data))

		var back NetworkMessage
		require.NoError(t, json.Unmarshal(data, &back))
		require.NotNil(t, back.Exit)
		require.Equal(t, "peer-123", *back.Exit)
	})

	t.Run("Chat with embedded signature", func(t *testing.T) {
		msg := NetworkMessage{Chat: &Message{
			FromID:    "id1",
			FromName:  "Alice",
			Content:   "hello",
			Timestamp: 1234567890,
			Signature: make(crypto.Bytes, 64),
			PublicKey: make(crypto.Bytes, 32),
		}}
		data, err := json.Marshal(msg)
		require.NoError(t, err)

		var back NetworkMessage
		require.NoError(t, json.Unmarshal(data, &back))
		require.NotNil(t, back.Chat)
		require.Len(t, back.Chat.Signature, 64)
		require.Len(t, back.Chat.PublicKey, 32)
	})

	t.Run("Chat unsigned omits signature fields", func(t *testing.T) {
		msg := NetworkMessage{Chat: &Message{
			FromID: "id1", FromName: "Alice", Content: "hello", Timestamp: 1,
		}}
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NotContains(t, string(data), "signature")

		var back NetworkMessage
		require.NoError(t, json.Unmarshal(data, &back))
		require.Nil(t, back.Chat.Signature)
	})

	t.Run("unknown variant", func(t *testing.T) {
		var back NetworkMessage
		err := json.Unmarshal([]byte(`{"Bogus":1}`), &back)
		require.ErrorIs(t, err, ErrUnknownVariant)
	})

	t.Run("empty message refuses to marshal", func(t *testing.T) {
		_, err := json.Marshal(NetworkMessage{})
		require.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry("self-id")
	alice := PeerInfo{ID: "alice", Name: "Alice", IP: net.ParseIP("192.168.1.2"), Port: 9000}

	t.Run("insert and lookup", func(t *testing.T) {
		isNew, stored := reg.Upsert(alice)
		require.True(t, isNew)
		require.True(t, stored)
		require.Equal(t, 1, reg.Len())

		got, ok := reg.Get("alice")
		require.True(t, ok)
		require.Equal(t, alice.Name, got.Name)
	})

	t.Run("re-insert updates in place", func(t *testing.T) {
		moved := alice
		moved.Port = 9001
		isNew, stored := reg.Upsert(moved)
		require.False(t, isNew)
		require.True(t, stored)
		require.Equal(t, 1, reg.Len())

		got, _ := reg.Get("alice")
		require.EqualValues(t, 9001, got.Port)
	})

	t.Run("self refused", func(t *testing.T) {
		self := PeerInfo{ID: "self-id", Name: "Me", IP: net.ParseIP("192.168.1.3"), Port: 9000}
		_, stored := reg.Upsert(self)
		require.False(t, stored)
		require.False(t, reg.Contains("self-id"))
	})

	t.Run("invalid refused", func(t *testing.T) {
		bad := PeerInfo{ID: "bad", Name: "", IP: net.ParseIP("127.0.0.1"), Port: 0}
		_, stored := reg.Upsert(bad)
		require.False(t, stored)
	})

	t.Run("remove", func(t *testing.T) {
		require.True(t, reg.Remove("alice"))
		require.False(t, reg.Remove("alice"))
		require.Equal(t, 0, reg.Len())
	})
}

func TestRegistryExpireStale(t *testing.T) {
	reg := NewRegistry("self-id")
	reg.Upsert(PeerInfo{ID: "fresh", Name: "Fresh", IP: net.ParseIP("10.0.0.1"), Port: 9000})
	reg.Upsert(PeerInfo{ID: "stale", Name: "Stale", IP: net.ParseIP("10.0.0.2"), Port: 9000})

	// Nothing is older than a generous timeout.
	require.Empty(t, reg.ExpireStale(time.Hour))

	// Everything is older than a zero timeout.
	evicted := reg.ExpireStale(0)
	require.Len(t, evicted, 2)
	require.Equal(t, 0, reg.Len())
}
