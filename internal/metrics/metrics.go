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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "p2pchat"

// Registry is the process-wide metrics registry.
var Registry = prometheus.NewRegistry()

var (
	// MessagesSent counts outbound messages by variant.
	MessagesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Total number of messages written to peers",
		},
		[]string{"type"}, // chat, signed_chat, discovery, exit, ...
	)

	// MessagesReceived counts inbound messages by variant.
	MessagesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of messages dispatched from peers",
		},
		[]string{"type"},
	)

	// DecodeFailures counts wire payloads that failed to decode.
	DecodeFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "decode_failures_total",
			Help:      "Total number of undecodable wire payloads",
		},
	)

	// Verifications counts signature checks by outcome.
	Verifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "verifications_total",
			Help:      "Total number of signature verifications",
		},
		[]string{"status"}, // verified, invalid, error, stale
	)

	// PeersKnown tracks the current registry size.
	PeersKnown = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "known",
			Help:      "Number of peers currently in the registry",
		},
	)

	// PeersEvicted counts liveness evictions.
	PeersEvicted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "evicted_total",
			Help:      "Total number of peers evicted for missed heartbeats",
		},
	)

	// ProposalsActive tracks proposals currently open for voting.
	ProposalsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "proposals_active",
			Help:      "Number of upgrade proposals open for voting",
		},
	)

	// SecureOnlyEnabled is 1 once the secure-only flag has latched.
	SecureOnlyEnabled = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "secure_only_enabled",
			Help:      "Whether secure-only messaging is enabled (latching)",
		},
	)

	// BroadcastSends counts per-peer outcomes of fan-out sends.
	BroadcastSends = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "sends_total",
			Help:      "Total number of per-peer broadcast attempts",
		},
		[]string{"status"}, // ok, failed
	)
)
