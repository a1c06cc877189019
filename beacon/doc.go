// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package beacon turns a session's structured events into wire
// fragments and buffers them for the dispatch worker. One Beacon
// exists per session; it owns the session's sequence and action id
// counters and is the only writer of that session's cache data.
//
// Recording is the hot path: synchronous, allocation-light, no
// network, no visible failures. The network lives entirely in Send,
// which the dispatch worker calls on its own schedule.
package beacon
