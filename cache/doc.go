// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache buffers serialized event fragments per session until
// the dispatch worker ships them. It is the only state shared between
// recording callers and the dispatcher, and it bounds memory with
// byte watermarks: past the upper watermark, the globally oldest
// pending records are dropped until the cache is back at the lower
// one. Losing old data under pressure is deliberate — the SDK is a
// best-effort, at-most-once telemetry path, not a reliable queue.
//
// Records drained for a send attempt move to a per-session in-flight
// list, where they are immune to eviction, until the send is confirmed
// (records removed) or fails (records requeued ahead of newer pending
// data).
package cache
