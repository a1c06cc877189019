// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs the SDK's single background worker: it owns
// the registry of live sessions, drains their caches over the
// transport on a fixed cycle, applies the collector's capture policy,
// and retries failed sends with capped exponential backoff tracked per
// session.
//
// Every cycle drains open sessions before finishing ones, so a
// just-ended session's final data never jumps ahead of sessions still
// recording. A finishing session leaves the registry, and reaches its
// Closed state, once its cache is empty. While the collector has
// capture disabled the cycle polls status instead of sending beacons,
// so a later response can re-enable capture. Graceful termination
// makes one best-effort flush pass and abandons the rest.
package dispatch
