// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package beaconkit is a client-side telemetry SDK. Applications
// create a Client, open Sessions from it, and record actions, user
// identifications, values, and crashes; the SDK buffers everything in
// a bounded in-memory cache and a single background worker ships it to
// the collector over HTTP, honoring the capture policy the collector
// returns.
//
// Recording is always local and non-blocking. Network failures,
// backoff, eviction under memory pressure, and capture-policy changes
// are handled entirely by the background worker; the recording path
// never observes them.
package beaconkit
