// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that components
// with timers — the dispatch worker's send cycle, retry backoff, the
// metrics sampler — can be driven deterministically in tests.
//
// Real() wraps the time package for production use. Fake() stands
// still until Advance is called; WaitForTimers lets a test block until
// the code under test has registered its timer, eliminating
// advance-before-register races.
package clock
