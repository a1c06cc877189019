// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "sync/atomic"

// CapturePolicy is the process-wide snapshot of the collector's
// capture directives. It is replaced as a whole after each successful
// exchange and read by every session's recording path, so it must stay
// a small value type — copied out, never mutated in place.
type CapturePolicy struct {
	// Capture gates recording. When false, new events are discarded
	// before reaching the cache and buffered data for the epoch is
	// purged.
	Capture bool

	// ServerID is the collector-assigned backend id.
	ServerID int

	// MaxBeaconSizeBytes bounds a single payload chunk.
	MaxBeaconSizeBytes int

	// Multiplicity is the collector's sampling factor, forwarded
	// opaquely on the wire.
	Multiplicity int

	// Epoch increments on every replacement. Buffered data belongs to
	// the epoch it was recorded under; a capture-off replacement purges
	// the previous epoch's data.
	Epoch uint64
}

// DefaultPolicy returns the policy in effect before the first
// collector exchange: capture on, 30 KB beacons, multiplicity 1.
func DefaultPolicy() CapturePolicy {
	return CapturePolicy{
		Capture:            true,
		ServerID:           1,
		MaxBeaconSizeBytes: 30 * 1024,
		Multiplicity:       1,
	}
}

// PolicyStore holds the current CapturePolicy snapshot. Reads are
// lock-free and return the policy by value; replacement swaps the
// whole snapshot atomically. Only the dispatch worker replaces the
// policy; everything else reads.
type PolicyStore struct {
	current atomic.Pointer[CapturePolicy]
}

// NewPolicyStore creates a store holding the given initial policy.
func NewPolicyStore(initial CapturePolicy) *PolicyStore {
	store := &PolicyStore{}
	store.current.Store(&initial)
	return store
}

// Snapshot returns the current policy by value.
func (s *PolicyStore) Snapshot() CapturePolicy {
	return *s.current.Load()
}

// Apply derives a new policy from a parsed status response, installs
// it with an incremented epoch, and returns it.
func (s *PolicyStore) Apply(response *StatusResponse) CapturePolicy {
	previous := s.current.Load()
	next := CapturePolicy{
		Capture:            response.Capture,
		ServerID:           response.ServerID,
		MaxBeaconSizeBytes: response.MaxBeaconSizeKB * 1024,
		Multiplicity:       response.Multiplicity,
		Epoch:              previous.Epoch + 1,
	}
	s.current.Store(&next)
	return next
}
