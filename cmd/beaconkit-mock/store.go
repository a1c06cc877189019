// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sync"
	"sync/atomic"

	"github.com/beaconkit/beaconkit/protocol"
)

// storedFragment is the JSON shape of one decoded fragment in the
// dump endpoint.
type storedFragment struct {
	EventType int         `json:"event_type"`
	SessionID string      `json:"session_id"`
	Pairs     [][2]string `json:"pairs"`
}

// fragmentStore holds every decoded fragment in memory for test
// assertions, grouped nothing — order of arrival is the order tests
// care about.
type fragmentStore struct {
	mu        sync.Mutex
	fragments []storedFragment

	statusRequests atomic.Uint64
	beaconRequests atomic.Uint64
}

func (s *fragmentStore) addChunk(fragments []*protocol.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fragment := range fragments {
		sessionID, _ := fragment.Get(protocol.KeySessionID)
		s.fragments = append(s.fragments, storedFragment{
			EventType: int(fragment.EventType()),
			SessionID: sessionID,
			Pairs:     fragment.Pairs(),
		})
	}
}

func (s *fragmentStore) snapshot() []storedFragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storedFragment, len(s.fragments))
	copy(out, s.fragments)
	return out
}

func (s *fragmentStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = nil
}

func (s *fragmentStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}
