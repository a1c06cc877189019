// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync/atomic"
	"time"

	"github.com/beaconkit/beaconkit/beacon"
)

// Action is a named unit of work opened within a session. It holds
// only its own data and the owning session pointer for callbacks; the
// wire fragment refers to the session by id.
//
// An Action's data reaches the cache only when Leave is called. A
// handle that is never left leaves no trace.
type Action struct {
	session  *Session
	id       int64
	name     string
	startSeq int64
	start    time.Time

	// inert marks handles returned after the session ended: every
	// method is a silent no-op.
	inert bool

	left atomic.Bool
}

// ID returns the action's per-session id, or 0 for an inert handle.
func (a *Action) ID() int64 { return a.id }

// Name returns the action name. May be empty — an action entered
// without a name is still valid.
func (a *Action) Name() string { return a.name }

// ReportValue records a numeric value attributed to this action.
func (a *Action) ReportValue(name string, value float64) {
	if a.inert {
		return
	}
	a.session.beacon.ReportValue(a.id, name, value)
}

// ReportStringValue records a string value attributed to this action.
func (a *Action) ReportStringValue(name, value string) {
	if a.inert {
		return
	}
	a.session.beacon.ReportStringValue(a.id, name, value)
}

// Leave closes the action and immediately records its close fragment,
// regardless of the session's current state. Idempotent per handle:
// only the first call emits.
func (a *Action) Leave() {
	if a.inert {
		return
	}
	if !a.left.CompareAndSwap(false, true) {
		return
	}

	a.session.actionLeft(a, beacon.ActionData{
		ID:        a.id,
		ParentID:  0,
		Name:      a.name,
		StartSeq:  a.startSeq,
		EndSeq:    a.session.beacon.NextSequence(),
		StartTime: a.start,
		EndTime:   a.session.beacon.Now(),
	})
}
