// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconkit/beaconkit/beacon"
	"github.com/beaconkit/beaconkit/protocol"
)

// State is a session's lifecycle position. Transitions only move
// forward: Active → Ending → Closed.
type State int32

const (
	// StateActive accepts new actions and reports.
	StateActive State = iota
	// StateEnding has emitted its end fragment and waits for the
	// dispatcher's final flush. No new actions; reports still land.
	StateEnding
	// StateClosed is terminal: the dispatcher flushed (or discarded)
	// the session's data and dropped it from the registry.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender registers sessions for background dispatch. Implemented by
// the dispatch package; sessions never talk to the network themselves.
type Sender interface {
	// StartSession registers a session. Idempotent per session
	// instance.
	StartSession(*Session)

	// FinishSession moves a session from open to finishing for its
	// final flush.
	FinishSession(*Session)
}

// Config holds Session construction parameters.
type Config struct {
	// Beacon serializes this session's events. Required.
	Beacon *beacon.Beacon

	// Sender receives the session's lifecycle registrations. Required.
	Sender Sender

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Session is a bounded period of host-application activity. It owns
// its Beacon and its open Actions exclusively; actions refer back to
// the session only through ids, so no reference cycles form.
//
// All recording methods are synchronous, safe for concurrent use from
// any number of goroutines, and never fail visibly. Network activity
// happens only on the dispatch worker.
type Session struct {
	beacon *beacon.Beacon
	sender Sender
	logger *slog.Logger

	state     atomic.Int32
	startTime time.Time

	mu          sync.Mutex
	endTime     time.Time
	openActions map[int64]*Action
}

// New creates a Session and registers it with the Sender. The session
// starts Active with the beacon's clock as its start time.
func New(config Config) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		beacon:      config.Beacon,
		sender:      config.Sender,
		logger:      logger,
		startTime:   config.Beacon.Now(),
		openActions: make(map[int64]*Action),
	}
	s.sender.StartSession(s)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.beacon.SessionID() }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// StartTime returns the session's creation time.
func (s *Session) StartTime() time.Time { return s.startTime }

// EndTime returns the time End was first called, or the zero time
// while the session is still active.
func (s *Session) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// EnterAction opens a named unit of work and returns its handle. An
// empty name is valid and tracked under the empty string rather than
// rejected. Two actions with identical names are distinct,
// independently trackable handles.
//
// After End, EnterAction returns an inert handle whose Leave records
// nothing — a session in Ending accepts no new actions.
func (s *Session) EnterAction(name string) *Action {
	if s.State() != StateActive {
		return &Action{inert: true}
	}

	action := &Action{
		session:  s,
		id:       s.beacon.NextActionID(),
		name:     name,
		startSeq: s.beacon.NextSequence(),
		start:    s.beacon.Now(),
	}

	s.mu.Lock()
	s.openActions[action.id] = action
	s.mu.Unlock()
	return action
}

// IdentifyUser records a user tag. Permitted in every state, never
// deduplicated; an empty tag is recorded as-is.
func (s *Session) IdentifyUser(tag string) {
	s.beacon.IdentifyUser(tag)
}

// ReportCrash records a crash report. Permitted in every state, never
// deduplicated; all-empty arguments are recorded as-is.
func (s *Session) ReportCrash(name, reason, stacktrace string) {
	s.beacon.ReportCrash(name, reason, stacktrace)
}

// ReportValue records a session-level numeric value.
func (s *Session) ReportValue(name string, value float64) {
	s.beacon.ReportValue(0, name, value)
}

// ReportStringValue records a session-level string value.
func (s *Session) ReportStringValue(name, value string) {
	s.beacon.ReportStringValue(0, name, value)
}

// End transitions the session to Ending: it stamps the end time, emits
// the session-end fragment, and hands the session to the dispatcher
// for its final flush. One-shot and idempotent — repeat calls are
// no-ops with no duplicate fragment and no duplicate registration.
//
// Still-open actions are not auto-closed; their data never reaches
// the cache unless they are explicitly left.
func (s *Session) End() {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateEnding)) {
		return
	}

	end := s.beacon.Now()
	s.mu.Lock()
	s.endTime = end
	s.mu.Unlock()

	s.beacon.EndSession(end)
	s.sender.FinishSession(s)

	s.logger.Debug("session ended",
		"session", s.ID(),
		"open_actions", s.OpenActionCount(),
	)
}

// IsEmpty reports whether the session has no buffered data.
func (s *Session) IsEmpty() bool { return s.beacon.IsEmpty() }

// ClearCapturedData drops all of the session's buffered data.
func (s *Session) ClearCapturedData() { s.beacon.ClearData() }

// OpenActionCount returns the number of entered, not-yet-left actions.
func (s *Session) OpenActionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openActions)
}

// Send drains and transmits the session's buffered data. Called only
// from the dispatch worker's cycle.
func (s *Session) Send(ctx context.Context, transport protocol.Transport, policy protocol.CapturePolicy) (*protocol.StatusResponse, error) {
	return s.beacon.Send(ctx, transport, policy)
}

// MarkClosed moves the session to its terminal state. Called by the
// dispatcher once the session is deregistered after a successful
// final flush or a policy-driven discard.
func (s *Session) MarkClosed() {
	s.state.Store(int32(StateClosed))
}

// actionLeft records a closed action: it is removed from the open set
// and its fragment enters the cache. Runs regardless of the session's
// current state — a handle from the Active phase may be left later.
func (s *Session) actionLeft(action *Action, data beacon.ActionData) {
	s.mu.Lock()
	delete(s.openActions, action.id)
	s.mu.Unlock()

	s.beacon.AddAction(data)
}
