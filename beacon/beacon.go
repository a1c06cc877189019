// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/beaconkit/beaconkit/cache"
	"github.com/beaconkit/beaconkit/lib/clock"
	"github.com/beaconkit/beaconkit/protocol"
)

// ActionData describes one closed action for serialization. The
// session layer builds it when an action is left; the beacon never
// sees open actions.
type ActionData struct {
	ID        int64
	ParentID  int64
	Name      string
	StartSeq  int64
	EndSeq    int64
	StartTime time.Time
	EndTime   time.Time
}

// Config holds Beacon construction parameters.
type Config struct {
	// SessionID tags every fragment this beacon emits.
	SessionID string

	// Cache receives serialized fragments.
	Cache *cache.Cache

	// Policy is the shared capture policy store. Recording consults it
	// so that disabled capture discards events before they reach the
	// cache.
	Policy *protocol.PolicyStore

	// Clock supplies fragment timestamps.
	Clock clock.Clock

	// WorkerID is stamped on every fragment.
	WorkerID int

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Beacon serializes one session's structured events into wire
// fragments and buffers them in the event cache. All recording methods
// are synchronous, never touch the network, and always succeed
// locally; Send is the only network-bound method and runs exclusively
// on the dispatch worker.
//
// Thread-safe: recording methods may be called concurrently with each
// other and with Send.
type Beacon struct {
	sessionID string
	cache     *cache.Cache
	policy    *protocol.PolicyStore
	clock     clock.Clock
	workerID  int
	logger    *slog.Logger

	nextSequence atomic.Int64
	nextActionID atomic.Int64
}

// New creates a Beacon for one session.
func New(config Config) *Beacon {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{
		sessionID: config.SessionID,
		cache:     config.Cache,
		policy:    config.Policy,
		clock:     config.Clock,
		workerID:  config.WorkerID,
		logger:    logger,
	}
}

// SessionID returns the owning session's id.
func (b *Beacon) SessionID() string { return b.sessionID }

// NextSequence allocates the next per-session sequence number.
func (b *Beacon) NextSequence() int64 { return b.nextSequence.Add(1) }

// NextActionID allocates the next per-session action id.
func (b *Beacon) NextActionID() int64 { return b.nextActionID.Add(1) }

// Now returns the current time from the beacon's clock.
func (b *Beacon) Now() time.Time { return b.clock.Now() }

// AddAction serializes a closed action. Open actions must never reach
// this method — an action's data exists on the wire only once it has
// been left.
func (b *Beacon) AddAction(action ActionData) {
	fragment := b.newFragment(protocol.EventTypeAction)
	fragment.Add(protocol.KeyName, action.Name)
	fragment.AddInt(protocol.KeyActionID, action.ID)
	fragment.AddInt(protocol.KeyParentAction, action.ParentID)
	fragment.AddInt(protocol.KeyStartSeq, action.StartSeq)
	fragment.AddInt(protocol.KeyEndSeq, action.EndSeq)
	fragment.AddInt(protocol.KeyStartTime, action.StartTime.UnixMilli())
	fragment.AddInt(protocol.KeyEndTime, action.EndTime.UnixMilli())
	b.put(fragment)
}

// EndSession serializes the session-end event.
func (b *Beacon) EndSession(end time.Time) {
	fragment := b.newFragment(protocol.EventTypeSessionEnd)
	fragment.AddInt(protocol.KeyParentAction, 0)
	fragment.AddInt(protocol.KeyStartSeq, b.NextSequence())
	fragment.AddInt(protocol.KeyStartTime, end.UnixMilli())
	b.put(fragment)
}

// IdentifyUser serializes a user tag event. An empty tag is valid and
// serializes as an empty name.
func (b *Beacon) IdentifyUser(tag string) {
	fragment := b.newFragment(protocol.EventTypeIdentifyUser)
	fragment.Add(protocol.KeyName, tag)
	b.addEventContext(fragment, 0)
	b.put(fragment)
}

// ReportCrash serializes a crash report. All-empty arguments are
// valid.
func (b *Beacon) ReportCrash(name, reason, stacktrace string) {
	fragment := b.newFragment(protocol.EventTypeCrash)
	fragment.Add(protocol.KeyName, name)
	b.addEventContext(fragment, 0)
	fragment.Add(protocol.KeyReason, reason)
	fragment.Add(protocol.KeyStacktrace, stacktrace)
	b.put(fragment)
}

// ReportValue serializes a named numeric value, attributed to the
// given parent action (0 for session-level values).
func (b *Beacon) ReportValue(parentActionID int64, name string, value float64) {
	fragment := b.newFragment(protocol.EventTypeValueDouble)
	fragment.Add(protocol.KeyName, name)
	b.addEventContext(fragment, parentActionID)
	fragment.Add(protocol.KeyValue, strconv.FormatFloat(value, 'g', -1, 64))
	b.put(fragment)
}

// ReportStringValue serializes a named string value, attributed to the
// given parent action (0 for session-level values).
func (b *Beacon) ReportStringValue(parentActionID int64, name, value string) {
	fragment := b.newFragment(protocol.EventTypeValueString)
	fragment.Add(protocol.KeyName, name)
	b.addEventContext(fragment, parentActionID)
	fragment.Add(protocol.KeyValue, value)
	b.put(fragment)
}

// IsEmpty reports whether the session has no buffered data, pending or
// in-flight.
func (b *Beacon) IsEmpty() bool { return b.cache.IsEmpty(b.sessionID) }

// ClearData drops all buffered data for the session.
func (b *Beacon) ClearData() { b.cache.Purge(b.sessionID) }

// newFragment starts a fragment carrying the session and worker
// identity.
func (b *Beacon) newFragment(eventType protocol.EventType) *protocol.Fragment {
	fragment := protocol.NewFragment(eventType)
	fragment.Add(protocol.KeySessionID, b.sessionID)
	fragment.AddInt(protocol.KeyWorkerID, int64(b.workerID))
	return fragment
}

// addEventContext stamps the parent action, sequence number, and
// timestamp shared by all point events.
func (b *Beacon) addEventContext(fragment *protocol.Fragment, parentActionID int64) {
	fragment.AddInt(protocol.KeyParentAction, parentActionID)
	fragment.AddInt(protocol.KeyStartSeq, b.NextSequence())
	fragment.AddInt(protocol.KeyStartTime, b.clock.Now().UnixMilli())
}

// put buffers an encoded fragment unless the current capture policy
// discards it. Recording cannot fail: when capture is off the event
// silently disappears, by contract.
func (b *Beacon) put(fragment *protocol.Fragment) {
	if !b.policy.Snapshot().Capture {
		return
	}
	b.cache.Put(b.sessionID, fragment.Encode())
}

// Send drains and transmits the session's pending data in chunks of at
// most policy.MaxBeaconSizeBytes, in emission order. Each chunk's
// success confirms its records; a failure requeues the chunk ahead of
// all undrained data and aborts the cycle with a transient error. An
// empty cache is a no-op returning a nil response.
//
// Returns the last status response so the dispatcher can apply policy
// updates.
func (b *Beacon) Send(ctx context.Context, transport protocol.Transport, policy protocol.CapturePolicy) (*protocol.StatusResponse, error) {
	var last *protocol.StatusResponse

	for {
		records := b.cache.Drain(b.sessionID, policy.MaxBeaconSizeBytes)
		if len(records) == 0 {
			return last, nil
		}

		payload := joinRecords(records)
		response, err := transport.SendBeacon(ctx, payload)
		if err != nil {
			b.cache.Requeue(b.sessionID, records)
			b.logger.Debug("beacon chunk send failed",
				"session", b.sessionID,
				"records", len(records),
				"error", err,
			)
			return last, err
		}

		b.cache.ConfirmSent(b.sessionID, records)
		last = response
	}
}

// joinRecords concatenates record payloads with '&'. Each record
// already starts with the event type key, so fragment boundaries
// survive concatenation.
func joinRecords(records []cache.Record) []byte {
	size := 0
	for _, record := range records {
		size += record.Size() + 1
	}
	payload := make([]byte, 0, size)
	for i, record := range records {
		if i > 0 {
			payload = append(payload, '&')
		}
		payload = append(payload, record.Data...)
	}
	return payload
}
