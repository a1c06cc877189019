// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/beaconkit/beaconkit/cache"
	"github.com/beaconkit/beaconkit/lib/clock"
	"github.com/beaconkit/beaconkit/protocol"
	"github.com/beaconkit/beaconkit/session"
)

// Backoff constants for transport retries. Starts at initialBackoff
// and doubles on each consecutive failure, capped at maxBackoff.
// Resets on success.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// DefaultSendInterval is the pause between dispatch cycles.
const DefaultSendInterval = 1 * time.Second

// DefaultShutdownFlushTimeout bounds the best-effort flush performed
// during graceful termination.
const DefaultShutdownFlushTimeout = 5 * time.Second

// Config holds Sender construction parameters.
type Config struct {
	// Transport performs the collector exchanges. Required.
	Transport protocol.Transport

	// Policy is the shared capture policy store the sender updates
	// after successful exchanges. Required.
	Policy *protocol.PolicyStore

	// Cache is purged wholesale when the collector disables capture
	// and per-session when a closed session is dropped. Required.
	Cache *cache.Cache

	// Clock drives the send cycle and backoff. Required.
	Clock clock.Clock

	// SendInterval is the pause between dispatch cycles. Defaults to
	// DefaultSendInterval when zero.
	SendInterval time.Duration

	// ShutdownFlushTimeout bounds the final flush pass. Defaults to
	// DefaultShutdownFlushTimeout when zero.
	ShutdownFlushTimeout time.Duration

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Sender owns the registry of live sessions and runs the background
// dispatch worker — the only goroutine in the process that performs
// network I/O. Open sessions are drained every cycle; finishing
// sessions get a final flush and leave the registry once their cache
// is empty.
//
// Thread-safe: StartSession and FinishSession may be called from any
// goroutine while Run is active.
type Sender struct {
	transport            protocol.Transport
	policy               *protocol.PolicyStore
	cache                *cache.Cache
	clock                clock.Clock
	sendInterval         time.Duration
	shutdownFlushTimeout time.Duration
	logger               *slog.Logger

	mu        sync.Mutex
	open      map[string]*session.Session
	finishing map[string]*session.Session
	retries   map[string]*retryState
}

// retryState tracks one session's consecutive transport failures. The
// session is skipped until nextAttempt so one unreachable collector
// path cannot stall the cycle for everyone else.
type retryState struct {
	failures    int
	nextAttempt time.Time
}

// New creates a Sender. Call Run to start the dispatch worker.
func New(config Config) *Sender {
	if config.SendInterval == 0 {
		config.SendInterval = DefaultSendInterval
	}
	if config.ShutdownFlushTimeout == 0 {
		config.ShutdownFlushTimeout = DefaultShutdownFlushTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		transport:            config.Transport,
		policy:               config.Policy,
		cache:                config.Cache,
		clock:                config.Clock,
		sendInterval:         config.SendInterval,
		shutdownFlushTimeout: config.ShutdownFlushTimeout,
		logger:               logger,
		open:                 make(map[string]*session.Session),
		finishing:            make(map[string]*session.Session),
		retries:              make(map[string]*retryState),
	}
}

// StartSession registers a session for dispatch. Exactly once per
// session instance: repeat calls for an already-registered session are
// no-ops.
func (s *Sender) StartSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sess.ID()
	if _, ok := s.open[id]; ok {
		return
	}
	if _, ok := s.finishing[id]; ok {
		return
	}
	s.open[id] = sess
}

// FinishSession moves a session from open to finishing; the next
// cycles give it a final flush and drop it once its cache is empty.
// Unknown sessions are ignored.
func (s *Sender) FinishSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sess.ID()
	if _, ok := s.open[id]; !ok {
		return
	}
	delete(s.open, id)
	s.finishing[id] = sess
}

// OpenCount returns the number of actively recording sessions in the
// registry.
func (s *Sender) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// FinishingCount returns the number of ended sessions awaiting their
// final flush.
func (s *Sender) FinishingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finishing)
}

// Run executes the dispatch worker until ctx is cancelled: an initial
// status exchange to obtain the collector's capture policy, then the
// periodic send cycle. On cancellation it performs one best-effort
// synchronous flush per still-registered session and returns;
// undelivered data beyond that attempt is abandoned without error.
func (s *Sender) Run(ctx context.Context) {
	if !s.initialStatusExchange(ctx) {
		s.shutdownFlush()
		return
	}

	ticker := s.clock.NewTicker(s.sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownFlush()
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// initialStatusExchange asks the collector for the initial capture
// policy, retrying with capped exponential backoff. Returns false if
// ctx was cancelled before a response arrived.
func (s *Sender) initialStatusExchange(ctx context.Context) bool {
	backoff := initialBackoff
	for {
		response, err := s.transport.SendStatus(ctx)
		if err == nil {
			s.applyResponse(response)
			s.logger.Debug("initial status exchange complete",
				"server_id", response.ServerID,
				"capture", response.Capture,
			)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		s.logger.Warn("status request failed, will retry",
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// cycle performs one dispatch pass: open sessions first, then
// finishing sessions, with empty finished sessions leaving the
// registry. The ordering guarantee (open before finishing) holds
// within every cycle.
//
// While capture is disabled no session ever reaches the transport, so
// the cycle polls the collector's status directly; the poll response
// is the only way capture can turn back on.
func (s *Sender) cycle(ctx context.Context) {
	now := s.clock.Now()

	if !s.policy.Snapshot().Capture {
		response, err := s.transport.SendStatus(ctx)
		if err != nil {
			s.logger.Debug("status poll failed", "error", err)
			return
		}
		s.applyResponse(response)
		return
	}

	for _, sess := range s.snapshot(s.openIDs()) {
		s.sendSession(ctx, sess, now)
	}

	for _, sess := range s.snapshot(s.finishingIDs()) {
		s.sendSession(ctx, sess, now)
		if sess.IsEmpty() {
			s.closeSession(sess)
		}
	}
}

// sendSession drains one session unless its retry backoff says to
// wait. Failures extend the per-session backoff without touching any
// other session's schedule.
func (s *Sender) sendSession(ctx context.Context, sess *session.Session, now time.Time) {
	id := sess.ID()

	s.mu.Lock()
	retry := s.retries[id]
	due := retry == nil || !now.Before(retry.nextAttempt)
	s.mu.Unlock()
	if !due {
		return
	}

	response, err := sess.Send(ctx, s.transport, s.policy.Snapshot())
	if err != nil {
		s.recordFailure(id, now, err)
		return
	}

	s.mu.Lock()
	delete(s.retries, id)
	s.mu.Unlock()

	if response != nil {
		s.applyResponse(response)
	}
}

// recordFailure doubles the session's retry delay up to the cap.
func (s *Sender) recordFailure(id string, now time.Time, err error) {
	s.mu.Lock()
	retry := s.retries[id]
	if retry == nil {
		retry = &retryState{}
		s.retries[id] = retry
	}
	retry.failures++
	delay := initialBackoff << (retry.failures - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	retry.nextAttempt = now.Add(delay)
	failures := retry.failures
	s.mu.Unlock()

	s.logger.Warn("beacon send failed, backing off",
		"session", id,
		"consecutive_failures", failures,
		"retry_in", delay,
		"error", err,
	)
}

// applyResponse installs the response as the new capture policy.
// Capture turning off is a registry-wide event: every session's
// buffered data is purged and the registry empties.
func (s *Sender) applyResponse(response *protocol.StatusResponse) {
	policy := s.policy.Apply(response)
	if policy.Capture {
		return
	}

	s.mu.Lock()
	dropped := make([]*session.Session, 0, len(s.open)+len(s.finishing))
	for _, sess := range s.open {
		dropped = append(dropped, sess)
	}
	for _, sess := range s.finishing {
		dropped = append(dropped, sess)
	}
	s.open = make(map[string]*session.Session)
	s.finishing = make(map[string]*session.Session)
	s.retries = make(map[string]*retryState)
	s.mu.Unlock()

	s.cache.PurgeAll()
	for _, sess := range dropped {
		sess.MarkClosed()
	}

	s.logger.Info("capture disabled by collector, purged all sessions",
		"sessions", len(dropped),
		"policy_epoch", policy.Epoch,
	)
}

// closeSession removes a drained finishing session from the registry.
// The session reaches its terminal state here.
func (s *Sender) closeSession(sess *session.Session) {
	id := sess.ID()

	s.mu.Lock()
	delete(s.finishing, id)
	delete(s.retries, id)
	s.mu.Unlock()

	s.cache.Remove(id)
	sess.MarkClosed()

	s.logger.Debug("session closed", "session", id)
}

// shutdownFlush makes one best-effort pass over every registered
// session with a short timeout. Data that does not ship in this pass
// is abandoned — deliberately, without error.
func (s *Sender) shutdownFlush() {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.open)+len(s.finishing))
	for _, sess := range s.open {
		sessions = append(sessions, sess)
	}
	for _, sess := range s.finishing {
		sessions = append(sessions, sess)
	}
	s.open = make(map[string]*session.Session)
	s.finishing = make(map[string]*session.Session)
	s.retries = make(map[string]*retryState)
	s.mu.Unlock()

	if len(sessions) == 0 {
		return
	}

	flushContext, cancel := context.WithTimeout(context.Background(), s.shutdownFlushTimeout)
	defer cancel()

	policy := s.policy.Snapshot()
	abandoned := 0
	for _, sess := range sessions {
		if _, err := sess.Send(flushContext, s.transport, policy); err != nil {
			abandoned++
		}
		s.cache.Remove(sess.ID())
		sess.MarkClosed()
	}

	s.logger.Info("shutdown flush complete",
		"sessions", len(sessions),
		"abandoned", abandoned,
	)
}

// openIDs returns the open session ids in sorted order for a
// deterministic cycle.
func (s *Sender) openIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.open)
}

// finishingIDs returns the finishing session ids in sorted order.
func (s *Sender) finishingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.finishing)
}

// snapshot resolves ids against both registry halves, skipping
// sessions that left the registry since the id list was taken.
func (s *Sender) snapshot(ids []string) []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.open[id]; ok {
			sessions = append(sessions, sess)
		} else if sess, ok := s.finishing[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

func sortedKeys(m map[string]*session.Session) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
