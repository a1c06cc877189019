// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Default eviction watermarks. When the cache grows past Upper, the
// globally oldest pending records are dropped until the cache is at or
// below Lower.
const (
	DefaultUpperBytes = 100 * 1024 * 1024
	DefaultLowerBytes = 80 * 1024 * 1024
)

// Record is one immutable serialized event fragment. Order is the
// global emission-order counter assigned at Put time; it is unique
// process-wide and totally orders records across sessions.
type Record struct {
	SessionID string
	Order     uint64
	Data      []byte
}

// Size returns the record's byte contribution to the cache budget.
func (r Record) Size() int { return len(r.Data) }

// Config holds Cache construction parameters.
type Config struct {
	// UpperBytes is the eviction trigger. Defaults to
	// DefaultUpperBytes when zero.
	UpperBytes int64

	// LowerBytes is the eviction target. Defaults to
	// DefaultLowerBytes when zero.
	LowerBytes int64

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Cache is the concurrent, per-session store of serialized event
// fragments awaiting transmission. Each session's records live in two
// ordered lists: pending (recorded, not yet picked up) and in-flight
// (drained for a send attempt). Drain moves pending records in-flight;
// ConfirmSent removes them permanently; Requeue restores them to the
// head of pending after a failed send.
//
// Thread-safe: all methods may be called concurrently. Each session's
// lists have their own mutex, so recording into independent sessions
// never contends; the cache-level lock guards only the session map.
type Cache struct {
	upper int64
	lower int64

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	// evictMu serializes eviction passes so concurrent Puts don't
	// both walk the cache.
	evictMu sync.Mutex

	totalBytes atomic.Int64
	evicted    atomic.Uint64
	order      atomic.Uint64
	logger     *slog.Logger
}

// sessionEntry holds one session's record lists. Guarded by its own
// mutex; byte counters are maintained alongside the lists so IsEmpty
// and eviction are O(1) per inspection.
type sessionEntry struct {
	mu            sync.Mutex
	pending       []Record
	inFlight      []Record
	pendingBytes  int64
	inFlightBytes int64
}

// New creates a Cache with the given watermarks. Panics if the
// configured lower watermark exceeds the upper one.
func New(config Config) *Cache {
	if config.UpperBytes == 0 {
		config.UpperBytes = DefaultUpperBytes
	}
	if config.LowerBytes == 0 {
		config.LowerBytes = DefaultLowerBytes
	}
	if config.LowerBytes > config.UpperBytes {
		panic("cache: lower watermark above upper watermark")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		upper:    config.UpperBytes,
		lower:    config.LowerBytes,
		sessions: make(map[string]*sessionEntry),
		logger:   logger,
	}
}

// entry returns the session's entry, creating it if needed.
func (c *Cache) entry(sessionID string) *sessionEntry {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.sessions[sessionID]; ok {
		return e
	}
	e = &sessionEntry{}
	c.sessions[sessionID] = e
	return e
}

// Put appends a serialized fragment to the session's pending list,
// assigning its global emission order. May trigger an eviction pass if
// the cache has grown past the upper watermark.
func (c *Cache) Put(sessionID string, data []byte) Record {
	record := Record{
		SessionID: sessionID,
		Order:     c.order.Add(1),
		Data:      data,
	}

	e := c.entry(sessionID)
	e.mu.Lock()
	e.pending = append(e.pending, record)
	e.pendingBytes += int64(record.Size())
	e.mu.Unlock()

	if c.totalBytes.Add(int64(record.Size())) > c.upper {
		c.evict()
	}
	return record
}

// Drain moves up to maxBytes of the session's pending records, in
// emission order, to the in-flight list and returns them. The first
// pending record is always included even if it alone exceeds maxBytes,
// so an oversized record cannot wedge the session. Returns nil when
// the session has no pending data.
func (c *Cache) Drain(sessionID string, maxBytes int) []Record {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var drained []Record
	var size int
	for _, record := range e.pending {
		if len(drained) > 0 && size+record.Size() > maxBytes {
			break
		}
		drained = append(drained, record)
		size += record.Size()
	}
	if len(drained) == 0 {
		return nil
	}

	e.pending = e.pending[len(drained):]
	e.inFlight = append(e.inFlight, drained...)
	e.pendingBytes -= int64(size)
	e.inFlightBytes += int64(size)
	return drained
}

// ConfirmSent permanently removes in-flight records after a successful
// send. Records not found in-flight (already purged) are ignored.
func (c *Cache) ConfirmSent(sessionID string, records []Record) {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, removed := e.removeInFlight(records)
	c.totalBytes.Add(-removed)
}

// Requeue restores in-flight records to the head of the pending list,
// preserving emission order, after a failed send. The next Drain picks
// them up first. Only records still in-flight are restored: a record
// purged between Drain and Requeue stays gone, so purged data never
// ships and the byte accounting stays balanced.
func (c *Cache) Requeue(sessionID string, records []Record) {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	found, returned := e.removeInFlight(records)
	restored := make([]Record, 0, len(found)+len(e.pending))
	restored = append(restored, found...)
	restored = append(restored, e.pending...)
	sort.SliceStable(restored, func(i, j int) bool { return restored[i].Order < restored[j].Order })
	e.pending = restored
	e.pendingBytes += returned
}

// removeInFlight drops the given records from the in-flight list,
// matching by emission order, and returns the records actually found
// together with their byte total. Must be called with e.mu held.
func (e *sessionEntry) removeInFlight(records []Record) ([]Record, int64) {
	match := make(map[uint64]struct{}, len(records))
	for _, record := range records {
		match[record.Order] = struct{}{}
	}

	var found []Record
	var removed int64
	kept := e.inFlight[:0]
	for _, record := range e.inFlight {
		if _, ok := match[record.Order]; ok {
			found = append(found, record)
			removed += int64(record.Size())
			continue
		}
		kept = append(kept, record)
	}
	for i := len(kept); i < len(e.inFlight); i++ {
		e.inFlight[i] = Record{} // release data for GC
	}
	e.inFlight = kept
	e.inFlightBytes -= removed
	return found, removed
}

// Purge drops all data — pending and in-flight — for a session. The
// session stays registered for further recording.
func (c *Cache) Purge(sessionID string) {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.purgeEntry(e)
}

// PurgeAll drops all data for every session. Used when the collector
// disables capture: the whole epoch's buffered data is discarded.
func (c *Cache) PurgeAll() {
	c.mu.RLock()
	entries := make([]*sessionEntry, 0, len(c.sessions))
	for _, e := range c.sessions {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, e := range entries {
		c.purgeEntry(e)
	}
}

func (c *Cache) purgeEntry(e *sessionEntry) {
	e.mu.Lock()
	freed := e.pendingBytes + e.inFlightBytes
	e.pending = nil
	e.inFlight = nil
	e.pendingBytes = 0
	e.inFlightBytes = 0
	e.mu.Unlock()
	c.totalBytes.Add(-freed)
}

// Remove purges a session's data and forgets the session entirely.
// Called when the dispatcher closes a finished session.
func (c *Cache) Remove(sessionID string) {
	c.mu.Lock()
	e, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if ok {
		c.purgeEntry(e)
	}
}

// IsEmpty reports whether the session has no pending and no in-flight
// data. Unknown sessions are empty.
func (c *Cache) IsEmpty(sessionID string) bool {
	c.mu.RLock()
	e, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) == 0 && len(e.inFlight) == 0
}

// TotalBytes returns the current cache-wide byte total, pending plus
// in-flight.
func (c *Cache) TotalBytes() int64 { return c.totalBytes.Load() }

// Evicted returns the total number of records dropped by watermark
// eviction since creation.
func (c *Cache) Evicted() uint64 { return c.evicted.Load() }

// evict removes the globally oldest pending records until the cache is
// at or below the lower watermark. In-flight records are immune; if
// everything left is in-flight, eviction stops without error — the
// watermark is a soft limit in that case.
//
// Oldest is determined by the global emission order, which is unique.
// If equal orders ever compared (they cannot, today), the lexically
// smaller session ID would evict first; the scan below visits
// candidates in that order, making the outcome deterministic.
func (c *Cache) evict() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var dropped uint64
	var freed int64
	for c.totalBytes.Load() > c.lower {
		victim := c.oldestPending()
		if victim == nil {
			break
		}

		victim.mu.Lock()
		if len(victim.pending) == 0 {
			victim.mu.Unlock()
			continue
		}
		record := victim.pending[0]
		victim.pending[0] = Record{} // release data for GC
		victim.pending = victim.pending[1:]
		victim.pendingBytes -= int64(record.Size())
		victim.mu.Unlock()

		c.totalBytes.Add(-int64(record.Size()))
		freed += int64(record.Size())
		dropped++
		c.evicted.Add(1)
	}

	if dropped > 0 {
		c.logger.Debug("evicted oldest pending records",
			"records", dropped,
			"bytes", freed,
			"total_bytes", c.totalBytes.Load(),
		)
	}
}

// oldestPending finds the session entry whose pending head has the
// smallest emission order, scanning session IDs in sorted order so the
// result is deterministic. Returns nil when no session has pending
// data.
func (c *Cache) oldestPending() *sessionEntry {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for sessionID := range c.sessions {
		ids = append(ids, sessionID)
	}
	sort.Strings(ids)
	entries := make([]*sessionEntry, len(ids))
	for i, sessionID := range ids {
		entries[i] = c.sessions[sessionID]
	}
	c.mu.RUnlock()

	var oldest *sessionEntry
	var oldestOrder uint64
	for _, e := range entries {
		e.mu.Lock()
		if len(e.pending) > 0 {
			head := e.pending[0].Order
			if oldest == nil || head < oldestOrder {
				oldest = e
				oldestOrder = head
			}
		}
		e.mu.Unlock()
	}
	return oldest
}
