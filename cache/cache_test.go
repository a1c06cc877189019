// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

func newTestCache(upper, lower int64) *Cache {
	return New(Config{UpperBytes: upper, LowerBytes: lower})
}

func TestPutAndDrainEmissionOrder(t *testing.T) {
	c := newTestCache(1024, 1024)

	for i := 0; i < 5; i++ {
		c.Put("s1", []byte{byte(i)})
	}

	drained := c.Drain("s1", 1024)
	if len(drained) != 5 {
		t.Fatalf("expected 5 records, got %d", len(drained))
	}
	for i, record := range drained {
		if !bytes.Equal(record.Data, []byte{byte(i)}) {
			t.Fatalf("record %d out of order: %v", i, record.Data)
		}
		if i > 0 && record.Order <= drained[i-1].Order {
			t.Fatalf("emission order not increasing at %d", i)
		}
	}
}

func TestDrainRespectsByteBudget(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)

	for i := 0; i < 6; i++ {
		c.Put("s1", make([]byte, 100))
	}

	drained := c.Drain("s1", 250)
	if len(drained) != 2 {
		t.Fatalf("expected 2 records within 250 bytes, got %d", len(drained))
	}

	// The rest stays pending for the next chunk.
	rest := c.Drain("s1", 10*1024)
	if len(rest) != 4 {
		t.Fatalf("expected 4 remaining records, got %d", len(rest))
	}
}

func TestDrainOversizedRecordStillShips(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", make([]byte, 500))

	drained := c.Drain("s1", 100)
	if len(drained) != 1 {
		t.Fatalf("an oversized record must still drain, got %d records", len(drained))
	}
}

func TestDrainEmptySession(t *testing.T) {
	c := newTestCache(1024, 1024)
	if drained := c.Drain("missing", 1024); drained != nil {
		t.Fatalf("expected nil for unknown session, got %v", drained)
	}
}

func TestConfirmSentRemovesInFlight(t *testing.T) {
	c := newTestCache(1024, 1024)
	c.Put("s1", make([]byte, 10))
	c.Put("s1", make([]byte, 20))

	drained := c.Drain("s1", 1024)
	if c.IsEmpty("s1") {
		t.Fatal("in-flight records still count as data")
	}

	c.ConfirmSent("s1", drained)
	if !c.IsEmpty("s1") {
		t.Fatal("expected empty after confirm")
	}
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 total bytes, got %d", c.TotalBytes())
	}
}

func TestRequeueRestoresHeadOrder(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", []byte("one"))
	c.Put("s1", []byte("two"))

	drained := c.Drain("s1", 1024)

	// New data arrives while the send is in flight.
	c.Put("s1", []byte("three"))

	// The send fails; the chunk goes back to the head of pending.
	c.Requeue("s1", drained)

	all := c.Drain("s1", 10*1024)
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	want := []string{"one", "two", "three"}
	for i, record := range all {
		if string(record.Data) != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], record.Data)
		}
	}
}

func TestRequeueAfterPurgeStaysEmpty(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", make([]byte, 10))
	drained := c.Drain("s1", 1024)

	// The session's data is cleared while the chunk is in flight;
	// the failed send then tries to put the chunk back.
	c.Purge("s1")
	c.Requeue("s1", drained)

	if !c.IsEmpty("s1") {
		t.Fatal("purged records must not be resurrected by Requeue")
	}
	if got := c.Drain("s1", 1024); len(got) != 0 {
		t.Fatalf("expected nothing to drain, got %d records", len(got))
	}
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 bytes, got %d", c.TotalBytes())
	}
}

func TestRequeueRestoresOnlySurvivingRecords(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", []byte("one"))
	c.Put("s1", []byte("two"))
	drained := c.Drain("s1", 1024)

	// Confirm one record as sent, then requeue the whole chunk as a
	// failed send would. Only the unconfirmed record may come back.
	c.ConfirmSent("s1", drained[:1])
	c.Requeue("s1", drained)

	rest := c.Drain("s1", 1024)
	if len(rest) != 1 || string(rest[0].Data) != "two" {
		t.Fatalf("expected only %q back, got %d records", "two", len(rest))
	}
	c.ConfirmSent("s1", rest)
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 bytes, got %d", c.TotalBytes())
	}
}

func TestPurgeDropsEverything(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", make([]byte, 100))
	c.Put("s1", make([]byte, 100))
	c.Drain("s1", 150) // one record in flight

	c.Purge("s1")
	if !c.IsEmpty("s1") {
		t.Fatal("expected empty after purge")
	}
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 bytes after purge, got %d", c.TotalBytes())
	}
}

func TestPurgeAll(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", make([]byte, 100))
	c.Put("s2", make([]byte, 100))

	c.PurgeAll()
	if !c.IsEmpty("s1") || !c.IsEmpty("s2") {
		t.Fatal("expected both sessions empty")
	}
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 bytes, got %d", c.TotalBytes())
	}
}

func TestRemoveForgetsSession(t *testing.T) {
	c := newTestCache(10*1024, 10*1024)
	c.Put("s1", make([]byte, 100))

	c.Remove("s1")
	if !c.IsEmpty("s1") {
		t.Fatal("expected empty after remove")
	}
	if c.TotalBytes() != 0 {
		t.Fatalf("expected 0 bytes after remove, got %d", c.TotalBytes())
	}
}

func TestIsEmptyUnknownSession(t *testing.T) {
	c := newTestCache(1024, 1024)
	if !c.IsEmpty("never-seen") {
		t.Fatal("unknown session should be empty")
	}
}

func TestEvictionDropsGloballyOldest(t *testing.T) {
	// Upper 500, lower 300: crossing 500 drops oldest pending records
	// until at or below 300.
	c := newTestCache(500, 300)

	// Interleave records across three sessions; emission order is
	// global, so the oldest records span sessions.
	for i := 0; i < 5; i++ {
		for _, sessionID := range []string{"s1", "s2", "s3"} {
			c.Put(sessionID, make([]byte, 40))
		}
	}

	// The 13th put crosses the upper watermark at 520 bytes and the
	// eviction pass drops the 6 oldest records to reach 280; the last
	// two puts land below the trigger, leaving 9 records (360 bytes).
	if c.Evicted() != 6 {
		t.Fatalf("expected 6 evictions, got %d", c.Evicted())
	}
	if c.TotalBytes() != 360 {
		t.Fatalf("expected 360 bytes, got %d", c.TotalBytes())
	}

	// The survivors are the newest records: the oldest surviving
	// order across all sessions must exceed the number evicted.
	var minOrder uint64
	for _, sessionID := range []string{"s1", "s2", "s3"} {
		for _, record := range c.Drain(sessionID, 10*1024) {
			if minOrder == 0 || record.Order < minOrder {
				minOrder = record.Order
			}
		}
	}
	if minOrder != c.Evicted()+1 {
		t.Fatalf("expected oldest survivor order %d, got %d", c.Evicted()+1, minOrder)
	}
}

func TestEvictionSparesInFlight(t *testing.T) {
	c := newTestCache(500, 100)

	// 400 bytes in flight for s1.
	for i := 0; i < 4; i++ {
		c.Put("s1", make([]byte, 100))
	}
	inFlight := c.Drain("s1", 400)
	if len(inFlight) != 4 {
		t.Fatalf("expected 4 in flight, got %d", len(inFlight))
	}

	// Push past the upper watermark with pending data in s2. Eviction
	// can only touch s2's pending records; the in-flight 400 bytes
	// stay, so the lower watermark is unreachable (soft limit).
	for i := 0; i < 3; i++ {
		c.Put("s2", make([]byte, 100))
	}

	if c.IsEmpty("s1") {
		t.Fatal("in-flight records must survive eviction")
	}
	if c.TotalBytes() < 400 {
		t.Fatalf("in-flight bytes went missing: %d", c.TotalBytes())
	}

	// Only s2's pending records were evictable; the pass stopped
	// quietly above the lower watermark once none remained.
	if pending := c.Drain("s1", 10*1024); pending != nil {
		t.Fatalf("s1 should have no pending data, got %d records", len(pending))
	}
}

func TestConcurrentPutsIndependentSessions(t *testing.T) {
	c := newTestCache(10*1024*1024, 10*1024*1024)

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("session-%d", s)
			for i := 0; i < 200; i++ {
				c.Put(sessionID, make([]byte, 16))
			}
		}(s)
	}
	wg.Wait()

	if c.TotalBytes() != 8*200*16 {
		t.Fatalf("expected %d bytes, got %d", 8*200*16, c.TotalBytes())
	}
	for s := 0; s < 8; s++ {
		drained := c.Drain(fmt.Sprintf("session-%d", s), 10*1024*1024)
		if len(drained) != 200 {
			t.Fatalf("session %d: expected 200 records, got %d", s, len(drained))
		}
		for i := 1; i < len(drained); i++ {
			if drained[i].Order <= drained[i-1].Order {
				t.Fatalf("session %d: order regression at %d", s, i)
			}
		}
	}
}

func TestNewPanicsOnInvertedWatermarks(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for lower > upper")
		}
	}()
	New(Config{UpperBytes: 100, LowerBytes: 200})
}
