// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beaconkit/beaconkit/cache"
	"github.com/beaconkit/beaconkit/lib/clock"
	"github.com/beaconkit/beaconkit/protocol"
)

// fakeTransport records SendBeacon payloads and returns configurable
// errors in order; nil entries mean success.
type fakeTransport struct {
	mu       sync.Mutex
	payloads [][]byte
	errorSeq []error
	index    int
	response *protocol.StatusResponse
}

func (f *fakeTransport) SendStatus(context.Context) (*protocol.StatusResponse, error) {
	return f.response, nil
}

func (f *fakeTransport) SendBeacon(_ context.Context, payload []byte) (*protocol.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]byte, len(payload))
	copy(copied, payload)
	f.payloads = append(f.payloads, copied)
	var err error
	if f.index < len(f.errorSeq) {
		err = f.errorSeq[f.index]
		f.index++
	}
	if err != nil {
		return nil, err
	}
	return f.response, nil
}

func (f *fakeTransport) sentPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads
}

type beaconFixture struct {
	beacon *Beacon
	cache  *cache.Cache
	policy *protocol.PolicyStore
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *beaconFixture {
	t.Helper()
	eventCache := cache.New(cache.Config{UpperBytes: 1 << 20, LowerBytes: 1 << 20})
	policy := protocol.NewPolicyStore(protocol.DefaultPolicy())
	fakeClock := clock.Fake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	b := New(Config{
		SessionID: "test-session",
		Cache:     eventCache,
		Policy:    policy,
		Clock:     fakeClock,
		WorkerID:  42,
	})
	return &beaconFixture{beacon: b, cache: eventCache, policy: policy, clock: fakeClock}
}

func (fx *beaconFixture) drainFragments(t *testing.T) []*protocol.Fragment {
	t.Helper()
	records := fx.cache.Drain("test-session", 1<<20)
	var fragments []*protocol.Fragment
	for _, record := range records {
		decoded, err := protocol.DecodeChunk(record.Data)
		if err != nil {
			t.Fatalf("DecodeChunk: %v", err)
		}
		fragments = append(fragments, decoded...)
	}
	return fragments
}

func TestAddActionFragment(t *testing.T) {
	fx := newFixture(t)

	start := fx.clock.Now()
	fx.clock.Advance(2 * time.Second)
	fx.beacon.AddAction(ActionData{
		ID:        1,
		Name:      "checkout",
		StartSeq:  1,
		EndSeq:    2,
		StartTime: start,
		EndTime:   fx.clock.Now(),
	})

	fragments := fx.drainFragments(t)
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	f := fragments[0]
	if f.EventType() != protocol.EventTypeAction {
		t.Fatalf("expected action event, got %d", f.EventType())
	}
	if name, _ := f.Get(protocol.KeyName); name != "checkout" {
		t.Fatalf("expected name checkout, got %q", name)
	}
	if sid, _ := f.Get(protocol.KeySessionID); sid != "test-session" {
		t.Fatalf("expected session tag, got %q", sid)
	}
	if worker, _ := f.Get(protocol.KeyWorkerID); worker != "42" {
		t.Fatalf("expected worker 42, got %q", worker)
	}
}

func TestIdentifyUserEmptyTag(t *testing.T) {
	fx := newFixture(t)
	fx.beacon.IdentifyUser("")

	fragments := fx.drainFragments(t)
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	name, ok := fragments[0].Get(protocol.KeyName)
	if !ok || name != "" {
		t.Fatalf("expected empty name pair, got %q ok=%v", name, ok)
	}
}

func TestRepeatedReportsNeverDeduplicated(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 3; i++ {
		fx.beacon.ReportCrash("oom", "out of memory", "stack")
	}
	for i := 0; i < 2; i++ {
		fx.beacon.IdentifyUser("user-1")
	}

	fragments := fx.drainFragments(t)
	if len(fragments) != 5 {
		t.Fatalf("expected 5 independent fragments, got %d", len(fragments))
	}
}

func TestReportCrashEmptyFields(t *testing.T) {
	fx := newFixture(t)
	fx.beacon.ReportCrash("", "", "")

	fragments := fx.drainFragments(t)
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	for _, key := range []string{protocol.KeyName, protocol.KeyReason, protocol.KeyStacktrace} {
		value, ok := fragments[0].Get(key)
		if !ok {
			t.Fatalf("key %s missing", key)
		}
		if value != "" {
			t.Fatalf("key %s: expected empty, got %q", key, value)
		}
	}
}

func TestReportValueFormats(t *testing.T) {
	fx := newFixture(t)
	fx.beacon.ReportValue(7, "response.time", 12.5)
	fx.beacon.ReportStringValue(0, "page", "/home")

	fragments := fx.drainFragments(t)
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}

	if v, _ := fragments[0].Get(protocol.KeyValue); v != "12.5" {
		t.Fatalf("expected 12.5, got %q", v)
	}
	if pa, _ := fragments[0].Get(protocol.KeyParentAction); pa != "7" {
		t.Fatalf("expected parent 7, got %q", pa)
	}
	if v, _ := fragments[1].Get(protocol.KeyValue); v != "/home" {
		t.Fatalf("expected /home, got %q", v)
	}
}

func TestCaptureOffDiscardsBeforeCache(t *testing.T) {
	fx := newFixture(t)
	fx.policy.Apply(&protocol.StatusResponse{Capture: false, ServerID: 1, MaxBeaconSizeKB: 30, Multiplicity: 1})

	fx.beacon.IdentifyUser("ignored")
	fx.beacon.ReportCrash("ignored", "x", "y")

	if !fx.beacon.IsEmpty() {
		t.Fatal("events must be discarded before reaching the cache when capture is off")
	}
}

func TestSequenceNumbersIncrease(t *testing.T) {
	fx := newFixture(t)
	fx.beacon.IdentifyUser("a")
	fx.beacon.IdentifyUser("b")

	fragments := fx.drainFragments(t)
	first, _ := fragments[0].Get(protocol.KeyStartSeq)
	second, _ := fragments[1].Get(protocol.KeyStartSeq)
	if first != "1" || second != "2" {
		t.Fatalf("expected sequences 1,2; got %s,%s", first, second)
	}
}

func TestSendEmptyCacheIsNoOp(t *testing.T) {
	fx := newFixture(t)
	transport := &fakeTransport{response: &protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 30, Multiplicity: 1}}

	response, err := fx.beacon.Send(context.Background(), transport, fx.policy.Snapshot())
	if err != nil {
		t.Fatalf("Send on empty cache: %v", err)
	}
	if response != nil {
		t.Fatalf("expected nil response, got %+v", response)
	}
	if len(transport.sentPayloads()) != 0 {
		t.Fatal("no network traffic expected for an empty cache")
	}
}

func TestSendChunksByBeaconSize(t *testing.T) {
	fx := newFixture(t)
	// Shrink the beacon size so a handful of events span chunks.
	policy := fx.policy.Apply(&protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 1, Multiplicity: 1})

	// Each crash fragment is a few hundred bytes; 20 of them exceed
	// one 1 KB chunk.
	for i := 0; i < 20; i++ {
		fx.beacon.ReportCrash("crash", strings.Repeat("r", 100), strings.Repeat("s", 100))
	}

	transport := &fakeTransport{response: &protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 1, Multiplicity: 1}}
	response, err := fx.beacon.Send(context.Background(), transport, policy)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if response == nil {
		t.Fatal("expected final status response")
	}

	payloads := transport.sentPayloads()
	if len(payloads) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(payloads))
	}

	// Every fragment survives, no chunk splits a record, order holds.
	var total int
	for _, payload := range payloads {
		fragments, err := protocol.DecodeChunk(payload)
		if err != nil {
			t.Fatalf("chunk does not decode cleanly: %v", err)
		}
		total += len(fragments)
	}
	if total != 20 {
		t.Fatalf("expected 20 fragments across chunks, got %d", total)
	}
	if !fx.beacon.IsEmpty() {
		t.Fatal("expected empty cache after full send")
	}
}

func TestSendFailureRequeuesAndAborts(t *testing.T) {
	fx := newFixture(t)
	policy := fx.policy.Apply(&protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 1, Multiplicity: 1})

	for i := 0; i < 20; i++ {
		fx.beacon.ReportCrash("crash", strings.Repeat("r", 100), strings.Repeat("s", 100))
	}

	sendErr := errors.New("collector unreachable")
	transport := &fakeTransport{
		errorSeq: []error{nil, sendErr},
		response: &protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 1, Multiplicity: 1},
	}

	_, err := fx.beacon.Send(context.Background(), transport, policy)
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	// First chunk confirmed, second requeued, cycle aborted: exactly
	// two transport calls.
	if calls := len(transport.sentPayloads()); calls != 2 {
		t.Fatalf("expected 2 transport calls, got %d", calls)
	}
	if fx.beacon.IsEmpty() {
		t.Fatal("failed chunk must remain buffered")
	}

	// A follow-up send with a working transport delivers the rest in
	// the original emission order.
	retry := &fakeTransport{response: &protocol.StatusResponse{Capture: true, ServerID: 1, MaxBeaconSizeKB: 1, Multiplicity: 1}}
	if _, err := fx.beacon.Send(context.Background(), retry, policy); err != nil {
		t.Fatalf("retry send: %v", err)
	}
	if !fx.beacon.IsEmpty() {
		t.Fatal("expected empty cache after retry")
	}
}

func TestClearData(t *testing.T) {
	fx := newFixture(t)
	fx.beacon.IdentifyUser("someone")
	if fx.beacon.IsEmpty() {
		t.Fatal("expected buffered data")
	}

	fx.beacon.ClearData()
	if !fx.beacon.IsEmpty() {
		t.Fatal("expected empty after clear")
	}
}
