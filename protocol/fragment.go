// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// EventType identifies the kind of event a fragment describes. The
// numeric values are part of the wire protocol.
type EventType int

// Wire event types.
const (
	EventTypeAction       EventType = 1
	EventTypeValueString  EventType = 11
	EventTypeValueDouble  EventType = 13
	EventTypeSessionEnd   EventType = 19
	EventTypeCrash        EventType = 50
	EventTypeIdentifyUser EventType = 60
)

// Wire fragment keys. Every fragment starts with KeyEventType; the
// remaining keys depend on the event type.
const (
	KeyEventType    = "et" // event type, always first
	KeySessionID    = "si" // owning session
	KeyWorkerID     = "it" // reporting worker
	KeyName         = "na" // action name, user tag, crash name, value name
	KeyActionID     = "ca" // action id (actions only)
	KeyParentAction = "pa" // parent action id, 0 for root-level events
	KeyStartSeq     = "s0" // sequence number at event start
	KeyEndSeq       = "s1" // sequence number at event end (actions only)
	KeyStartTime    = "t0" // start timestamp, unix milliseconds
	KeyEndTime      = "t1" // end timestamp, unix milliseconds (actions only)
	KeyValue        = "vl" // reported value payload
	KeyReason       = "rs" // crash reason
	KeyStacktrace   = "st" // crash stack trace
)

// Fragment is one serialized event: an ordered list of key=value
// pairs. Order is preserved through an encode/decode round trip so a
// decoded fragment reproduces the original pair set exactly.
//
// The zero value is an empty fragment ready for use.
type Fragment struct {
	pairs []pair
}

type pair struct {
	key   string
	value string
}

// Add appends a key=value pair. Keys repeat freely; the fragment does
// not deduplicate.
func (f *Fragment) Add(key, value string) {
	f.pairs = append(f.pairs, pair{key: key, value: value})
}

// AddInt appends a key with a decimal integer value.
func (f *Fragment) AddInt(key string, value int64) {
	f.Add(key, strconv.FormatInt(value, 10))
}

// Get returns the value of the first pair with the given key, and
// whether any such pair exists.
func (f *Fragment) Get(key string) (string, bool) {
	for _, p := range f.pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// EventType returns the fragment's event type, or 0 if the fragment
// has no parseable et pair.
func (f *Fragment) EventType() EventType {
	raw, ok := f.Get(KeyEventType)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return EventType(n)
}

// Len returns the number of pairs.
func (f *Fragment) Len() int { return len(f.pairs) }

// Pairs returns the pairs in insertion order as [key, value] tuples.
func (f *Fragment) Pairs() [][2]string {
	out := make([][2]string, len(f.pairs))
	for i, p := range f.pairs {
		out[i] = [2]string{p.key, p.value}
	}
	return out
}

// Encode serializes the fragment as ampersand-delimited key=value
// pairs with URL-escaped values.
func (f *Fragment) Encode() []byte {
	var b bytes.Buffer
	for i, p := range f.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.Bytes()
}

// NewFragment starts a fragment for the given event type. The event
// type pair is written first, marking the fragment boundary on the
// wire.
func NewFragment(eventType EventType) *Fragment {
	f := &Fragment{}
	f.AddInt(KeyEventType, int64(eventType))
	return f
}

// DecodeChunk parses a beacon payload chunk back into fragments. A new
// fragment begins at every et= key. Returns an error for a pair
// without '=', a value that fails URL-unescaping, or leading pairs
// before the first et= key.
func DecodeChunk(data []byte) ([]*Fragment, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var fragments []*Fragment
	var current *Fragment

	for _, raw := range strings.Split(string(data), "&") {
		key, escaped, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("%w: pair %q has no '='", ErrProtocol, raw)
		}
		value, err := url.QueryUnescape(escaped)
		if err != nil {
			return nil, fmt.Errorf("%w: pair %q: %v", ErrProtocol, raw, err)
		}

		if key == KeyEventType {
			current = &Fragment{}
			fragments = append(fragments, current)
		} else if current == nil {
			return nil, fmt.Errorf("%w: pair %q before first %s key", ErrProtocol, raw, KeyEventType)
		}
		current.Add(key, value)
	}

	return fragments, nil
}
