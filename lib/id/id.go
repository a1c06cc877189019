// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package id

import (
	"crypto/rand"
	"encoding/hex"
	"os"
)

// NewSessionID generates a random 16-character hex session identifier.
// Panics if the system entropy source fails — this indicates a
// system-level failure that no caller can recover from.
func NewSessionID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("id: failed to generate session ID: " + err.Error())
	}
	return hex.EncodeToString(raw[:])
}

// WorkerID returns a process-stable worker identifier stamped on every
// wire fragment. Goroutines have no stable identity, so the process ID
// stands in for the per-thread identifier a native agent would report.
func WorkerID() int {
	return os.Getpid()
}
