// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session lifecycle state machine and
// the recording surface host applications call: enter and leave
// actions, identify users, report crashes and values, end the session.
//
// A session moves Active → Ending → Closed. Ending is entered exactly
// once via End; Closed is reached when the dispatcher removes the
// session after its final flush. Recording operations never block on
// the network and never fail — the worst that can happen to recorded
// data is silent, deliberate loss under memory pressure or disabled
// capture.
package session
