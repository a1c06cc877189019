// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the collector wire protocol: the
// ampersand-delimited key=value fragment format carried in beacon
// payloads, the status response the collector answers with, the
// capture policy derived from those responses, and the HTTP transport
// that moves both.
//
// A beacon payload is a concatenation of fragments. Each fragment is a
// run of key=value pairs joined by '&', and every fragment starts with
// the event type key ("et="), so a decoder recovers fragment
// boundaries without a separate framing layer. Values are URL-escaped;
// keys are fixed short tokens. A payload chunk never splits a
// fragment.
//
// The collector's response body is a single ampersand-delimited status
// line ("cp=1&id=5&bl=30&mp=1"). Any response that parses — including
// one that disables capture — counts as a successful exchange. A body
// that does not parse is a protocol error and is retried like a
// transport failure.
package protocol
