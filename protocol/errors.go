// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "errors"

// ErrTransport marks a failed exchange with the collector: connection
// failure or a non-success HTTP status. Transport errors are transient
// — the dispatcher retries them with capped exponential backoff and
// they are never surfaced to the recording API.
var ErrTransport = errors.New("transport error")

// ErrProtocol marks a response whose body could not be parsed. It is
// retried exactly like ErrTransport; the capture policy is left
// unchanged.
var ErrProtocol = errors.New("protocol error")
