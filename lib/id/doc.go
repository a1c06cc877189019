// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package id generates session identifiers and supplies the worker
// identity stamped on wire fragments.
package id
