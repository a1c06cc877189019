// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Status response keys.
const (
	responseKeyCapture       = "cp" // 0 or 1
	responseKeyServerID      = "id"
	responseKeyMaxBeaconSize = "bl" // kilobytes
	responseKeyMultiplicity  = "mp"
	responseKeyMonitorName   = "mn" // opaque, forwarded as-is
)

// StatusResponse is the collector's answer to a status or beacon
// request. Missing keys keep their defaults, so an empty body is a
// valid response that changes nothing.
type StatusResponse struct {
	Capture         bool
	ServerID        int
	MaxBeaconSizeKB int
	Multiplicity    int
	MonitorName     string
}

// defaultStatusResponse mirrors the collector's defaults for keys it
// omits: capture on, server 1, 30 KB beacons, multiplicity 1.
func defaultStatusResponse() StatusResponse {
	return StatusResponse{
		Capture:         true,
		ServerID:        1,
		MaxBeaconSizeKB: 30,
		Multiplicity:    1,
	}
}

// ParseStatusResponse decodes an ampersand-delimited key=value status
// line. Unknown keys are ignored for forward compatibility. A pair
// without '=' or a non-numeric value for a numeric key is a protocol
// error; the caller treats it like a transport failure and leaves the
// capture policy unchanged.
func ParseStatusResponse(body []byte) (*StatusResponse, error) {
	response := defaultStatusResponse()

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return &response, nil
	}

	for _, raw := range strings.Split(trimmed, "&") {
		key, value, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("%w: status pair %q has no '='", ErrProtocol, raw)
		}

		switch key {
		case responseKeyCapture:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: capture flag %q: %v", ErrProtocol, value, err)
			}
			response.Capture = n == 1
		case responseKeyServerID:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: server id %q: %v", ErrProtocol, value, err)
			}
			response.ServerID = n
		case responseKeyMaxBeaconSize:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: beacon size %q: %v", ErrProtocol, value, err)
			}
			response.MaxBeaconSizeKB = n
		case responseKeyMultiplicity:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: multiplicity %q: %v", ErrProtocol, value, err)
			}
			response.Multiplicity = n
		case responseKeyMonitorName:
			response.MonitorName = value
		}
	}

	return &response, nil
}
