// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// protocolVersion is sent as the va query parameter on every request.
const protocolVersion = "1.0"

// maxResponseBytes bounds the status line read from the collector. A
// well-formed status response is under a hundred bytes; anything near
// this limit is garbage.
const maxResponseBytes = 4 * 1024

// Transport sends requests to the collector and parses the status
// response. The dispatcher depends on this interface so tests can
// substitute a fake without a real collector.
type Transport interface {
	// SendStatus asks the collector for the current capture policy
	// without submitting data.
	SendStatus(ctx context.Context) (*StatusResponse, error)

	// SendBeacon submits one payload chunk and returns the parsed
	// status response.
	SendBeacon(ctx context.Context, payload []byte) (*StatusResponse, error)
}

// HTTPTransportConfig holds configuration for creating an
// HTTPTransport.
type HTTPTransportConfig struct {
	// EndpointURL is the collector's beacon endpoint (e.g.,
	// "https://collector.example.com/mbeacon").
	EndpointURL string

	// ApplicationID identifies the instrumented application to the
	// collector.
	ApplicationID string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// HTTPTransport is the production Transport: HTTP against the
// collector's beacon endpoint. Status requests are GETs; beacon
// submissions POST the payload as the request body. Both carry the
// application identity in the query string.
type HTTPTransport struct {
	endpoint      string
	applicationID string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewHTTPTransport validates the endpoint URL and creates a transport.
func NewHTTPTransport(config HTTPTransportConfig) (*HTTPTransport, error) {
	if config.EndpointURL == "" {
		return nil, fmt.Errorf("protocol: EndpointURL is required")
	}
	if _, err := url.Parse(config.EndpointURL); err != nil {
		return nil, fmt.Errorf("protocol: invalid EndpointURL %q: %w", config.EndpointURL, err)
	}
	if config.ApplicationID == "" {
		return nil, fmt.Errorf("protocol: ApplicationID is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		endpoint:      strings.TrimRight(config.EndpointURL, "/"),
		applicationID: config.ApplicationID,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// SendStatus implements Transport.
func (t *HTTPTransport) SendStatus(ctx context.Context) (*StatusResponse, error) {
	return t.exchange(ctx, http.MethodGet, nil)
}

// SendBeacon implements Transport.
func (t *HTTPTransport) SendBeacon(ctx context.Context, payload []byte) (*StatusResponse, error) {
	return t.exchange(ctx, http.MethodPost, payload)
}

// requestURL builds the collector URL with the monitor type,
// application id, and protocol version query parameters.
func (t *HTTPTransport) requestURL() string {
	query := url.Values{}
	query.Set("type", "m")
	query.Set("app", t.applicationID)
	query.Set("va", protocolVersion)
	return t.endpoint + "?" + query.Encode()
}

// exchange performs one request/response cycle. Connection failures
// and non-2xx statuses wrap ErrTransport; an unparseable body wraps
// ErrProtocol (via ParseStatusResponse). Both are retried identically
// by the dispatcher.
func (t *HTTPTransport) exchange(ctx context.Context, method string, payload []byte) (*StatusResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, t.requestURL(), body)
	if err != nil {
		return nil, fmt.Errorf("protocol: building request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrTransport, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: collector returned status %d", ErrTransport, response.StatusCode)
	}

	parsed, err := ParseStatusResponse(responseBody)
	if err != nil {
		t.logger.Debug("malformed status response", "error", err, "body_length", len(responseBody))
		return nil, err
	}
	return parsed, nil
}
