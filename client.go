// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package beaconkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/beaconkit/beaconkit/beacon"
	"github.com/beaconkit/beaconkit/cache"
	"github.com/beaconkit/beaconkit/dispatch"
	"github.com/beaconkit/beaconkit/lib/clock"
	"github.com/beaconkit/beaconkit/lib/id"
	"github.com/beaconkit/beaconkit/protocol"
	"github.com/beaconkit/beaconkit/session"
)

// Config holds configuration for creating a Client.
type Config struct {
	// EndpointURL is the collector's beacon endpoint. Required unless
	// Transport is set.
	EndpointURL string

	// ApplicationID identifies the instrumented application to the
	// collector. Required unless Transport is set.
	ApplicationID string

	// Transport overrides the HTTP transport built from EndpointURL
	// and ApplicationID. Tests use this to plug in a fake collector.
	Transport protocol.Transport

	// HTTPClient is used by the built-in transport. If nil,
	// http.DefaultClient is used. Ignored when Transport is set.
	HTTPClient *http.Client

	// CacheUpperBytes and CacheLowerBytes are the eviction watermarks.
	// Zero means the cache package defaults.
	CacheUpperBytes int64
	CacheLowerBytes int64

	// SendInterval is the pause between dispatch cycles. Zero means
	// dispatch.DefaultSendInterval.
	SendInterval time.Duration

	// ShutdownFlushTimeout bounds the final flush during Shutdown.
	// Zero means dispatch.DefaultShutdownFlushTimeout.
	ShutdownFlushTimeout time.Duration

	// Clock supplies all timestamps and timers. If nil, the real
	// clock is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is the entry point of the SDK. It owns the shared event
// cache, the capture policy, and the single background dispatch
// worker; sessions created from it record locally and never touch the
// network themselves.
//
// Thread-safe: sessions may be created and used from any goroutine.
type Client struct {
	cache    *cache.Cache
	policy   *protocol.PolicyStore
	sender   *dispatch.Sender
	clock    clock.Clock
	workerID int
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	shutdown bool
}

// New builds a client and starts its dispatch worker. The worker runs
// until Shutdown.
func New(config Config) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	transport := config.Transport
	if transport == nil {
		var err error
		transport, err = protocol.NewHTTPTransport(protocol.HTTPTransportConfig{
			EndpointURL:   config.EndpointURL,
			ApplicationID: config.ApplicationID,
			HTTPClient:    config.HTTPClient,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("beaconkit: %w", err)
		}
	}

	eventCache := cache.New(cache.Config{
		UpperBytes: config.CacheUpperBytes,
		LowerBytes: config.CacheLowerBytes,
		Logger:     logger,
	})
	policy := protocol.NewPolicyStore(protocol.DefaultPolicy())
	sender := dispatch.New(dispatch.Config{
		Transport:            transport,
		Policy:               policy,
		Cache:                eventCache,
		Clock:                clk,
		SendInterval:         config.SendInterval,
		ShutdownFlushTimeout: config.ShutdownFlushTimeout,
		Logger:               logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		cache:    eventCache,
		policy:   policy,
		sender:   sender,
		clock:    clk,
		workerID: id.WorkerID(),
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		sender.Run(ctx)
		close(client.done)
	}()
	return client, nil
}

// NewSession creates a session and registers it for background
// dispatch. Sessions created after Shutdown still buffer recordings
// locally (bounded by the cache watermarks) but the data is never
// dispatched; the worker is gone.
func (c *Client) NewSession() *session.Session {
	return session.New(session.Config{
		Beacon: beacon.New(beacon.Config{
			SessionID: id.NewSessionID(),
			Cache:     c.cache,
			Policy:    c.policy,
			Clock:     c.clock,
			WorkerID:  c.workerID,
			Logger:    c.logger,
		}),
		Sender: c.sender,
		Logger: c.logger,
	})
}

// Shutdown stops the dispatch worker and waits for its best-effort
// final flush. Data the flush cannot deliver is abandoned. Subsequent
// calls return immediately; ctx bounds only the wait, not the flush
// itself.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	already := c.shutdown
	c.shutdown = true
	c.mu.Unlock()
	if already {
		return nil
	}

	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("beaconkit: shutdown wait: %w", ctx.Err())
	}
}
