// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Beaconkit-mock is a drop-in replacement for a telemetry collector in
// integration tests and demos. It accepts the beacon protocol exactly
// (status GETs and beacon POSTs on the same endpoint), stores every
// decoded fragment in memory, and exposes query endpoints so tests can
// verify telemetry was received.
//
// Endpoints:
//   - GET/POST /mbeacon: the beacon protocol; answers with the
//     configured capture policy
//   - GET /dump: all stored fragments as JSON
//   - POST /reset: drop stored fragments
//   - POST /capture/on, /capture/off: flip the capture policy the
//     beacon endpoint answers with
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/beaconkit/beaconkit/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "beaconkit-mock:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddress   string
		serverID        int
		maxBeaconSizeKB int
		multiplicity    int
	)
	flag.StringVar(&listenAddress, "listen", "127.0.0.1:9000", "address to listen on")
	flag.IntVar(&serverID, "server-id", 1, "server id returned in status responses")
	flag.IntVar(&maxBeaconSizeKB, "max-beacon-kb", 30, "max beacon size in KB returned in status responses")
	flag.IntVar(&multiplicity, "multiplicity", 1, "multiplicity returned in status responses")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := &mockCollector{
		store:           &fragmentStore{},
		serverID:        serverID,
		maxBeaconSizeKB: maxBeaconSizeKB,
		multiplicity:    multiplicity,
		logger:          logger,
	}
	collector.capture.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/mbeacon", collector.handleBeacon)
	mux.HandleFunc("/dump", collector.handleDump)
	mux.HandleFunc("/reset", collector.handleReset)
	mux.HandleFunc("/capture/on", collector.handleCapture(true))
	mux.HandleFunc("/capture/off", collector.handleCapture(false))

	server := &http.Server{Addr: listenAddress, Handler: mux}
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	logger.Info("mock collector running", "listen", listenAddress)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := <-serverDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// mockCollector serves the beacon protocol plus the test control
// surface.
type mockCollector struct {
	store           *fragmentStore
	capture         atomic.Bool
	serverID        int
	maxBeaconSizeKB int
	multiplicity    int
	logger          *slog.Logger
}

// handleBeacon answers both status requests (GET, empty body) and
// beacon submissions (POST with an ampersand-delimited chunk body).
func (c *mockCollector) handleBeacon(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.store.statusRequests.Add(1)
	case http.MethodPost:
		c.store.beaconRequests.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		fragments, err := protocol.DecodeChunk(body)
		if err != nil {
			c.logger.Warn("undecodable chunk", "error", err)
			http.Error(w, "bad chunk", http.StatusBadRequest)
			return
		}
		c.store.addChunk(fragments)
		c.logger.Debug("chunk stored",
			"fragments", len(fragments),
			"bytes", len(body),
		)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	capture := 0
	if c.capture.Load() {
		capture = 1
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "cp=%d&id=%d&bl=%d&mp=%d",
		capture, c.serverID, c.maxBeaconSizeKB, c.multiplicity)
}

func (c *mockCollector) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		StatusRequests uint64           `json:"status_requests"`
		BeaconRequests uint64           `json:"beacon_requests"`
		Fragments      []storedFragment `json:"fragments"`
	}{
		StatusRequests: c.store.statusRequests.Load(),
		BeaconRequests: c.store.beaconRequests.Load(),
		Fragments:      c.store.snapshot(),
	})
}

func (c *mockCollector) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c.store.reset()
	w.WriteHeader(http.StatusNoContent)
}

func (c *mockCollector) handleCapture(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.capture.Store(enabled)
		c.logger.Info("capture toggled", "enabled", enabled)
		w.WriteHeader(http.StatusNoContent)
	}
}
