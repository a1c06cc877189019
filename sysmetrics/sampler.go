// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysmetrics reports process resource usage through a
// telemetry session. A Sampler owns nothing network-facing: it reads
// CPU and memory figures for the current process and records them as
// ordinary value events, so they flow through the same cache and
// dispatch path as application telemetry.
package sysmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/beaconkit/beaconkit/lib/clock"
)

// DefaultInterval is the pause between samples.
const DefaultInterval = 10 * time.Second

// Metric names recorded by the sampler.
const (
	MetricCPUPercent = "proc.cpu_percent"
	MetricRSSBytes   = "proc.rss_bytes"
)

// Recorder receives the sampled values. *session.Session satisfies
// this.
type Recorder interface {
	ReportValue(name string, value float64)
}

// Config holds Sampler construction parameters.
type Config struct {
	// Recorder receives the sampled values. Required.
	Recorder Recorder

	// Interval is the pause between samples. Defaults to
	// DefaultInterval when zero.
	Interval time.Duration

	// Clock drives the sampling loop. If nil, the real clock is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Sampler periodically records process CPU and RSS figures.
type Sampler struct {
	recorder Recorder
	proc     *process.Process
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a sampler bound to the current process.
func New(config Config) (*Sampler, error) {
	if config.Recorder == nil {
		return nil, fmt.Errorf("sysmetrics: Recorder is required")
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("sysmetrics: open process: %w", err)
	}

	interval := config.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sampler{
		recorder: config.Recorder,
		proc:     proc,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}, nil
}

// Run samples until ctx is cancelled. Blocks; callers run it in a
// goroutine.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

// sample reads one CPU and one memory figure. Read failures are
// logged and skipped; the loop keeps running.
func (s *Sampler) sample(ctx context.Context) {
	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		s.logger.Warn("cpu sample failed", "error", err)
	} else {
		s.recorder.ReportValue(MetricCPUPercent, cpu)
	}

	memory, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		s.logger.Warn("memory sample failed", "error", err)
	} else {
		s.recorder.ReportValue(MetricRSSBytes, float64(memory.RSS))
	}
}
