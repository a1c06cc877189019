// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Beaconkit-demo exercises a collector with synthetic telemetry. It
// builds a client from flags or a config file, runs a number of
// sessions through a fixed action/value/crash script, optionally
// samples process metrics, and shuts down cleanly so everything
// flushes before exit.
//
// Point it at beaconkit-mock and inspect /dump to see the result.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/beaconkit/beaconkit"
	"github.com/beaconkit/beaconkit/lib/config"
	"github.com/beaconkit/beaconkit/sysmetrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "beaconkit-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		collectorURL  string
		applicationID string
		sessionCount  int
		actionCount   int
		pause         time.Duration
		withMetrics   bool
	)
	flagSet := pflag.NewFlagSet("beaconkit-demo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to beaconkit.yaml (overrides --collector/--app)")
	flagSet.StringVar(&collectorURL, "collector", "http://127.0.0.1:9000/mbeacon", "collector beacon endpoint")
	flagSet.StringVar(&applicationID, "app", "beaconkit-demo", "application id reported to the collector")
	flagSet.IntVar(&sessionCount, "sessions", 3, "number of sessions to run")
	flagSet.IntVar(&actionCount, "actions", 5, "actions per session")
	flagSet.DurationVar(&pause, "pause", 50*time.Millisecond, "pause between recorded events")
	flagSet.BoolVar(&withMetrics, "sysmetrics", false, "sample process CPU/RSS into the first session")
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	clientConfig := beaconkit.Config{
		EndpointURL:   collectorURL,
		ApplicationID: applicationID,
		Logger:        logger,
	}
	if configPath != "" {
		file, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		clientConfig = file.ClientConfig()
		clientConfig.Logger = logger
	}

	client, err := beaconkit.New(clientConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	samplerCtx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()

	for i := 0; i < sessionCount; i++ {
		if ctx.Err() != nil {
			break
		}
		session := client.NewSession()
		session.IdentifyUser(fmt.Sprintf("demo-user-%d", i))
		logger.Info("session started", "session", session.ID())

		if withMetrics && i == 0 {
			sampler, err := sysmetrics.New(sysmetrics.Config{
				Recorder: session,
				Interval: time.Second,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			go sampler.Run(samplerCtx)
		}

		for j := 0; j < actionCount; j++ {
			action := session.EnterAction(fmt.Sprintf("demo.action.%d", j))
			session.ReportValue("demo.iteration", float64(j))
			session.ReportStringValue("demo.phase", "load")
			sleep(ctx, pause)
			action.Leave()
		}
		if i == sessionCount-1 {
			session.ReportCrash("DemoCrash", "synthetic failure", "main.run\n\tdemo.go:1")
		}
		session.End()
	}

	stopSampler()
	logger.Info("flushing")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Shutdown(shutdownCtx)
}

// sleep pauses for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
