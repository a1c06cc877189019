// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for BeaconKit
// binaries.
//
// Configuration is loaded from a single YAML file specified by:
//   - BEACONKIT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The file is the
// single source of truth; environment variables do not override its
// values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beaconkit/beaconkit"
)

// File is the on-disk configuration for a BeaconKit client.
type File struct {
	// Collector configures the collector connection.
	Collector CollectorConfig `yaml:"collector"`

	// Cache configures the event cache watermarks.
	Cache CacheConfig `yaml:"cache"`

	// Dispatch configures the background worker.
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// CollectorConfig configures the collector connection.
type CollectorConfig struct {
	// EndpointURL is the collector's beacon endpoint.
	EndpointURL string `yaml:"endpoint_url"`

	// ApplicationID identifies the instrumented application.
	ApplicationID string `yaml:"application_id"`
}

// CacheConfig configures the event cache watermarks, in bytes. Zero
// values take the library defaults.
type CacheConfig struct {
	UpperBytes int64 `yaml:"upper_bytes"`
	LowerBytes int64 `yaml:"lower_bytes"`
}

// DispatchConfig configures the background worker. Zero values take
// the library defaults.
type DispatchConfig struct {
	// SendInterval is the pause between dispatch cycles.
	SendInterval time.Duration `yaml:"send_interval"`

	// ShutdownFlushTimeout bounds the final flush on shutdown.
	ShutdownFlushTimeout time.Duration `yaml:"shutdown_flush_timeout"`
}

// Load loads configuration from the BEACONKIT_CONFIG environment
// variable. If the variable is not set, this fails; there is no
// default path.
func Load() (*File, error) {
	path := os.Getenv("BEACONKIT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BEACONKIT_CONFIG environment variable not set; " +
			"set it to the path of your beaconkit.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path and
// validates it.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &file, nil
}

// Validate checks the configuration for errors.
func (f *File) Validate() error {
	var errs []error

	if f.Collector.EndpointURL == "" {
		errs = append(errs, fmt.Errorf("collector.endpoint_url is required"))
	} else if _, err := url.Parse(f.Collector.EndpointURL); err != nil {
		errs = append(errs, fmt.Errorf("collector.endpoint_url: %w", err))
	}
	if f.Collector.ApplicationID == "" {
		errs = append(errs, fmt.Errorf("collector.application_id is required"))
	}

	if f.Cache.UpperBytes < 0 || f.Cache.LowerBytes < 0 {
		errs = append(errs, fmt.Errorf("cache watermarks must be non-negative"))
	}
	if f.Cache.UpperBytes > 0 && f.Cache.LowerBytes > f.Cache.UpperBytes {
		errs = append(errs, fmt.Errorf("cache.lower_bytes (%d) exceeds cache.upper_bytes (%d)",
			f.Cache.LowerBytes, f.Cache.UpperBytes))
	}

	if f.Dispatch.SendInterval < 0 {
		errs = append(errs, fmt.Errorf("dispatch.send_interval must be non-negative"))
	}
	if f.Dispatch.ShutdownFlushTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.shutdown_flush_timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ClientConfig converts the file into a beaconkit.Config.
func (f *File) ClientConfig() beaconkit.Config {
	return beaconkit.Config{
		EndpointURL:          f.Collector.EndpointURL,
		ApplicationID:        f.Collector.ApplicationID,
		CacheUpperBytes:      f.Cache.UpperBytes,
		CacheLowerBytes:      f.Cache.LowerBytes,
		SendInterval:         f.Dispatch.SendInterval,
		ShutdownFlushTimeout: f.Dispatch.ShutdownFlushTimeout,
	}
}
