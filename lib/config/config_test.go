// Copyright 2026 The BeaconKit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beaconkit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint_url: https://collector.example.com/mbeacon
  application_id: shop-frontend
cache:
  upper_bytes: 1048576
  lower_bytes: 786432
dispatch:
  send_interval: 2s
  shutdown_flush_timeout: 10s
`)

	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if file.Collector.ApplicationID != "shop-frontend" {
		t.Fatalf("application id: %q", file.Collector.ApplicationID)
	}
	if file.Dispatch.SendInterval != 2*time.Second {
		t.Fatalf("send interval: %v", file.Dispatch.SendInterval)
	}

	clientConfig := file.ClientConfig()
	if clientConfig.CacheUpperBytes != 1048576 || clientConfig.CacheLowerBytes != 786432 {
		t.Fatalf("watermarks: %d/%d", clientConfig.CacheUpperBytes, clientConfig.CacheLowerBytes)
	}
	if clientConfig.ShutdownFlushTimeout != 10*time.Second {
		t.Fatalf("shutdown flush timeout: %v", clientConfig.ShutdownFlushTimeout)
	}
}

func TestLoadFileMissingEndpoint(t *testing.T) {
	path := writeConfig(t, `
collector:
  application_id: shop-frontend
`)
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "endpoint_url") {
		t.Fatalf("expected endpoint_url error, got %v", err)
	}
}

func TestLoadFileInvertedWatermarks(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint_url: https://collector.example.com/mbeacon
  application_id: app
cache:
  upper_bytes: 100
  lower_bytes: 200
`)
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected watermark error, got %v", err)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("BEACONKIT_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when BEACONKIT_CONFIG is unset")
	}
}

func TestLoadUsesEnvVar(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint_url: https://collector.example.com/mbeacon
  application_id: app
`)
	t.Setenv("BEACONKIT_CONFIG", path)
	file, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if file.Collector.ApplicationID != "app" {
		t.Fatalf("application id: %q", file.Collector.ApplicationID)
	}
}
