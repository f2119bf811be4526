package config

import (
	"strings"
	"testing"
)

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("HYDRONET_DATA_DIR", "")
	t.Setenv("HYDRONET_ENABLE_ADMIN_HTTP", "")
	t.Setenv("HYDRONET_OTEL_ENDPOINT", "")

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if e.DataDir != "./data" || e.ConfigDir != "./configs" {
		t.Fatalf("dirs=%q,%q", e.DataDir, e.ConfigDir)
	}
	if !e.EnableAdminHTTP || !e.OTelEnabled || e.DisableDB {
		t.Fatalf("bool defaults=%+v", e)
	}
	if e.ServiceName != "hydronet" || e.OTelEndpoint != "" {
		t.Fatalf("otel defaults=%+v", e)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HYDRONET_DATA_DIR", "/var/lib/hydronet")
	t.Setenv("HYDRONET_ENABLE_ADMIN_HTTP", "false")
	t.Setenv("HYDRONET_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("HYDRONET_ARCHIVE_EVERY_TICKS", "72000")

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if e.DataDir != "/var/lib/hydronet" || e.EnableAdminHTTP || e.OTelEndpoint != "http://localhost:4318" || e.ArchiveEveryTicks != 72000 {
		t.Fatalf("env=%+v", e)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("HYDRONET_DISABLE_DB", "maybe")

	_, err := LoadEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
