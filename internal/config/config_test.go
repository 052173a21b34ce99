package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadValidFullConfigAndResolveRelativePaths(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "https://example.com/sdm"
runtime:
  reader_index: 0
  log_format: "text"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	wantStorePath := filepath.Join(filepath.Dir(cfgPath), "keys.csv")
	if cfg.KeyStore.Path != wantStorePath {
		t.Fatalf("expected resolved key store path %q, got %q", wantStorePath, cfg.KeyStore.Path)
	}
	if cfg.Runtime.ReaderIndex == nil || *cfg.Runtime.ReaderIndex != 0 {
		t.Fatalf("expected reader_index 0, got %v", cfg.Runtime.ReaderIndex)
	}
}

func TestLoadWithModeEmulatorAllowsMissingReaderIndex(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "https://example.com/sdm"
`)

	if _, err := LoadWithMode(cfgPath, ValidationEmulator); err != nil {
		t.Fatalf("LoadWithMode returned error: %v", err)
	}
}

func TestLoadFullFailsWithoutReaderIndex(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "https://example.com/sdm"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.runtime.reader_index is required") {
		t.Fatalf("expected missing reader_index error, got %v", err)
	}
}

func TestLoadFailsOnRelativeBaseURL(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "example.com/sdm"
runtime:
  reader_index: 0
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "must be absolute") {
		t.Fatalf("expected absolute URL error, got %v", err)
	}
}

func TestLoadFailsOnUnknownField(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "https://example.com/sdm"
  tyop_field: true
runtime:
  reader_index: 0
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected unknown-field error for a misspelled key")
	}
}

func TestLoadFailsOnBadLogFormat(t *testing.T) {
	cfgPath := writeConfig(t, `
key_store:
  path: "keys.csv"
sdm:
  base_url: "https://example.com/sdm"
runtime:
  reader_index: 0
  log_format: "xml"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "log_format") {
		t.Fatalf("expected log_format error, got %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}
