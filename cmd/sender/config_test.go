package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccessSender(t *testing.T) {
	path := writeTempSenderConfig(t, `{"helper":"203.0.113.5:4277","phrase":"correct horse battery staple","file":"/tmp/payload.bin","bitrate":1048576,"compress":true,"dscp":46}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.Helper != "203.0.113.5:4277" || cfg.Phrase != "correct horse battery staple" {
		t.Fatalf("unexpected helper/phrase: %+v", cfg)
	}
	if cfg.File != "/tmp/payload.bin" || cfg.Bitrate != 1048576 || !cfg.Compress || cfg.DSCP != 46 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFileSender(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatal("parseJSONConfig expected error for missing file")
	}
}

func writeTempSenderConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
