package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

const testConfigYAML = `locale: de_DE

cache:
  path: /tmp/ledger-cache.db
  max_age_days: 3

spreadsheet:
  id: sheet-1
  worksheet: Expenses

columns:
  - {name: Date, type: date}
  - {name: Amount, type: float}
  - {name: Description, type: string}
  - {name: Notes, type: string}

mapping:
  date: Date
  amount: Amount
  description: Description|Notes
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Source.SpreadsheetID != "sheet-1" || cfg.Source.Worksheet != "Expenses" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Locale != "de_DE" {
		t.Errorf("locale = %q", cfg.Locale)
	}
	if cfg.DBPath != "/tmp/ledger-cache.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.MaxCacheAge != 3*24*time.Hour {
		t.Errorf("max age = %v", cfg.MaxCacheAge)
	}
	if len(cfg.Columns) != 4 || cfg.Columns[1].Type != types.ColumnFloat {
		t.Errorf("columns = %+v", cfg.Columns)
	}
	if got := types.ParseMappingSpec(cfg.Mapping[types.RoleDescription]); len(got) != 2 {
		t.Errorf("description mapping = %v", got)
	}
}

func TestLoadConfigRejectsInvalidMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	// The date role points at a column that is not configured.
	if err := os.WriteFile(path, []byte(`locale: en_GB
cache: {path: /tmp/x.db}
spreadsheet: {id: s, worksheet: W}
columns:
  - {name: Amount, type: float}
  - {name: Description, type: string}
mapping:
  date: Date
  amount: Amount
  description: Description
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestDefaultConfigTemplateIsValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("default template does not load: %v", err)
	}
	if len(cfg.Columns) == 0 || cfg.Mapping[types.RoleDate] == "" {
		t.Errorf("template config = %+v", cfg)
	}
}
