package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.DefaultPageSize != def.DefaultPageSize || cfg.CacheCapacity != def.CacheCapacity {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_FileOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridcat.yaml")
	if err := os.WriteFile(path, []byte("defaultPageSize: 25\nworkers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultPageSize != 25 || cfg.Workers != 2 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CacheCapacity != Default().CacheCapacity {
		t.Errorf("unnamed field lost its default: %+v", cfg)
	}
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridcat.yaml")
	if err := os.WriteFile(path, []byte("defaultPageSize: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero page size")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAllowsPageSize(t *testing.T) {
	cfg := Default()
	if !cfg.AllowsPageSize(7) {
		t.Error("custom positive size should be allowed")
	}
	if cfg.AllowsPageSize(0) {
		t.Error("zero size must be rejected")
	}
}
