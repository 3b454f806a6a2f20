package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Storage.SQLitePath != "coacore.db" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.FSRoot != "./blobdata" {
		t.Fatalf("blob defaults = %+v", cfg.Blob)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging default = %+v", cfg.Logging)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coacore.yaml")
	doc := `
storage:
  driver: sqlite
  sqlite_path: /var/lib/coacore/state.db
identity:
  base_url: https://staff.example.com
  token: secret
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/var/lib/coacore/state.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Identity.BaseURL != "https://staff.example.com" || cfg.Identity.Token != "secret" {
		t.Fatalf("identity = %+v", cfg.Identity)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Blob.Driver != "fs" {
		t.Fatalf("blob = %+v", cfg.Blob)
	}
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg.Storage)
	}
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage: [not a map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coacore.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: sqlite\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COACORE_STORAGE_DRIVER", "postgres")
	t.Setenv("COACORE_POSTGRES_DSN", "postgres://db.example.com/coacore")
	t.Setenv("COACORE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("env did not override file: %+v", cfg.Storage)
	}
	if cfg.Storage.PostgresDSN != "postgres://db.example.com/coacore" {
		t.Fatalf("dsn = %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestEmptyEnvValueIsIgnored(t *testing.T) {
	t.Setenv("COACORE_STORAGE_DRIVER", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("empty env override applied: %+v", cfg.Storage)
	}
}
