// Package config loads service configuration from an optional YAML file with
// COACORE_* environment overrides taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Blob     Blob     `yaml:"blob"`
	Identity Identity `yaml:"identity"`
	RefData  RefData  `yaml:"refdata"`
	Logging  Logging  `yaml:"logging"`
}

// Storage selects and parameterizes the persistence backend.
type Storage struct {
	Driver      string `yaml:"driver"` // memory | sqlite | postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob selects and parameterizes the signature-image store.
type Blob struct {
	Driver string `yaml:"driver"` // fs | s3 | memory
	FSRoot string `yaml:"fs_root"`
}

// Identity points at the staff PIN-verification service.
type Identity struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// RefData points at the controlled-vocabulary service.
type RefData struct {
	BaseURL string `yaml:"base_url"`
}

// Logging controls log output.
type Logging struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns the configuration used when no file or overrides are present.
func Default() Config {
	return Config{
		Storage: Storage{Driver: "memory", SQLitePath: "coacore.db"},
		Blob:    Blob{Driver: "fs", FSRoot: "./blobdata"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML file at path (missing file is not an error) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Storage.Driver, "COACORE_STORAGE_DRIVER")
	overrideString(&cfg.Storage.SQLitePath, "COACORE_SQLITE_PATH")
	overrideString(&cfg.Storage.PostgresDSN, "COACORE_POSTGRES_DSN")
	overrideString(&cfg.Blob.Driver, "COACORE_BLOB_DRIVER")
	overrideString(&cfg.Blob.FSRoot, "COACORE_BLOB_FS_ROOT")
	overrideString(&cfg.Identity.BaseURL, "COACORE_IDENTITY_URL")
	overrideString(&cfg.Identity.Token, "COACORE_IDENTITY_TOKEN")
	overrideString(&cfg.RefData.BaseURL, "COACORE_REFDATA_URL")
	overrideString(&cfg.Logging.Level, "COACORE_LOG_LEVEL")
}

func overrideString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}
