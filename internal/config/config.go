// Package config provides unified configuration loading for hub services.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads a .env file (if present) and decodes environment variables into
// cfg, which must be a pointer to a struct whose fields carry `env:"..."`
// tags. Missing optional fields keep whatever zero value or default the
// caller pre-populated on cfg before calling Load.
func Load(cfg interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of the struct's tagged fields were set
		// in the environment; treat that as "use the defaults" so local runs
		// work without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return fmt.Errorf("decode env: %w", err)
		}
	}

	return nil
}

// LoadYAML parses a YAML fragment (RBAC policy, default route table, rule
// definitions) from path into v.
func LoadYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
