package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int    `env:"TEST_CONFIG_PORT"`
	Name    string `env:"TEST_CONFIG_NAME"`
	Enabled bool   `env:"TEST_CONFIG_ENABLED"`
}

func TestLoad_DecodesEnvOverDefaults(t *testing.T) {
	t.Setenv("TEST_CONFIG_PORT", "9090")
	t.Setenv("TEST_CONFIG_NAME", "hub-gateway")
	t.Setenv("TEST_CONFIG_ENABLED", "true")

	cfg := testConfig{Port: 8080, Name: "default"}
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "hub-gateway", cfg.Name)
	assert.True(t, cfg.Enabled)
}

func TestLoad_KeepsDefaultsWhenEnvUnset(t *testing.T) {
	cfg := testConfig{Port: 8080, Name: "default"}
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "default", cfg.Name)
}

func TestLoadYAML_ParsesFragment(t *testing.T) {
	type policy struct {
		Roles []string `yaml:"roles"`
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - owner\n  - admin\n"), 0o600))

	var p policy
	require.NoError(t, LoadYAML(path, &p))
	assert.Equal(t, []string{"owner", "admin"}, p.Roles)
}

func TestLoadYAML_MissingFile(t *testing.T) {
	err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &struct{}{})
	assert.Error(t, err)
}
