package configutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl   string `json:"base_url"`
	UserAgent string `json:"user_agent"`
}

func writeConfig(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(contents), 0644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json5", `{
		// comments are allowed
		base_url: "https://example.com",
		user_agent: "base agent",
	}`)

	config, err := ReadConfig[testConfig](path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://example.com", config.BaseUrl)
	require.Equal(t, "base agent", config.UserAgent)
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json5", `{
		base_url: "https://example.com",
		user_agent: "base agent",
	}`)
	writeConfig(t, dir, "config.local.json5", `{
		user_agent: "local agent",
	}`)

	config, err := ReadConfig[testConfig](path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://example.com", config.BaseUrl)
	require.Equal(t, "local agent", config.UserAgent)
}

func TestReadConfigOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.local.json5", `{base_url: "https://local.example.com"}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://local.example.com", config.BaseUrl)
}

func TestReadConfigMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
