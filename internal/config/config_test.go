package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o640))
	return path
}

func TestLoadClientSucceedsOnValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"configuration": {"type": "client"},
		"client_id": "aa:bb:cc:dd:ee:ff",
		"server_addr": "ws://localhost:8900/ws",
		"workspace_dir": "/tmp/motra",
		"retry_time": 1,
		"retry_limit": 5
	}`)

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.ClientID)
}

func TestLoadClientRejectsWrongKind(t *testing.T) {
	path := writeConfig(t, `{"configuration": {"type": "server"}, "server_id": "x"}`)
	_, err := LoadClient(path)
	assert.Error(t, err)
}

func TestLoadClientRejectsOutOfBoundRetry(t *testing.T) {
	path := writeConfig(t, `{
		"configuration": {"type": "client"},
		"client_id": "aa:bb:cc:dd:ee:ff",
		"retry_time": 31,
		"retry_limit": 5
	}`)
	_, err := LoadClient(path)
	assert.Error(t, err)
}

func TestLoadServerSucceedsOnValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"configuration": {"type": "server"},
		"server_id": "11:22:33:44:55:66",
		"listen_addr": ":8900",
		"capcon_dir": "/tmp/capcons"
	}`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, "11:22:33:44:55:66", cfg.ServerID)
}

func TestLoadServerRejectsMissingCapConDir(t *testing.T) {
	path := writeConfig(t, `{"configuration": {"type": "server"}, "server_id": "x"}`)
	_, err := LoadServer(path)
	assert.Error(t, err)
}
