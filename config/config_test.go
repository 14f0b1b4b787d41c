package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadCoordinator(t *testing.T) {
	path := writeLines(t, "127.0.0.1", "8000", "127.0.0.1", "9000")
	cfg, err := ReadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.ClientIP)
	assert.Equal(t, 8000, cfg.ClientPort)
	assert.Equal(t, 9000, cfg.WorkerPort)
}

func TestReadWorker(t *testing.T) {
	path := writeLines(t, "127.0.0.1", "9000", "127.0.0.1", "9100", "/tmp/worker", "Text")
	cfg, err := ReadWorker(path)
	require.NoError(t, err)
	assert.Equal(t, "Text", cfg.Kind)
	assert.Equal(t, 9100, cfg.ServePort)
}

func TestReadClientMissingLines(t *testing.T) {
	path := writeLines(t, "alice", "/tmp/alice")
	_, err := ReadClient(path)
	assert.Error(t, err)
}
