package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadYAML_PartialFileOverridesOnlyNamedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
core:
  mtu: 512
session:
  handshake_timeout: 5s
`), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	want := DefaultEngineConfig()
	want.Core.MTU = 512
	want.Session.HandshakeTimeout = 5 * time.Second
	require.Equal(t, want, cfg)
}

func TestLoadYAML_MissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
