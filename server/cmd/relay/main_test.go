package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendlv/opendlv-ui-relay/server/internal/config"
)

func loadWithArgs(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var f flags
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, &f)
	require.NoError(t, cmd.ParseFlags(args))
	return config.Load(f.configPath, flagOverrides(cmd, &f))
}

func TestFlags_Required(t *testing.T) {
	_, err := loadWithArgs(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestFlags_Minimal(t *testing.T) {
	cfg, err := loadWithArgs(t, "--cid=111", "--port=8000", "--http-root=/srv/ui")
	require.NoError(t, err)
	assert.Equal(t, 111, cfg.Relay.CID)
	assert.Equal(t, 8000, cfg.Relay.Port)
	assert.Equal(t, "/srv/ui", cfg.Relay.HTTPRoot)
	assert.Equal(t, config.TransportMulticast, cfg.Relay.Bus.Transport)
	assert.False(t, cfg.Relay.TLS.Enabled())
}

func TestFlags_OverrideFileOnlyWhenGiven(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	yaml := "relay:\n  cid: 111\n  port: 8000\n  http_root: /srv/ui\n  map_file: /srv/map.csv\n  verbose: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := loadWithArgs(t, "--config="+path, "--port=9000", "--ssl-cert-path=c.pem", "--ssl-key-path=k.pem")
	require.NoError(t, err)
	assert.Equal(t, 111, cfg.Relay.CID)
	assert.Equal(t, 9000, cfg.Relay.Port)
	assert.Equal(t, "/srv/map.csv", cfg.Relay.MapFile)
	assert.True(t, cfg.Relay.Verbose)
	assert.True(t, cfg.Relay.TLS.Enabled())
}

func TestFlags_BusTransport(t *testing.T) {
	cfg, err := loadWithArgs(t, "--cid=1000", "--port=8000", "--http-root=/srv/ui", "--bus=libp2p")
	require.NoError(t, err)
	assert.Equal(t, config.TransportLibp2p, cfg.Relay.Bus.Transport)
}
