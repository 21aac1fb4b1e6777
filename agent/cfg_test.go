package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
discovery:
  static_dir: /etc/mesh/services
  services: ["config+v1+cache+feed.content:user@mc@vintage"]
  interval: 5s
listen:
  socks_dir: /tmp/mesh/socks
pipeline:
  depth: 128
  buf_size: 64KB
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, "/etc/mesh/services", cfg.Discovery.StaticDir)
	assert.Equal(t, 128, cfg.Pipeline.Depth)
	assert.Equal(t, 64*datasize.KB, cfg.Pipeline.BufSize)
	assert.Equal(t, "/tmp/mesh/socks", cfg.Listen.SocksDir)

	// Defaults survive partial configs.
	assert.Equal(t, time.Minute, cfg.Discovery.DNSInterval)
	assert.Equal(t, 30*time.Second, cfg.Discovery.DrainDelay)
}

func TestLoadConfigSocksDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  socks_dir: /from/file\n"), 0o644))

	t.Setenv("socks_dir", "/from/env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Listen.SocksDir)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}
