package bootstrap

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

func writeFile(t *testing.T, body string) string {
    t.Helper()
    p := filepath.Join(t.TempDir(), "glusterd.yaml")
    require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
    return p
}

func TestLoadConfigDefaults(t *testing.T) {
    cfg, err := LoadConfig(writeFile(t, "hostname: node1\n"))
    require.NoError(t, err)
    assert.Equal(t, DefaultWorkDir, cfg.WorkDir)
    assert.Equal(t, DefaultPort, cfg.Port)
    assert.Equal(t, ":4284", cfg.Bind)
    assert.Equal(t, DefaultAdminAddr, cfg.Admin)
    assert.Equal(t, "bolt", cfg.Store)
    assert.Equal(t, 3*time.Minute, time.Duration(cfg.LockLease))
    require.NotNil(t, cfg.FollowPeers)
    assert.True(t, *cfg.FollowPeers)
}

func TestLoadConfigOverrides(t *testing.T) {
    cfg, err := LoadConfig(writeFile(t, `
workdir: /tmp/gd
hostname: node2
port: 7000
store: badger
seeds: [node1, "node3:7000"]
peerTimeout: 5s
followPeers: false
gossip:
  enable: true
  bind: 127.0.0.1:24010
  evictFailed: true
tls:
  enable: false
  dir: /etc/ssl
`))
    require.NoError(t, err)
    assert.Equal(t, ":7000", cfg.Bind)
    assert.Equal(t, "badger", cfg.Store)
    assert.Equal(t, []string{"node1", "node3:7000"}, cfg.Seeds)
    assert.Equal(t, 5*time.Second, time.Duration(cfg.PeerTimeout))
    assert.False(t, *cfg.FollowPeers)
    assert.True(t, cfg.Gossip.EvictFailed)
    assert.Equal(t, "/etc/ssl", cfg.TLS.Dir)
}

func TestLoadConfigRejects(t *testing.T) {
    _, err := LoadConfig(writeFile(t, "hostname: n\nstore: etcd\n"))
    assert.True(t, errs.Has(err, errs.InvalidArgument))

    _, err = LoadConfig(writeFile(t, "hostname: n\nbogus: 1\n"))
    assert.Error(t, err)

    _, err = LoadConfig(writeFile(t, "hostname: n\npeerTimeout: soon\n"))
    assert.Error(t, err)

    _, err = LoadConfig(writeFile(t, "hostname: n\ngossip:\n  enable: true\n"))
    assert.True(t, errs.Has(err, errs.InvalidArgument))

    _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
    assert.Error(t, err)
}
