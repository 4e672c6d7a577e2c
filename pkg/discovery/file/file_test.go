package file

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "peers")
    require.NoError(t, os.WriteFile(f, []byte("node1\n"), 0o644))
    t.Setenv("GLUSTERD_TEST_PEERS", "node9:4284, node8")

    d := New(Options{Path: f, Env: "GLUSTERD_TEST_PEERS"})
    assert.Equal(t, []string{"node8", "node9:4284"}, d.Seeds())
}

func TestFileCommentsAndRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "peers")
    require.NoError(t, os.WriteFile(f, []byte("# pool\nnode2\nnode1 # first\nnode2\n"), 0o644))

    d := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    assert.Equal(t, []string{"node1", "node2"}, d.Seeds())

    require.NoError(t, os.WriteFile(f, []byte("node3:7000,node2\n"), 0o644))
    time.Sleep(20 * time.Millisecond)
    assert.Equal(t, []string{"node2", "node3:7000"}, d.Seeds())
}

func TestGlobMergesFiles(t *testing.T) {
    dir := t.TempDir()
    require.NoError(t, os.WriteFile(filepath.Join(dir, "a.peers"), []byte("node1\nnode2\n"), 0o644))
    require.NoError(t, os.WriteFile(filepath.Join(dir, "b.peers"), []byte("node2\nnode3\n"), 0o644))

    d := New(Options{Path: filepath.Join(dir, "*.peers"), Refresh: time.Millisecond})
    assert.Equal(t, []string{"node1", "node2", "node3"}, d.Seeds())
}

func TestMissingPathIsEmpty(t *testing.T) {
    d := New(Options{Path: filepath.Join(t.TempDir(), "nope")})
    assert.Empty(t, d.Seeds())
}
