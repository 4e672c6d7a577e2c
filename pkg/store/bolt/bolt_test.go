package bolt

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/store/storetest"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

func TestBoltStore(t *testing.T) {
    s, err := Open(t.TempDir())
    require.NoError(t, err)
    defer s.Close()
    storetest.Run(t, s)
}

func TestBoltSurvivesReopen(t *testing.T) {
    dir := t.TempDir()
    s, err := Open(dir)
    require.NoError(t, err)
    require.NoError(t, s.SaveVolume(volume.VolumeInfo{Name: "vol0"}))
    require.NoError(t, s.Close())

    s, err = Open(dir)
    require.NoError(t, err)
    defer s.Close()
    vols, err := s.LoadVolumes()
    require.NoError(t, err)
    require.Len(t, vols, 1)
    assert.Equal(t, "vol0", vols[0].Name)
}
