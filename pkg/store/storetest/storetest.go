// Package storetest holds the behaviour every store backend must share.
package storetest

import (
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

// Run exercises s. s must start empty.
func Run(t *testing.T, s store.Store) {
    t.Helper()
    owner := uuid.New()
    v := volume.VolumeInfo{
        Name: "vol0", Type: volume.Replicate, ReplicaCount: 2, StripeCount: 1, Version: 3,
        Bricks: []volume.BrickInfo{{PeerID: owner, Path: "/exp/a"}, {PeerID: owner, Path: "/exp/b"}},
    }
    require.NoError(t, s.SaveVolume(v))
    require.NoError(t, s.SaveVolume(volume.VolumeInfo{Name: "vol1", Bricks: []volume.BrickInfo{{PeerID: owner, Path: "/x"}}}))

    vols, err := s.LoadVolumes()
    require.NoError(t, err)
    require.Len(t, vols, 2)
    byName := map[string]volume.VolumeInfo{}
    for _, x := range vols { byName[x.Name] = x }
    assert.Equal(t, v, byName["vol0"])

    v.Version = 4
    require.NoError(t, s.SaveVolume(v))
    require.NoError(t, s.DeleteVolume("vol1"))
    require.NoError(t, s.DeleteVolume("absent"))
    vols, err = s.LoadVolumes()
    require.NoError(t, err)
    require.Len(t, vols, 1)
    assert.Equal(t, uint64(4), vols[0].Version)

    p := store.PeerRecord{ID: uuid.New(), Hostname: "node2", Port: 4284, State: peer.Friend}
    require.NoError(t, s.SavePeer(p))
    peers, err := s.LoadPeers()
    require.NoError(t, err)
    require.Len(t, peers, 1)
    assert.Equal(t, p, peers[0])
    assert.Equal(t, peer.Friend, peers[0].Info().State)

    buf, err := store.Dump(s)
    require.NoError(t, err)
    assert.Contains(t, string(buf), `"version": 1`)

    require.NoError(t, s.DeletePeer(p.ID))
    peers, err = s.LoadPeers()
    require.NoError(t, err)
    assert.Empty(t, peers)

    require.NoError(t, store.Load(s, buf))
    peers, err = s.LoadPeers()
    require.NoError(t, err)
    assert.Len(t, peers, 1)
}
