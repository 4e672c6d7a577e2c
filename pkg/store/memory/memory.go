// Package memory is a non-durable store used by tests and single-shot runs.
package memory

import (
    "bytes"
    "sync"

    "github.com/google/btree"
    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

type Store struct {
    mu    sync.RWMutex
    vols  *btree.BTreeG[volume.VolumeInfo]
    peers *btree.BTreeG[store.PeerRecord]
}

func New() *Store {
    return &Store{
        vols:  btree.NewG[volume.VolumeInfo](8, func(a, b volume.VolumeInfo) bool { return a.Name < b.Name }),
        peers: btree.NewG[store.PeerRecord](8, func(a, b store.PeerRecord) bool { return bytes.Compare(a.ID[:], b.ID[:]) < 0 }),
    }
}

func (s *Store) SaveVolume(v volume.VolumeInfo) error {
    v.Bricks = append([]volume.BrickInfo(nil), v.Bricks...)
    s.mu.Lock(); s.vols.ReplaceOrInsert(v); s.mu.Unlock()
    return nil
}

func (s *Store) DeleteVolume(name string) error {
    s.mu.Lock(); s.vols.Delete(volume.VolumeInfo{Name: name}); s.mu.Unlock()
    return nil
}

func (s *Store) LoadVolumes() ([]volume.VolumeInfo, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    out := make([]volume.VolumeInfo, 0, s.vols.Len())
    s.vols.Ascend(func(v volume.VolumeInfo) bool {
        v.Bricks = append([]volume.BrickInfo(nil), v.Bricks...)
        out = append(out, v)
        return true
    })
    return out, nil
}

func (s *Store) SavePeer(p store.PeerRecord) error {
    s.mu.Lock(); s.peers.ReplaceOrInsert(p); s.mu.Unlock()
    return nil
}

func (s *Store) DeletePeer(id uuid.UUID) error {
    s.mu.Lock(); s.peers.Delete(store.PeerRecord{ID: id}); s.mu.Unlock()
    return nil
}

func (s *Store) LoadPeers() ([]store.PeerRecord, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    out := make([]store.PeerRecord, 0, s.peers.Len())
    s.peers.Ascend(func(p store.PeerRecord) bool { out = append(out, p); return true })
    return out, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
