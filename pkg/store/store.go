// Package store defines the durable record of the local node: the volume
// catalog and the identified peers. Backends live in subpackages.
package store

import (
    "encoding/json"
    "fmt"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

// PeerRecord is the persisted subset of peer.PeerInfo.
type PeerRecord struct {
    ID       uuid.UUID  `json:"id"`
    Hostname string     `json:"hostname"`
    Port     int        `json:"port"`
    State    peer.State `json:"state"`
}

func RecordOf(p peer.PeerInfo) PeerRecord {
    return PeerRecord{ID: p.ID, Hostname: p.Hostname, Port: p.Port, State: p.State}
}

func (r PeerRecord) Info() peer.PeerInfo {
    return peer.PeerInfo{ID: r.ID, Hostname: r.Hostname, Port: r.Port, State: r.State}
}

// Store persists catalog and peer changes. Implementations are safe for
// concurrent use.
type Store interface {
    SaveVolume(v volume.VolumeInfo) error
    DeleteVolume(name string) error
    LoadVolumes() ([]volume.VolumeInfo, error)
    SavePeer(p PeerRecord) error
    DeletePeer(id uuid.UUID) error
    LoadPeers() ([]PeerRecord, error)
    Close() error
}

// Backend names accepted by configuration.
const (
    BackendBolt   = "bolt"
    BackendBadger = "badger"
    BackendMemory = "memory"
)

// Snapshot is the versioned dump of a store, used by `glusterd export`.
type Snapshot struct {
    Version int                 `json:"version"`
    Volumes []volume.VolumeInfo `json:"volumes"`
    Peers   []PeerRecord        `json:"peers"`
}

// Dump reads everything from s into a versioned JSON document.
func Dump(s Store) ([]byte, error) {
    vols, err := s.LoadVolumes()
    if err != nil { return nil, err }
    peers, err := s.LoadPeers()
    if err != nil { return nil, err }
    return json.MarshalIndent(Snapshot{Version: 1, Volumes: vols, Peers: peers}, "", "  ")
}

// Load writes a document produced by Dump into s.
func Load(s Store, buf []byte) error {
    var snap Snapshot
    if err := json.Unmarshal(buf, &snap); err != nil { return err }
    if snap.Version != 1 { return fmt.Errorf("store: unsupported snapshot version %d", snap.Version) }
    for _, v := range snap.Volumes {
        if err := s.SaveVolume(v); err != nil { return err }
    }
    for _, p := range snap.Peers {
        if err := s.SavePeer(p); err != nil { return err }
    }
    return nil
}
