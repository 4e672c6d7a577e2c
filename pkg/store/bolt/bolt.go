// Package bolt stores the catalog in a single bbolt file under the working
// directory.
package bolt

import (
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/google/uuid"
    bolt "go.etcd.io/bbolt"

    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

// FileName is the database file created inside the working directory.
const FileName = "glusterd.db"

var (
    volumeBucket = []byte("volumes")
    peerBucket   = []byte("peers")
)

type Store struct {
    db *bolt.DB
}

// Open opens (creating if needed) the database in dir.
func Open(dir string) (*Store, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, err }
    db, err := bolt.Open(filepath.Join(dir, FileName), 0o600, &bolt.Options{Timeout: 1 * time.Second})
    if err != nil { return nil, fmt.Errorf("bolt: open: %w", err) }
    err = db.Update(func(tx *bolt.Tx) error {
        for _, b := range [][]byte{volumeBucket, peerBucket} {
            if _, err := tx.CreateBucketIfNotExists(b); err != nil { return err }
        }
        return nil
    })
    if err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("bolt: init buckets: %w", err)
    }
    return &Store{db: db}, nil
}

func (s *Store) put(bucket, key []byte, v interface{}) error {
    buf, err := json.Marshal(v)
    if err != nil { return err }
    return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucket).Put(key, buf) })
}

func (s *Store) del(bucket, key []byte) error {
    return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucket).Delete(key) })
}

func (s *Store) SaveVolume(v volume.VolumeInfo) error { return s.put(volumeBucket, []byte(v.Name), v) }

func (s *Store) DeleteVolume(name string) error { return s.del(volumeBucket, []byte(name)) }

func (s *Store) LoadVolumes() ([]volume.VolumeInfo, error) {
    var out []volume.VolumeInfo
    err := s.db.View(func(tx *bolt.Tx) error {
        return tx.Bucket(volumeBucket).ForEach(func(k, v []byte) error {
            var vi volume.VolumeInfo
            if err := json.Unmarshal(v, &vi); err != nil { return fmt.Errorf("volume %q: %w", k, err) }
            out = append(out, vi)
            return nil
        })
    })
    return out, err
}

func (s *Store) SavePeer(p store.PeerRecord) error { return s.put(peerBucket, p.ID[:], p) }

func (s *Store) DeletePeer(id uuid.UUID) error { return s.del(peerBucket, id[:]) }

func (s *Store) LoadPeers() ([]store.PeerRecord, error) {
    var out []store.PeerRecord
    err := s.db.View(func(tx *bolt.Tx) error {
        return tx.Bucket(peerBucket).ForEach(func(k, v []byte) error {
            var p store.PeerRecord
            if err := json.Unmarshal(v, &p); err != nil { return fmt.Errorf("peer %x: %w", k, err) }
            out = append(out, p)
            return nil
        })
    })
    return out, err
}

func (s *Store) Close() error { return s.db.Close() }

var _ store.Store = (*Store)(nil)
