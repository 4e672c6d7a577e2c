// Package badger stores the catalog in a BadgerDB directory. Keys are
// prefixed by record kind so one database holds both volumes and peers.
package badger

import (
    "encoding/json"
    "fmt"

    "github.com/dgraph-io/badger/v4"
    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

const (
    prefixVolume = "vol:"
    prefixPeer   = "peer:"
)

type Store struct {
    db *badger.DB
}

// Open opens the database in dir. Badger's internal logging is routed to l at
// warning level; a nil l silences it.
func Open(dir string, l *logrus.Logger) (*Store, error) {
    opts := badger.DefaultOptions(dir).WithLogger(nil)
    if l != nil { opts = opts.WithLogger(badgerLogger{l.WithField("component", "badger")}) }
    db, err := badger.Open(opts)
    if err != nil { return nil, fmt.Errorf("badger: open: %w", err) }
    return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway instance; tests use it.
func OpenInMemory() (*Store, error) {
    db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
    if err != nil { return nil, err }
    return &Store{db: db}, nil
}

func (s *Store) put(key string, v interface{}) error {
    buf, err := json.Marshal(v)
    if err != nil { return err }
    return s.db.Update(func(txn *badger.Txn) error { return txn.Set([]byte(key), buf) })
}

func (s *Store) del(key string) error {
    return s.db.Update(func(txn *badger.Txn) error { return txn.Delete([]byte(key)) })
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
    return s.db.View(func(txn *badger.Txn) error {
        it := txn.NewIterator(badger.DefaultIteratorOptions)
        defer it.Close()
        p := []byte(prefix)
        for it.Seek(p); it.ValidForPrefix(p); it.Next() {
            val, err := it.Item().ValueCopy(nil)
            if err != nil { return err }
            if err := fn(val); err != nil { return fmt.Errorf("%s: %w", it.Item().Key(), err) }
        }
        return nil
    })
}

func (s *Store) SaveVolume(v volume.VolumeInfo) error { return s.put(prefixVolume+v.Name, v) }

func (s *Store) DeleteVolume(name string) error { return s.del(prefixVolume + name) }

func (s *Store) LoadVolumes() ([]volume.VolumeInfo, error) {
    var out []volume.VolumeInfo
    err := s.scan(prefixVolume, func(val []byte) error {
        var v volume.VolumeInfo
        if err := json.Unmarshal(val, &v); err != nil { return err }
        out = append(out, v)
        return nil
    })
    return out, err
}

func (s *Store) SavePeer(p store.PeerRecord) error { return s.put(prefixPeer+p.ID.String(), p) }

func (s *Store) DeletePeer(id uuid.UUID) error { return s.del(prefixPeer + id.String()) }

func (s *Store) LoadPeers() ([]store.PeerRecord, error) {
    var out []store.PeerRecord
    err := s.scan(prefixPeer, func(val []byte) error {
        var p store.PeerRecord
        if err := json.Unmarshal(val, &p); err != nil { return err }
        out = append(out, p)
        return nil
    })
    return out, err
}

func (s *Store) Close() error { return s.db.Close() }

// badgerLogger adapts logrus to badger.Logger, demoting info and debug chatter.
type badgerLogger struct{ e *logrus.Entry }

func (b badgerLogger) Errorf(f string, args ...interface{})   { b.e.Errorf(f, args...) }
func (b badgerLogger) Warningf(f string, args ...interface{}) { b.e.Warnf(f, args...) }
func (b badgerLogger) Infof(f string, args ...interface{})    { b.e.Debugf(f, args...) }
func (b badgerLogger) Debugf(f string, args ...interface{})   { b.e.Tracef(f, args...) }

var _ store.Store = (*Store)(nil)
