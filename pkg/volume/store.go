package volume

import (
    "sync"

    "github.com/google/btree"
    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Membership answers who may own bricks.
type Membership interface {
    IsLocal(id uuid.UUID) bool
    IsFriend(id uuid.UUID) bool
}

// Persister writes catalog changes to durable storage.
type Persister interface {
    SaveVolume(v VolumeInfo) error
    DeleteVolume(name string) error
}

// Store is the in-memory volume catalog ordered by name.
type Store struct {
    mu      sync.RWMutex
    vols    *btree.BTreeG[*VolumeInfo]
    members Membership
    persist Persister
}

// NewStore builds an empty catalog. persist may be nil.
func NewStore(members Membership, persist Persister) *Store {
    return &Store{
        vols:    btree.NewG[*VolumeInfo](16, func(a, b *VolumeInfo) bool { return a.Name < b.Name }),
        members: members,
        persist: persist,
    }
}

func (s *Store) get(name string) *VolumeInfo {
    v, _ := s.vols.Get(&VolumeInfo{Name: name})
    return v
}

// CheckCreate validates req against the current catalog without mutating it.
func (s *Store) CheckCreate(req CreateRequest) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    _, err := s.checkCreateLocked(req)
    return err
}

func (s *Store) checkCreateLocked(req CreateRequest) (VolumeInfo, error) {
    if err := ValidateName(req.Name); err != nil { return VolumeInfo{}, err }
    if s.get(req.Name) != nil { return VolumeInfo{}, errs.New(errs.DuplicateVolume, "volume %q already exists", req.Name) }
    v := VolumeInfo{Name: req.Name, Type: req.Type, ReplicaCount: 1, StripeCount: 1, Version: 1}
    switch req.Type {
    case Distribute:
    case Replicate:
        if req.ReplicaCount < 2 { return VolumeInfo{}, errs.New(errs.InvalidArgument, "replica count must be at least 2") }
        v.ReplicaCount = req.ReplicaCount
    case Stripe:
        if req.StripeCount < 2 { return VolumeInfo{}, errs.New(errs.InvalidArgument, "stripe count must be at least 2") }
        v.StripeCount = req.StripeCount
    default:
        return VolumeInfo{}, errs.New(errs.InvalidArgument, "unknown volume type %d", int(req.Type))
    }
    if len(req.Bricks) == 0 { return VolumeInfo{}, errs.New(errs.InvalidBrick, "volume %q has no bricks", req.Name) }
    if n := v.groupSize(); len(req.Bricks)%n != 0 {
        return VolumeInfo{}, errs.New(errs.InvalidBrick, "%d bricks is not a multiple of %d", len(req.Bricks), n)
    }
    if err := s.checkBricksLocked(nil, req.Bricks); err != nil { return VolumeInfo{}, err }
    v.Bricks = append([]BrickInfo(nil), req.Bricks...)
    return v, nil
}

// checkBricksLocked validates bricks as additions on top of existing.
func (s *Store) checkBricksLocked(existing, bricks []BrickInfo) error {
    seen := append([]BrickInfo(nil), existing...)
    for _, b := range bricks {
        if err := checkPath(b.Path); err != nil { return err }
        if s.members == nil || !(s.members.IsLocal(b.PeerID) || s.members.IsFriend(b.PeerID)) {
            return errs.New(errs.InvalidBrick, "brick %s: owner is not in the pool", b)
        }
        for _, o := range seen {
            if o.PeerID == b.PeerID && nested(o.Path, b.Path) {
                return errs.New(errs.InvalidBrick, "brick %s overlaps %s", b, o)
            }
        }
        if used := s.brickOwnerLocked(b); used != "" {
            return errs.New(errs.InvalidBrick, "brick %s overlaps a brick of volume %q", b, used)
        }
        seen = append(seen, b)
    }
    return nil
}

func (s *Store) brickOwnerLocked(b BrickInfo) string {
    var name string
    s.vols.Ascend(func(v *VolumeInfo) bool {
        for _, o := range v.Bricks {
            if o.PeerID == b.PeerID && nested(o.Path, b.Path) { name = v.Name; return false }
        }
        return true
    })
    return name
}

// CreateVolume validates and inserts a new volume. The record is persisted
// before it becomes visible; on any error the catalog is unchanged.
func (s *Store) CreateVolume(req CreateRequest) (VolumeInfo, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    v, err := s.checkCreateLocked(req)
    if err != nil { return VolumeInfo{}, err }
    if err := s.save(v); err != nil { return VolumeInfo{}, err }
    s.vols.ReplaceOrInsert(&v)
    return v.clone(), nil
}

// CheckAddBricks validates appending bricks to the named volume.
func (s *Store) CheckAddBricks(name string, bricks []BrickInfo) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    _, err := s.checkAddLocked(name, bricks)
    return err
}

func (s *Store) checkAddLocked(name string, bricks []BrickInfo) (*VolumeInfo, error) {
    v := s.get(name)
    if v == nil { return nil, errs.New(errs.VolumeNotFound, "volume %q", name) }
    if len(bricks) == 0 { return nil, errs.New(errs.InvalidBrick, "no bricks to add") }
    if n := v.groupSize(); len(bricks)%n != 0 {
        return nil, errs.New(errs.InvalidBrick, "%d bricks is not a multiple of %d", len(bricks), n)
    }
    if err := s.checkBricksLocked(nil, bricks); err != nil { return nil, err }
    return v, nil
}

// AddBricks appends bricks to the named volume and bumps its version.
func (s *Store) AddBricks(name string, bricks []BrickInfo) (VolumeInfo, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    cur, err := s.checkAddLocked(name, bricks)
    if err != nil { return VolumeInfo{}, err }
    next := cur.clone()
    next.Bricks = append(next.Bricks, bricks...)
    next.Version++
    if err := s.save(next); err != nil { return VolumeInfo{}, err }
    s.vols.ReplaceOrInsert(&next)
    return next.clone(), nil
}

func (s *Store) CheckDelete(name string) error {
    s.mu.RLock(); defer s.mu.RUnlock()
    if s.get(name) == nil { return errs.New(errs.VolumeNotFound, "volume %q", name) }
    return nil
}

// DeleteVolume removes the named volume from durable storage and then from
// the catalog.
func (s *Store) DeleteVolume(name string) error {
    s.mu.Lock(); defer s.mu.Unlock()
    v := s.get(name)
    if v == nil { return errs.New(errs.VolumeNotFound, "volume %q", name) }
    if s.persist != nil {
        if err := s.persist.DeleteVolume(name); err != nil { return errs.Wrap(errs.Internal, err, "delete volume %q", name) }
    }
    s.vols.Delete(v)
    return nil
}

func (s *Store) save(v VolumeInfo) error {
    if s.persist == nil { return nil }
    if err := s.persist.SaveVolume(v); err != nil { return errs.Wrap(errs.Internal, err, "persist volume %q", v.Name) }
    return nil
}

func (s *Store) Get(name string) (VolumeInfo, bool) {
    s.mu.RLock(); defer s.mu.RUnlock()
    v := s.get(name)
    if v == nil { return VolumeInfo{}, false }
    return v.clone(), true
}

// List returns every volume ordered by name.
func (s *Store) List() []VolumeInfo {
    s.mu.RLock(); defer s.mu.RUnlock()
    out := make([]VolumeInfo, 0, s.vols.Len())
    s.vols.Ascend(func(v *VolumeInfo) bool { out = append(out, v.clone()); return true })
    return out
}

func (s *Store) Len() int {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.vols.Len()
}

// BricksOwnedBy counts the bricks hosted on peer id across all volumes.
func (s *Store) BricksOwnedBy(id uuid.UUID) int {
    s.mu.RLock(); defer s.mu.RUnlock()
    n := 0
    s.vols.Ascend(func(v *VolumeInfo) bool {
        for _, b := range v.Bricks {
            if b.PeerID == id { n++ }
        }
        return true
    })
    return n
}

// Restore loads volumes read back from durable storage, bypassing validation
// and persistence.
func (s *Store) Restore(vols []VolumeInfo) {
    s.mu.Lock(); defer s.mu.Unlock()
    for i := range vols {
        if vols[i].Name == "" { continue }
        v := vols[i].clone()
        s.vols.ReplaceOrInsert(&v)
    }
}
