package peer

import (
    "bytes"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/google/btree"
    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// PeerInfo is one entry of the registry. Values handed out by the registry are
// copies; Conn is shared.
type PeerInfo struct {
    ID        uuid.UUID      `json:"id"`
    Hostname  string         `json:"hostname"`
    Port      int            `json:"port"`
    State     State          `json:"state"`
    Since     time.Time      `json:"since"`
    Connected bool           `json:"connected"`
    Conn      transport.Conn `json:"-"`
}

func (p PeerInfo) Addr() string { return JoinAddr(p.Hostname, p.Port) }

// Identified reports whether the peer's identity is known.
func (p PeerInfo) Identified() bool { return p.ID != uuid.Nil }

func JoinAddr(host string, port int) string { return net.JoinHostPort(host, strconv.Itoa(port)) }

// Change describes one registry mutation delivered to observers.
type Change struct {
    Peer    PeerInfo
    From    State
    Removed bool
}

// Registry is the set of peers known to the local node. Identified peers are
// ordered by identity; entries still waiting for a probe reply are kept by
// address.
type Registry struct {
    mu        sync.RWMutex
    byID      *btree.BTreeG[*PeerInfo]
    pending   map[string]*PeerInfo
    observers []func(Change)
    now       func() time.Time
}

func lessByID(a, b *PeerInfo) bool { return bytes.Compare(a.ID[:], b.ID[:]) < 0 }

func NewRegistry() *Registry {
    return &Registry{
        byID:    btree.NewG[*PeerInfo](16, lessByID),
        pending: make(map[string]*PeerInfo),
        now:     time.Now,
    }
}

// Observe registers fn to be called after every state change or removal. fn
// runs outside the registry lock.
func (r *Registry) Observe(fn func(Change)) {
    r.mu.Lock()
    r.observers = append(r.observers, fn)
    r.mu.Unlock()
}

func (r *Registry) notify(ch []Change) {
    if len(ch) == 0 { return }
    r.mu.RLock()
    obs := append([]func(Change){}, r.observers...)
    r.mu.RUnlock()
    for _, c := range ch {
        for _, fn := range obs { fn(c) }
    }
}

// locate resolves key as an identity, a host:port address or a bare hostname,
// in that order. Callers hold mu.
func (r *Registry) locate(key string) *PeerInfo {
    if id, err := uuid.Parse(key); err == nil {
        if p, ok := r.byID.Get(&PeerInfo{ID: id}); ok { return p }
        return nil
    }
    if p, ok := r.pending[key]; ok { return p }
    var hit, hostHit *PeerInfo
    r.byID.Ascend(func(p *PeerInfo) bool {
        if p.Addr() == key { hit = p; return false }
        if hostHit == nil && strings.EqualFold(p.Hostname, key) { hostHit = p }
        return true
    })
    if hit != nil { return hit }
    if hostHit != nil { return hostHit }
    for _, p := range r.pending {
        if strings.EqualFold(p.Hostname, key) { return p }
    }
    return nil
}

func (r *Registry) getID(id uuid.UUID) *PeerInfo {
    p, _ := r.byID.Get(&PeerInfo{ID: id})
    return p
}

// Find looks a peer up by identity, address or hostname.
func (r *Registry) Find(key string) (PeerInfo, bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    p := r.locate(key)
    if p == nil { return PeerInfo{}, false }
    return *p, true
}

// Get looks a peer up by identity.
func (r *Registry) Get(id uuid.UUID) (PeerInfo, bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    p := r.getID(id)
    if p == nil { return PeerInfo{}, false }
    return *p, true
}

// Add inserts an unidentified entry for hostname:port. If an entry for the
// same address already exists its state is kept and a non-nil conn replaces
// the stored handle, closing the old one.
func (r *Registry) Add(hostname string, port int, state State, conn transport.Conn) (PeerInfo, error) {
    if hostname == "" || port <= 0 { return PeerInfo{}, errs.New(errs.InvalidArgument, "peer address %q:%d", hostname, port) }
    addr := JoinAddr(hostname, port)
    r.mu.Lock(); defer r.mu.Unlock()
    if p := r.locate(addr); p != nil {
        if conn != nil && conn != p.Conn {
            if p.Conn != nil { _ = p.Conn.Close() }
            p.Conn = conn
        }
        return *p, nil
    }
    p := &PeerInfo{Hostname: hostname, Port: port, State: state, Since: r.now(), Conn: conn}
    r.pending[addr] = p
    return *p, nil
}

// Bind assigns the identity learned from a probe reply to the pending entry at
// addr. If the identity is already registered the pending entry is folded into
// the existing one.
func (r *Registry) Bind(addr string, id uuid.UUID) (PeerInfo, error) {
    if id == uuid.Nil { return PeerInfo{}, errs.New(errs.Protocol, "empty peer identity") }
    r.mu.Lock(); defer r.mu.Unlock()
    pe := r.pending[addr]
    if ex := r.getID(id); ex != nil {
        if pe != nil {
            delete(r.pending, addr)
            if ex.Conn == nil {
                ex.Conn = pe.Conn
            } else if pe.Conn != nil && pe.Conn != ex.Conn {
                _ = pe.Conn.Close()
            }
        }
        return *ex, nil
    }
    if pe == nil { return PeerInfo{}, errs.New(errs.PeerNotFound, "%s", addr) }
    delete(r.pending, addr)
    pe.ID = id
    r.byID.ReplaceOrInsert(pe)
    return *pe, nil
}

// Transition applies ev to the identified peer at key.
func (r *Registry) Transition(key string, ev Event) (PeerInfo, error) {
    r.mu.Lock()
    p := r.locate(key)
    if p == nil {
        r.mu.Unlock()
        return PeerInfo{}, errs.New(errs.PeerNotFound, "%s", key)
    }
    c, err := r.transitionLocked(p, ev)
    out := *p
    r.mu.Unlock()
    if err != nil { return out, err }
    r.notify(c)
    return out, nil
}

// Upsert locates the peer by identity, creating it from hostname:port when
// absent, and applies ev in one critical section. It returns the updated entry
// and the state it was in before.
func (r *Registry) Upsert(id uuid.UUID, hostname string, port int, ev Event) (PeerInfo, State, error) {
    if id == uuid.Nil { return PeerInfo{}, None, errs.New(errs.Protocol, "empty peer identity") }
    r.mu.Lock()
    p := r.getID(id)
    if p == nil {
        addr := JoinAddr(hostname, port)
        if pe, ok := r.pending[addr]; ok {
            delete(r.pending, addr)
            p = pe
        } else {
            p = &PeerInfo{Hostname: hostname, Port: port, State: None, Since: r.now()}
        }
        p.ID = id
        r.byID.ReplaceOrInsert(p)
    }
    prev := p.State
    c, err := r.transitionLocked(p, ev)
    out := *p
    r.mu.Unlock()
    if err != nil { return out, prev, err }
    r.notify(c)
    return out, prev, nil
}

func (r *Registry) transitionLocked(p *PeerInfo, ev Event) ([]Change, error) {
    if !p.Identified() { return nil, errs.New(errs.Protocol, "peer %s has no identity", p.Addr()) }
    to, err := Next(p.State, ev)
    if err != nil { return nil, err }
    if to == p.State { return nil, nil }
    from := p.State
    p.State = to
    p.Since = r.now()
    return []Change{{Peer: *p, From: from}}, nil
}

// SetConn replaces the connection handle of the identified peer, closing the
// previous one.
func (r *Registry) SetConn(id uuid.UUID, conn transport.Conn) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    p := r.getID(id)
    if p == nil { return false }
    if p.Conn != nil && p.Conn != conn { _ = p.Conn.Close() }
    p.Conn = conn
    return true
}

// SetConnected records liveness for the peer. It reports whether the value
// changed.
func (r *Registry) SetConnected(id uuid.UUID, up bool) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    p := r.getID(id)
    if p == nil || p.Connected == up { return false }
    p.Connected = up
    return true
}

// Remove deletes the peer at key and closes its connection. Removing an absent
// peer is a no-op.
func (r *Registry) Remove(key string) (PeerInfo, bool) {
    r.mu.Lock()
    p := r.locate(key)
    if p == nil {
        r.mu.Unlock()
        return PeerInfo{}, false
    }
    if p.Identified() {
        r.byID.Delete(p)
    } else {
        delete(r.pending, p.Addr())
    }
    out := *p
    r.mu.Unlock()
    if out.Conn != nil { _ = out.Conn.Close() }
    r.notify([]Change{{Peer: out, From: out.State, Removed: true}})
    return out, true
}

// Restore inserts already-identified peers, e.g. from persistent storage.
// Existing entries win.
func (r *Registry) Restore(peers []PeerInfo) {
    r.mu.Lock(); defer r.mu.Unlock()
    for i := range peers {
        if !peers[i].Identified() || r.getID(peers[i].ID) != nil { continue }
        p := peers[i]
        r.byID.ReplaceOrInsert(&p)
    }
}

// ListFriends returns copies of every FRIEND peer ordered by identity.
func (r *Registry) ListFriends() []PeerInfo {
    r.mu.RLock(); defer r.mu.RUnlock()
    out := make([]PeerInfo, 0, r.byID.Len())
    r.byID.Ascend(func(p *PeerInfo) bool {
        if p.State == Friend { out = append(out, *p) }
        return true
    })
    return out
}

// List returns every peer: identified ones by identity, then pending ones by
// address.
func (r *Registry) List() []PeerInfo {
    r.mu.RLock(); defer r.mu.RUnlock()
    out := make([]PeerInfo, 0, r.byID.Len()+len(r.pending))
    r.byID.Ascend(func(p *PeerInfo) bool { out = append(out, *p); return true })
    tail := make([]PeerInfo, 0, len(r.pending))
    for _, p := range r.pending { tail = append(tail, *p) }
    sort.Slice(tail, func(i, j int) bool { return tail[i].Addr() < tail[j].Addr() })
    return append(out, tail...)
}

func (r *Registry) IsFriend(id uuid.UUID) bool {
    r.mu.RLock(); defer r.mu.RUnlock()
    p := r.getID(id)
    return p != nil && p.State == Friend
}

func (r *Registry) Len() int {
    r.mu.RLock(); defer r.mu.RUnlock()
    return r.byID.Len() + len(r.pending)
}

// CountByState tallies peers per state.
func (r *Registry) CountByState() map[State]int {
    r.mu.RLock(); defer r.mu.RUnlock()
    out := map[State]int{None: 0, Inbound: 0, Outbound: 0, Friend: 0}
    r.byID.Ascend(func(p *PeerInfo) bool { out[p.State]++; return true })
    for _, p := range r.pending { out[p.State]++ }
    return out
}
