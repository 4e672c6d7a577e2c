// Package handshake drives the peer membership protocol: probe, friend
// request, detach. It only ever takes the peer registry lock; it never waits
// on the cluster transaction lock.
package handshake

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/observability/metrics"
    "github.com/amirimatin/go-glusterd/pkg/observability/tracing"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// Self is the local node's identity as advertised to peers.
type Self struct {
    ID       uuid.UUID `json:"id"`
    Hostname string    `json:"hostname"`
    Port     int       `json:"port"`
}

func (s Self) Addr() string { return peer.JoinAddr(s.Hostname, s.Port) }

// PeerPersister records friendships durably.
type PeerPersister interface {
    SavePeer(p store.PeerRecord) error
    DeletePeer(id uuid.UUID) error
}

// BrickOwners reports whether a peer still hosts bricks.
type BrickOwners interface {
    BricksOwnedBy(id uuid.UUID) int
}

type Options struct {
    Self     Self
    Registry *peer.Registry
    Gateway  transport.Gateway
    // Persist and Volumes are optional.
    Persist PeerPersister
    Volumes BrickOwners
    // CallTimeout bounds every handshake RPC. Default 10s.
    CallTimeout time.Duration
    // FollowPeers probes the friends a new peer reports so the pool converges
    // to a full mesh.
    FollowPeers bool
    Logger      *logrus.Logger
}

func (o *Options) Validate() error {
    if o.Self.ID == uuid.Nil { return fmt.Errorf("handshake: Self.ID is required") }
    if o.Self.Hostname == "" || o.Self.Port <= 0 { return fmt.Errorf("handshake: Self address is required") }
    if o.Registry == nil { return fmt.Errorf("handshake: Registry is required") }
    if o.Gateway == nil { return fmt.Errorf("handshake: Gateway is required") }
    if o.CallTimeout <= 0 { o.CallTimeout = 10 * time.Second }
    return nil
}

// Machine runs the handshake for the local node.
type Machine struct {
    self    Self
    reg     *peer.Registry
    gw      transport.Gateway
    persist PeerPersister
    vols    BrickOwners
    timeout time.Duration
    follow  bool
    log     *logrus.Entry

    bg     context.Context
    stop   context.CancelFunc
    mu     sync.Mutex
    closed bool
    wg     sync.WaitGroup
}

func New(opts Options) (*Machine, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    bg, stop := context.WithCancel(context.Background())
    return &Machine{
        self:    opts.Self,
        reg:     opts.Registry,
        gw:      opts.Gateway,
        persist: opts.Persist,
        vols:    opts.Volumes,
        timeout: opts.CallTimeout,
        follow:  opts.FollowPeers,
        log:     logutil.NodeEntry(opts.Logger, opts.Self.ID.String()).WithField("component", "handshake"),
        bg:      bg,
        stop:    stop,
    }, nil
}

// Close cancels background peer following and waits for it.
func (m *Machine) Close() {
    m.mu.Lock()
    m.closed = true
    m.mu.Unlock()
    m.stop()
    m.wg.Wait()
}

// Register installs the incoming handlers on gw.
func (m *Machine) Register(gw transport.Gateway) {
    gw.Handle(transport.OpProbe, m.handleProbe)
    gw.Handle(transport.OpFriendRequest, m.handleFriendRequest)
    gw.Handle(transport.OpDetach, m.handleDetach)
}

// ProbeReply is the answer to a probe: the remote identity and its friends.
type ProbeReply struct {
    Self
    Peers []Self `json:"peers,omitempty"`
}

// FriendRequest carries the requester's identity and its current friends.
type FriendRequest struct {
    Self
    Peers []Self `json:"peers,omitempty"`
}

// FriendReply is returned on acceptance; rejections travel as errors.
type FriendReply struct {
    Accepted bool `json:"accepted"`
}

type detachRequest struct {
    ID uuid.UUID `json:"id"`
}

func (m *Machine) request(payload interface{}) (transport.Request, error) {
    return transport.NewRequest(m.self.ID.String(), 0, payload)
}

// BeginProbe adds host:port to the trusted pool. On success the peer is a
// FRIEND on both sides; the remote's own friend list is returned so callers
// can report or follow it. Probing an existing friend is a no-op.
func (m *Machine) BeginProbe(ctx context.Context, host string, port int) (info peer.PeerInfo, remotePeers []Self, err error) {
    ctx, span := tracing.StartSpan(ctx, "handshake.probe", attribute.String("peer.host", host), attribute.Int("peer.port", port))
    defer func() {
        span.End(err)
        result := "ok"
        if err != nil { result = string(errs.CodeOf(err)) }
        metrics.Probes.WithLabelValues(result).Inc()
    }()

    if host == "" || port <= 0 { return peer.PeerInfo{}, nil, errs.New(errs.InvalidArgument, "probe target %q:%d", host, port) }
    addr := peer.JoinAddr(host, port)
    if addr == m.self.Addr() { return peer.PeerInfo{}, nil, errs.New(errs.InvalidArgument, "cannot probe self") }
    if p, ok := m.reg.Find(addr); ok && p.State == peer.Friend { return p, nil, nil }

    log := logutil.PeerEntry(m.log, "", addr)
    if _, err := m.reg.Add(host, port, peer.None, nil); err != nil { return peer.PeerInfo{}, nil, err }

    conn, err := m.gw.Dial(ctx, addr)
    if err != nil {
        m.dropPending(addr)
        log.WithError(err).Warn("probe: dial failed")
        return peer.PeerInfo{}, nil, errs.Wrap(errs.PeerUnreachable, err, "%s", addr)
    }
    if _, err := m.reg.Add(host, port, peer.None, conn); err != nil { return peer.PeerInfo{}, nil, err }

    req, err := m.request(m.self)
    if err != nil { return peer.PeerInfo{}, nil, err }
    var reply ProbeReply
    if err := transport.Invoke(ctx, conn, transport.OpProbe, req, m.timeout, &reply); err != nil {
        m.dropPending(addr)
        log.WithError(err).Warn("probe: no reply")
        if errs.CodeOf(err).Kind() == errs.KindConnectivity { return peer.PeerInfo{}, nil, errs.Wrap(errs.PeerUnreachable, err, "%s", addr) }
        return peer.PeerInfo{}, nil, err
    }
    if reply.ID == m.self.ID {
        m.dropPending(addr)
        return peer.PeerInfo{}, nil, errs.New(errs.InvalidArgument, "%s is this node", addr)
    }
    if reply.ID == uuid.Nil {
        m.dropPending(addr)
        return peer.PeerInfo{}, nil, errs.New(errs.Protocol, "%s replied without identity", addr)
    }

    if _, err := m.reg.Bind(addr, reply.ID); err != nil { return peer.PeerInfo{}, nil, err }
    id := reply.ID.String()
    log = logutil.PeerEntry(m.log, id, addr)
    info, err = m.reg.Transition(id, peer.EventProbeAck)
    if err != nil { return info, nil, err }
    if info.State == peer.Friend {
        m.followSync(ctx, reply.Peers)
        return info, reply.Peers, nil
    }
    log.WithField("state", info.State).Info("probe acknowledged")

    var fr FriendReply
    if req, err = m.request(FriendRequest{Self: m.self, Peers: m.friendList()}); err == nil {
        err = transport.Invoke(ctx, conn, transport.OpFriendRequest, req, m.timeout, &fr)
    }
    if err == nil && !fr.Accepted { err = errs.New(errs.Protocol, "friend request not accepted") }
    if err != nil {
        m.rollback(ctx, conn, reply.ID)
        log.WithError(err).Warn("friend request failed; rolled back")
        return peer.PeerInfo{}, nil, err
    }

    info, err = m.reg.Transition(id, peer.EventFriendAccepted)
    if err != nil { return info, nil, err }
    m.save(info)
    log.Info("peer is now a friend")
    m.followSync(ctx, reply.Peers)
    return info, reply.Peers, nil
}

// rollback undoes a half-finished outbound handshake: the remote is told to
// forget us and the local entry is dropped.
func (m *Machine) rollback(ctx context.Context, conn transport.Conn, id uuid.UUID) {
    if req, err := m.request(detachRequest{ID: m.self.ID}); err == nil {
        if err := transport.Invoke(ctx, conn, transport.OpDetach, req, m.timeout, nil); err != nil {
            m.log.WithError(err).WithField("peer", id).Debug("rollback detach not delivered")
        }
    }
    m.reg.Remove(id.String())
}

// dropPending removes the entry at addr unless it acquired an identity in the
// meantime, which means a concurrent handshake owns it.
func (m *Machine) dropPending(addr string) {
    if p, ok := m.reg.Find(addr); ok && !p.Identified() { m.reg.Remove(addr) }
}

func (m *Machine) friendList() []Self {
    friends := m.reg.ListFriends()
    out := make([]Self, 0, len(friends))
    for _, p := range friends {
        out = append(out, Self{ID: p.ID, Hostname: p.Hostname, Port: p.Port})
    }
    return out
}

func (m *Machine) handleProbe(ctx context.Context, req transport.Request) (interface{}, error) {
    return ProbeReply{Self: m.self, Peers: m.friendList()}, nil
}

// unknown filters peers down to the ones that are neither us nor friends.
func (m *Machine) unknown(peers []Self) []Self {
    var out []Self
    for _, p := range peers {
        if p.ID == m.self.ID || m.reg.IsFriend(p.ID) { continue }
        out = append(out, p)
    }
    return out
}

func (m *Machine) followSync(ctx context.Context, peers []Self) {
    if !m.follow { return }
    for _, p := range m.unknown(peers) {
        if _, _, err := m.BeginProbe(ctx, p.Hostname, p.Port); err != nil {
            logutil.PeerEntry(m.log, p.ID.String(), p.Addr()).WithError(err).Warn("follow: probe failed")
        }
    }
}

func (m *Machine) followAsync(peers []Self) {
    if !m.follow { return }
    todo := m.unknown(peers)
    if len(todo) == 0 { return }
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return
    }
    m.wg.Add(1)
    m.mu.Unlock()
    go func() {
        defer m.wg.Done()
        m.followSync(m.bg, todo)
    }()
}

func (m *Machine) handleFriendRequest(ctx context.Context, req transport.Request) (interface{}, error) {
    var in FriendRequest
    if err := req.Decode(&in); err != nil { return nil, err }
    if in.ID == uuid.Nil || in.Hostname == "" || in.Port <= 0 { return nil, errs.New(errs.Protocol, "friend request without identity") }
    if in.ID == m.self.ID { return nil, errs.New(errs.InvalidArgument, "friend request from self") }
    ctx, span := tracing.StartSpan(ctx, "handshake.friend_request", attribute.String("peer.id", in.ID.String()))
    var err error
    defer func() { span.End(err) }()

    log := logutil.PeerEntry(m.log, in.ID.String(), in.Addr())
    p, prev, err := m.reg.Upsert(in.ID, in.Hostname, in.Port, peer.EventFriendRequest)
    if err != nil { return nil, err }

    if p.Conn == nil {
        var conn transport.Conn
        conn, err = m.gw.Dial(ctx, p.Addr())
        if err != nil {
            if prev == peer.None { m.reg.Remove(in.ID.String()) }
            log.WithError(err).Warn("friend request: cannot connect back")
            err = errs.Wrap(errs.PeerUnreachable, err, "connect back to %s", p.Addr())
            return nil, err
        }
        m.reg.SetConn(in.ID, conn)
    }
    if p.State == peer.Inbound {
        if p, err = m.reg.Transition(in.ID.String(), peer.EventFriendAccepted); err != nil { return nil, err }
    }
    m.save(p)
    if prev != peer.Friend { log.WithField("from", prev).Info("accepted friend request") }
    m.followAsync(in.Peers)
    return FriendReply{Accepted: true}, nil
}

func (m *Machine) handleDetach(ctx context.Context, req transport.Request) (interface{}, error) {
    var in detachRequest
    if err := req.Decode(&in); err != nil { return nil, err }
    if p, ok := m.reg.Remove(in.ID.String()); ok {
        m.forget(in.ID)
        logutil.PeerEntry(m.log, in.ID.String(), p.Addr()).Info("detached by peer")
    }
    return nil, nil
}

// Detach removes a peer from the pool. Peers that still host bricks are
// refused with PEER_IN_USE. The remote is notified best-effort.
func (m *Machine) Detach(ctx context.Context, key string) (peer.PeerInfo, error) {
    p, ok := m.reg.Find(key)
    if !ok { return peer.PeerInfo{}, errs.New(errs.PeerNotFound, "%s", key) }
    if p.ID == m.self.ID { return p, errs.New(errs.InvalidArgument, "cannot detach self") }
    if p.Identified() && m.vols != nil {
        if n := m.vols.BricksOwnedBy(p.ID); n > 0 {
            return p, errs.New(errs.PeerInUse, "peer %s hosts %d bricks", p.Hostname, n)
        }
    }
    log := logutil.PeerEntry(m.log, p.ID.String(), p.Addr())
    if p.Conn != nil {
        req, err := m.request(detachRequest{ID: m.self.ID})
        if err == nil { err = transport.Invoke(ctx, p.Conn, transport.OpDetach, req, m.timeout, nil) }
        if err != nil { log.WithError(err).Warn("detach: remote not notified") }
    }
    if p.Identified() {
        m.reg.Remove(p.ID.String())
        m.forget(p.ID)
    } else {
        m.reg.Remove(p.Addr())
    }
    log.Info("peer detached")
    return p, nil
}

func (m *Machine) save(p peer.PeerInfo) {
    if m.persist == nil { return }
    if err := m.persist.SavePeer(store.RecordOf(p)); err != nil {
        m.log.WithError(err).WithField("peer", p.ID).Error("persist peer")
    }
}

func (m *Machine) forget(id uuid.UUID) {
    if m.persist == nil { return }
    if err := m.persist.DeletePeer(id); err != nil {
        m.log.WithError(err).WithField("peer", id).Error("delete persisted peer")
    }
}
