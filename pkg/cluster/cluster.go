// Package cluster assembles the daemon: peer registry, volume catalog,
// handshake, transaction participant and coordinator, bound to one gateway
// and one store.
package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"
    "go.uber.org/multierr"

    "github.com/amirimatin/go-glusterd/pkg/discovery"
    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/handshake"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/membership"
    "github.com/amirimatin/go-glusterd/pkg/observability/metrics"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/txn"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

// Cluster is the per-daemon context. It is passed explicitly; nothing in it
// is package-level state.
type Cluster struct {
    opts Options
    self handshake.Self
    log  *logrus.Entry

    reg   *peer.Registry
    vols  *volume.Store
    hs    *handshake.Machine
    part  *txn.Participant
    coord *txn.Coordinator
    eb    eventBus

    mu  sync.Mutex
    run struct {
        started bool
        closed  bool
    }
    cancel context.CancelFunc
    wg     sync.WaitGroup
}

// New wires the components from validated options. It performs no network
// activity; call Start to launch the node.
func New(opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    c := &Cluster{
        opts: opts,
        self: opts.Self,
        log:  logutil.NodeEntry(opts.Logger, opts.Self.ID.String()).WithField("component", "cluster"),
        reg:  peer.NewRegistry(),
    }
    c.vols = volume.NewStore(c, opts.Store)

    var err error
    c.hs, err = handshake.New(handshake.Options{
        Self:        opts.Self,
        Registry:    c.reg,
        Gateway:     opts.Gateway,
        Persist:     opts.Store,
        Volumes:     c.vols,
        CallTimeout: opts.CallTimeout,
        FollowPeers: opts.FollowPeers,
        Logger:      opts.Logger,
    })
    if err != nil { return nil, err }
    c.part, err = txn.NewParticipant(txn.ParticipantOptions{Self: opts.Self.ID, Lease: opts.LockLease, Logger: opts.Logger})
    if err != nil { return nil, err }
    for _, op := range txn.VolumeOps(c.vols, c) {
        if err := c.part.RegisterOp(op); err != nil { return nil, err }
    }
    c.coord, err = txn.NewCoordinator(txn.Options{
        Self:        opts.Self.ID,
        Registry:    c.reg,
        Gateway:     opts.Gateway,
        Participant: c.part,
        PeerTimeout: opts.PeerTimeout,
        OnDone:      c.onTxn,
        Logger:      opts.Logger,
    })
    if err != nil { return nil, err }
    c.reg.Observe(c.onPeerChange)
    return c, nil
}

// IsLocal reports whether id is this node.
func (c *Cluster) IsLocal(id uuid.UUID) bool { return id == c.self.ID }

// IsFriend reports whether id is a FRIEND of this node.
func (c *Cluster) IsFriend(id uuid.UUID) bool { return c.reg.IsFriend(id) }

// Resolve maps a brick host to the owning pool member. The local hostname
// (or the node's own identity) resolves to self; anything else must name a
// FRIEND.
func (c *Cluster) Resolve(host string) (uuid.UUID, error) {
    if host == c.self.Hostname || host == c.self.ID.String() || host == c.self.Addr() {
        return c.self.ID, nil
    }
    p, ok := c.reg.Find(host)
    if !ok { return uuid.Nil, errs.New(errs.PeerNotFound, "%s is not in the pool", host) }
    if p.State != peer.Friend { return uuid.Nil, errs.New(errs.PeerNotFound, "%s is %s, not a friend", host, p.State) }
    return p.ID, nil
}

func (c *Cluster) Registry() *peer.Registry { return c.reg }
func (c *Cluster) Catalog() *volume.Store { return c.vols }
func (c *Cluster) Self() handshake.Self { return c.self }

// Start restores persisted state, registers the peer RPC handlers, starts the
// gateway and the optional admin server, membership and seed probing.
func (c *Cluster) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return ErrStopped }
    if c.run.started { return nil }
    metrics.Register()

    if err := c.recover(); err != nil { return err }

    c.hs.Register(c.opts.Gateway)
    c.part.Register(c.opts.Gateway)
    if err := c.opts.Gateway.Start(ctx); err != nil { return err }
    c.log.WithField("addr", c.opts.Gateway.Addr()).Info("peer gateway listening")

    runCtx, cancel := context.WithCancel(ctx)
    c.cancel = cancel
    c.run.started = true

    if c.opts.Admin != nil {
        if err := c.opts.Admin.Start(runCtx, c); err != nil { return err }
        c.log.WithField("addr", c.opts.Admin.Addr()).Info("admin endpoint listening (status/metrics/healthz)")
    }
    if mem := c.opts.Membership; mem != nil {
        if err := mem.Start(runCtx); err != nil { return err }
        if len(c.opts.GossipSeeds) > 0 {
            if err := mem.Join(c.opts.GossipSeeds); err != nil {
                c.log.WithError(err).Warn("membership join failed")
            }
        }
        c.goLoop(func() { c.membershipLoop(runCtx) })
    }
    if c.opts.Discovery != nil {
        c.goLoop(func() { c.probeSeeds(runCtx) })
    }
    c.refreshGauges()
    return nil
}

func (c *Cluster) goLoop(fn func()) {
    c.wg.Add(1)
    go func() {
        defer c.wg.Done()
        fn()
    }()
}

// recover loads the catalog and the pool from the store. Peers come back
// with lazy connections, so a peer that is down does not delay start.
func (c *Cluster) recover() error {
    vols, err := c.opts.Store.LoadVolumes()
    if err != nil { return errs.Wrap(errs.Internal, err, "load volumes") }
    c.vols.Restore(vols)

    recs, err := c.opts.Store.LoadPeers()
    if err != nil { return errs.Wrap(errs.Internal, err, "load peers") }
    infos := make([]peer.PeerInfo, 0, len(recs))
    for _, r := range recs {
        if r.ID == c.self.ID || r.State != peer.Friend { continue }
        infos = append(infos, r.Info())
    }
    c.reg.Restore(infos)
    for _, p := range infos {
        c.reg.SetConn(p.ID, c.opts.Gateway.Open(p.Addr()))
    }
    if len(vols) > 0 || len(infos) > 0 {
        c.log.WithFields(logrus.Fields{"volumes": len(vols), "peers": len(infos)}).Info("restored persisted state")
    }
    return nil
}

// probeSeeds probes every discovered seed that is not already a friend.
func (c *Cluster) probeSeeds(ctx context.Context) {
    eps, bad := discovery.Endpoints(c.opts.Discovery, c.self.Port)
    for _, err := range bad { c.log.WithError(err).Warn("ignoring seed") }
    for _, ep := range eps {
        if ctx.Err() != nil { return }
        if ep.Host == c.self.Hostname && ep.Port == c.self.Port { continue }
        if p, ok := c.reg.Find(ep.String()); ok && p.State == peer.Friend { continue }
        p, _, err := c.hs.BeginProbe(ctx, ep.Host, ep.Port)
        log := c.log.WithField("seed", ep.String())
        if err != nil {
            log.WithError(err).Warn("seed probe failed")
            continue
        }
        log.WithField("peer", p.ID).Info("seed probed")
    }
}

// membershipLoop turns gossip events into liveness flags. It never changes
// handshake state except through EvictFailed.
func (c *Cluster) membershipLoop(ctx context.Context) {
    evch := c.opts.Membership.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            c.onMember(ctx, e)
        }
    }
}

func (c *Cluster) onMember(ctx context.Context, e membership.Event) {
    m := e.Member
    typ := map[membership.EventType]EventType{
        membership.EventJoin:   EventMemberJoin,
        membership.EventLeave:  EventMemberLeave,
        membership.EventFailed: EventMemberFailed,
    }[e.Type]
    c.eb.publish(Event{Type: typ, At: e.At, Member: &m})

    id, err := uuid.Parse(m.Meta[membership.MetaUUID])
    if err != nil || id == c.self.ID { return }
    up := e.Type == membership.EventJoin
    if c.reg.SetConnected(id, up) {
        if p, ok := c.reg.Get(id); ok {
            et := EventPeerLost
            if up { et = EventPeerConnected }
            c.eb.publish(Event{Type: et, Peer: &p, From: p.State})
        }
    }
    if e.Type == membership.EventFailed && c.opts.EvictFailed && c.reg.IsFriend(id) {
        if _, err := c.hs.Detach(ctx, id.String()); err != nil {
            c.log.WithError(err).WithField("peer", id).Warn("failed peer not evicted")
        }
    }
    if e.Type == membership.EventJoin && !c.reg.IsFriend(id) {
        c.log.WithFields(logrus.Fields{"peer": id, "host": m.Meta[membership.MetaHost]}).
            Debug("gossip member is not a friend; probe it to add it to the pool")
    }
}

func (c *Cluster) onPeerChange(ch peer.Change) {
    p := ch.Peer
    if ch.Removed {
        c.eb.publish(Event{Type: EventPeerRemoved, Peer: &p, From: ch.From})
    } else {
        metrics.PeerTransitions.WithLabelValues(p.State.String()).Inc()
        c.eb.publish(Event{Type: EventPeerState, Peer: &p, From: ch.From})
    }
    c.refreshGauges()
}

func (c *Cluster) onTxn(o txn.Outcome) {
    c.eb.publish(Event{Type: EventTxnDone, Txn: &o})
    metrics.Volumes.Set(float64(c.vols.Len()))
}

func (c *Cluster) refreshGauges() {
    counts := c.reg.CountByState()
    for _, s := range []peer.State{peer.None, peer.Inbound, peer.Outbound, peer.Friend} {
        metrics.PeersByState.WithLabelValues(s.String()).Set(float64(counts[s]))
    }
    metrics.Volumes.Set(float64(c.vols.Len()))
}

// Stop shuts down seed probing, membership, the admin server, the gateway
// and the store, returning every error encountered.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return nil }
    c.run.closed = true
    if c.cancel != nil { c.cancel() }
    c.hs.Close()

    var err error
    if mem := c.opts.Membership; mem != nil && c.run.started {
        err = multierr.Append(err, mem.Leave())
        err = multierr.Append(err, mem.Stop())
    }
    if c.opts.Admin != nil && c.run.started {
        err = multierr.Append(err, c.opts.Admin.Stop(ctx))
    }
    if c.run.started {
        err = multierr.Append(err, c.opts.Gateway.Stop(ctx))
    }
    c.wg.Wait()
    err = multierr.Append(err, c.opts.Store.Close())
    return err
}

// Close is Stop with a short deadline.
func (c *Cluster) Close() error {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    return c.Stop(ctx)
}
