package txn

import (
    "context"
    "fmt"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/observability/metrics"
    "github.com/amirimatin/go-glusterd/pkg/observability/tracing"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

type Options struct {
    Self        uuid.UUID
    Registry    *peer.Registry
    Gateway     transport.Gateway
    Participant *Participant
    // PeerTimeout bounds each participant's answer in each phase. Default 30s.
    PeerTimeout time.Duration
    // OnDone, if set, observes every finished transaction.
    OnDone func(Outcome)
    Logger *logrus.Logger
}

func (o *Options) Validate() error {
    if o.Self == uuid.Nil { return fmt.Errorf("txn: Self is required") }
    if o.Registry == nil { return fmt.Errorf("txn: Registry is required") }
    if o.Gateway == nil { return fmt.Errorf("txn: Gateway is required") }
    if o.Participant == nil { return fmt.Errorf("txn: Participant is required") }
    if o.PeerTimeout <= 0 { o.PeerTimeout = 30 * time.Second }
    return nil
}

// Outcome summarises a finished transaction.
type Outcome struct {
    TxnID        uint64
    Op           string
    Participants []uuid.UUID
    Committed    []uuid.UUID
    // Phase is where the transaction finished: PhaseUnlock on success, else
    // the phase that failed.
    Phase Phase
    Err   error
}

// Coordinator initiates transactions. At most one runs at a time per node.
type Coordinator struct {
    self    uuid.UUID
    reg     *peer.Registry
    gw      transport.Gateway
    part    *Participant
    timeout time.Duration
    onDone  func(Outcome)
    log     *logrus.Entry

    sem    chan struct{}
    nextID atomic.Uint64
}

func NewCoordinator(opts Options) (*Coordinator, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    c := &Coordinator{
        self:    opts.Self,
        reg:     opts.Registry,
        gw:      opts.Gateway,
        part:    opts.Participant,
        timeout: opts.PeerTimeout,
        onDone:  opts.OnDone,
        log:     logutil.NodeEntry(opts.Logger, opts.Self.String()).WithField("component", "txn"),
        sem:     make(chan struct{}, 1),
    }
    // Seeding from the clock keeps ids increasing across restarts.
    c.nextID.Store(uint64(time.Now().UnixNano()))
    return c, nil
}

type member struct {
    id   uuid.UUID
    conn transport.Conn
}

type reply struct {
    id  uuid.UUID
    err error
}

// snapshot fixes the participant set: the local node first, then every FRIEND
// in identity order. Each member gets its own handle so that removing a peer
// from the registry, which closes the registry's handle, cannot cut it out of
// a running transaction.
func (c *Coordinator) snapshot() []member {
    friends := c.reg.ListFriends()
    out := make([]member, 0, len(friends)+1)
    out = append(out, member{id: c.self, conn: c.gw.Loopback()})
    for _, p := range friends {
        out = append(out, member{id: p.ID, conn: c.gw.Open(p.Addr())})
    }
    return out
}

// fanout sends one phase to every member concurrently and returns the replies
// in arrival order.
func (c *Coordinator) fanout(ctx context.Context, ph Phase, members []member, op transport.Op, req transport.Request) []reply {
    start := time.Now()
    defer func() { metrics.PhaseDuration.WithLabelValues(string(ph)).Observe(time.Since(start).Seconds()) }()
    ch := make(chan reply, len(members))
    for _, m := range members {
        go func(m member) {
            ch <- reply{id: m.id, err: transport.Invoke(ctx, m.conn, op, req, c.timeout, nil)}
        }(m)
    }
    out := make([]reply, 0, len(members))
    for range members { out = append(out, <-ch) }
    return out
}

func firstFailure(rs []reply) (reply, bool) {
    for _, r := range rs {
        if r.err != nil { return r, true }
    }
    return reply{}, false
}

// Run executes op cluster-wide. Validation failures return before any RPC.
// Once LOCK has been sent the transaction runs to completion regardless of
// ctx; only the per-peer timeout bounds it.
func (c *Coordinator) Run(ctx context.Context, name string, args Dict) (out Outcome, err error) {
    out.Op = name
    out.Phase = PhasePrepare
    defer func() {
        out.Err = err
        result := "ok"
        if err != nil { result = string(errs.CodeOf(err)) }
        metrics.Transactions.WithLabelValues(name, result).Inc()
        if c.onDone != nil && out.TxnID != 0 { c.onDone(out) }
    }()

    op, err := c.part.op(name)
    if err != nil { return out, err }
    if args == nil { args = Dict{} }
    if op.Prepare != nil {
        if args, err = op.Prepare(ctx, args.Clone()); err != nil { return out, err }
    }

    select {
    case c.sem <- struct{}{}:
    case <-ctx.Done():
        return out, errs.Wrap(errs.Busy, ctx.Err(), "another transaction is running on this node")
    }
    defer func() { <-c.sem }()

    out.TxnID = c.nextID.Add(1)
    log := logutil.TxnEntry(c.log, out.TxnID, name)
    ctx, span := tracing.StartSpan(context.WithoutCancel(ctx), "txn."+name, attribute.Int64("txn.id", int64(out.TxnID)))
    defer func() { span.End(err) }()

    members := c.snapshot()
    for _, m := range members { out.Participants = append(out.Participants, m.id) }
    log = log.WithField("participants", len(members))

    lockReq, err := transport.NewRequest(c.self.String(), out.TxnID, lockRequest{Op: name})
    if err != nil { return out, err }
    phaseReq, err := transport.NewRequest(c.self.String(), out.TxnID, phaseRequest{Op: name, Args: args})
    if err != nil { return out, err }

    // LOCK
    out.Phase = PhaseLock
    replies := c.fanout(ctx, PhaseLock, members, transport.OpClusterLock, lockReq)
    var holders []member
    for _, r := range replies {
        if r.err == nil { holders = append(holders, memberOf(members, r.id)) }
    }
    if bad, failed := firstFailure(replies); failed {
        c.unlock(ctx, log, out.TxnID, holders)
        log.WithField("peer", bad.id).WithError(bad.err).Warn("cluster lock failed")
        return out, errs.Wrap(errs.LockFailed, bad.err, "peer %s", bad.id)
    }

    // STAGE
    out.Phase = PhaseStage
    replies = c.fanout(ctx, PhaseStage, members, transport.OpStage, phaseReq)
    if bad, failed := firstFailure(replies); failed {
        c.unlock(ctx, log, out.TxnID, members)
        log.WithField("peer", bad.id).WithError(bad.err).Info("stage rejected")
        return out, bad.err
    }

    // COMMIT
    out.Phase = PhaseCommit
    replies = c.fanout(ctx, PhaseCommit, members, transport.OpCommit, phaseReq)
    failed := map[uuid.UUID]error{}
    for _, r := range replies {
        if r.err != nil {
            failed[r.id] = r.err
            continue
        }
        out.Committed = append(out.Committed, r.id)
    }

    // UNLOCK
    c.unlock(ctx, log, out.TxnID, members)

    if len(failed) > 0 {
        pe := &PartialCommitError{TxnID: out.TxnID, Op: name, Committed: out.Committed, Failed: failed}
        log.WithError(pe).Error("commit did not reach every participant; cluster state is inconsistent")
        return out, pe
    }
    out.Phase = PhaseUnlock
    log.Info("transaction committed")
    return out, nil
}

func memberOf(ms []member, id uuid.UUID) member {
    for _, m := range ms {
        if m.id == id { return m }
    }
    return member{id: id}
}

// unlock releases the lock on every member. Failures are logged only.
func (c *Coordinator) unlock(ctx context.Context, log *logrus.Entry, txnID uint64, members []member) {
    if len(members) == 0 { return }
    req := transport.Request{From: c.self.String(), TxnID: txnID}
    for _, r := range c.fanout(ctx, PhaseUnlock, members, transport.OpClusterUnlock, req) {
        if r.err != nil { log.WithField("peer", r.id).WithError(r.err).Warn("cluster unlock failed") }
    }
}
