package txn

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
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// DefaultLockLease is how long a cluster lock survives without UNLOCK.
const DefaultLockLease = 3 * time.Minute

// LockHolder identifies the transaction that owns a participant's lock.
type LockHolder struct {
    Initiator uuid.UUID `json:"initiator"`
    TxnID     uint64    `json:"txnId"`
    Op        string    `json:"op"`
    Since     time.Time `json:"since"`
}

type ParticipantOptions struct {
    Self uuid.UUID
    // Lease bounds how long a lock is honoured without UNLOCK. Default 3m.
    Lease  time.Duration
    Logger *logrus.Logger
}

func (o *ParticipantOptions) Validate() error {
    if o.Self == uuid.Nil { return fmt.Errorf("txn: participant Self is required") }
    if o.Lease <= 0 { o.Lease = DefaultLockLease }
    return nil
}

// Participant answers cluster lock and phase requests on one node. It holds
// at most one lock at a time.
type Participant struct {
    mu     sync.Mutex
    holder *LockHolder
    lease  time.Duration
    now    func() time.Time

    opsMu sync.RWMutex
    ops   map[string]Op

    log *logrus.Entry
}

func NewParticipant(opts ParticipantOptions) (*Participant, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    return &Participant{
        lease: opts.Lease,
        now:   time.Now,
        ops:   make(map[string]Op),
        log:   logutil.NodeEntry(opts.Logger, opts.Self.String()).WithField("component", "txn"),
    }, nil
}

// RegisterOp makes op available to Stage and Commit.
func (p *Participant) RegisterOp(op Op) error {
    if err := op.validate(); err != nil { return err }
    p.opsMu.Lock(); defer p.opsMu.Unlock()
    p.ops[op.Name] = op
    return nil
}

func (p *Participant) op(name string) (Op, error) {
    p.opsMu.RLock(); defer p.opsMu.RUnlock()
    op, ok := p.ops[name]
    if !ok { return Op{}, errs.New(errs.InvalidArgument, "unknown operation %q", name) }
    return op, nil
}

// Register installs the phase handlers on gw.
func (p *Participant) Register(gw transport.Gateway) {
    gw.Handle(transport.OpClusterLock, p.handleLock)
    gw.Handle(transport.OpStage, p.handleStage)
    gw.Handle(transport.OpCommit, p.handleCommit)
    gw.Handle(transport.OpClusterUnlock, p.handleUnlock)
}

// Holder returns the current lock holder, if any.
func (p *Participant) Holder() (LockHolder, bool) {
    p.mu.Lock(); defer p.mu.Unlock()
    if p.holder == nil || p.expiredLocked() { return LockHolder{}, false }
    return *p.holder, true
}

func (p *Participant) expiredLocked() bool {
    return p.holder != nil && p.now().Sub(p.holder.Since) > p.lease
}

// Lock grants the lock to (initiator, txnID). A repeat of the current holder's
// request is granted again; any other request is BUSY until UNLOCK or lease
// expiry.
func (p *Participant) Lock(initiator uuid.UUID, txnID uint64, op string) error {
    p.mu.Lock(); defer p.mu.Unlock()
    if h := p.holder; h != nil {
        if h.Initiator == initiator && h.TxnID == txnID { return nil }
        if !p.expiredLocked() {
            metrics.LockBusy.Inc()
            return errs.New(errs.Busy, "locked by %s txn %d (%s)", h.Initiator, h.TxnID, h.Op)
        }
        p.log.WithFields(logrus.Fields{"initiator": h.Initiator, "txn": h.TxnID}).Warn("cluster lock lease expired; replacing holder")
    }
    p.holder = &LockHolder{Initiator: initiator, TxnID: txnID, Op: op, Since: p.now()}
    return nil
}

// Unlock releases the lock held by (initiator, txnID). Releasing a free lock
// succeeds; releasing somebody else's lock is a protocol error.
func (p *Participant) Unlock(initiator uuid.UUID, txnID uint64) error {
    p.mu.Lock(); defer p.mu.Unlock()
    if p.holder == nil { return nil }
    if p.holder.Initiator != initiator || p.holder.TxnID != txnID {
        if p.expiredLocked() {
            p.holder = nil
            return nil
        }
        return errs.New(errs.Protocol, "unlock by %s txn %d but held by %s txn %d", initiator, txnID, p.holder.Initiator, p.holder.TxnID)
    }
    p.holder = nil
    return nil
}

func (p *Participant) checkHolder(initiator uuid.UUID, txnID uint64) error {
    p.mu.Lock(); defer p.mu.Unlock()
    if p.holder == nil || p.holder.Initiator != initiator || p.holder.TxnID != txnID {
        return errs.New(errs.Protocol, "txn %d from %s does not hold the cluster lock", txnID, initiator)
    }
    return nil
}

func parseFrom(req transport.Request) (uuid.UUID, error) {
    id, err := uuid.Parse(req.From)
    if err != nil { return uuid.Nil, errs.Wrap(errs.Protocol, err, "bad initiator %q", req.From) }
    return id, nil
}

func (p *Participant) handleLock(ctx context.Context, req transport.Request) (interface{}, error) {
    from, err := parseFrom(req)
    if err != nil { return nil, err }
    var in lockRequest
    if err := req.Decode(&in); err != nil { return nil, err }
    if err := p.Lock(from, req.TxnID, in.Op); err != nil {
        logutil.TxnEntry(p.log, req.TxnID, in.Op).WithField("initiator", from).WithError(err).Info("cluster lock refused")
        return nil, err
    }
    return nil, nil
}

func (p *Participant) handleUnlock(ctx context.Context, req transport.Request) (interface{}, error) {
    from, err := parseFrom(req)
    if err != nil { return nil, err }
    return nil, p.Unlock(from, req.TxnID)
}

func (p *Participant) phase(ctx context.Context, req transport.Request, ph Phase) (Op, phaseRequest, context.Context, tracing.Span, error) {
    var in phaseRequest
    from, err := parseFrom(req)
    if err != nil { return Op{}, in, ctx, tracing.Span{}, err }
    if err := req.Decode(&in); err != nil { return Op{}, in, ctx, tracing.Span{}, err }
    if err := p.checkHolder(from, req.TxnID); err != nil { return Op{}, in, ctx, tracing.Span{}, err }
    op, err := p.op(in.Op)
    if err != nil { return Op{}, in, ctx, tracing.Span{}, err }
    ctx, span := tracing.StartSpan(ctx, "txn.participant."+string(ph),
        attribute.String("txn.op", in.Op), attribute.Int64("txn.id", int64(req.TxnID)))
    return op, in, ctx, span, nil
}

func (p *Participant) handleStage(ctx context.Context, req transport.Request) (interface{}, error) {
    op, in, ctx, span, err := p.phase(ctx, req, PhaseStage)
    if err != nil { return nil, err }
    err = op.Stage(ctx, in.Args)
    span.End(err)
    if err != nil { logutil.TxnEntry(p.log, req.TxnID, in.Op).WithError(err).Info("stage rejected") }
    return nil, err
}

func (p *Participant) handleCommit(ctx context.Context, req transport.Request) (interface{}, error) {
    op, in, ctx, span, err := p.phase(ctx, req, PhaseCommit)
    if err != nil { return nil, err }
    err = op.Commit(ctx, in.Args)
    span.End(err)
    if err != nil { logutil.TxnEntry(p.log, req.TxnID, in.Op).WithError(err).Error("commit failed") }
    return nil, err
}
