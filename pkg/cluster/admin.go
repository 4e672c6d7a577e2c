package cluster

import (
    "context"
    "errors"
    "strconv"
    "strings"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/txn"
)

var _ transport.Admin = (*Cluster)(nil)

// Probe adds host to the pool. The port defaults to the local management
// port.
func (c *Cluster) Probe(ctx context.Context, req transport.ProbeRequest) (transport.ProbeResponse, error) {
    host := strings.TrimSpace(req.Host)
    if host == "" { return transport.ProbeResponse{}, errs.New(errs.InvalidArgument, "probe: empty host") }
    port := req.Port
    if port == 0 { port = c.self.Port }
    p, remote, err := c.hs.BeginProbe(ctx, host, port)
    if err != nil { return transport.ProbeResponse{}, err }
    out := transport.ProbeResponse{Peer: peerView(p)}
    for _, s := range remote {
        out.RemotePeers = append(out.RemotePeers, transport.PeerView{ID: s.ID.String(), Hostname: s.Hostname, Port: s.Port})
    }
    return out, nil
}

// Detach removes a peer named by identity, host:port or hostname.
func (c *Cluster) Detach(ctx context.Context, req transport.DetachRequest) (transport.PeerView, error) {
    key := strings.TrimSpace(req.Peer)
    if key == "" { return transport.PeerView{}, errs.New(errs.InvalidArgument, "detach: empty peer") }
    p, err := c.hs.Detach(ctx, key)
    if err != nil { return transport.PeerView{}, err }
    return peerView(p), nil
}

func (c *Cluster) CreateVolume(ctx context.Context, req transport.CreateVolumeRequest) (transport.TxnReport, error) {
    args := txn.Dict{
        txn.ArgName:   req.Name,
        txn.ArgType:   req.Type,
        txn.ArgBricks: strings.Join(req.Bricks, ","),
    }
    if req.Replica > 0 { args[txn.ArgReplica] = strconv.Itoa(req.Replica) }
    if req.Stripe > 0 { args[txn.ArgStripe] = strconv.Itoa(req.Stripe) }
    return c.runTxn(ctx, txn.OpCreateVolume, args)
}

func (c *Cluster) AddBrick(ctx context.Context, name string, req transport.AddBrickRequest) (transport.TxnReport, error) {
    return c.runTxn(ctx, txn.OpAddBrick, txn.Dict{txn.ArgName: name, txn.ArgBricks: strings.Join(req.Bricks, ",")})
}

func (c *Cluster) DeleteVolume(ctx context.Context, name string) (transport.TxnReport, error) {
    return c.runTxn(ctx, txn.OpDeleteVolume, txn.Dict{txn.ArgName: name})
}

// runTxn runs one cluster transaction and reports it per peer.
func (c *Cluster) runTxn(ctx context.Context, op string, args txn.Dict) (transport.TxnReport, error) {
    out, err := c.coord.Run(ctx, op, args)
    rep := transport.TxnReport{
        TxnID:        out.TxnID,
        Op:           op,
        Phase:        string(out.Phase),
        Participants: ids(out.Participants),
        Committed:    ids(out.Committed),
    }
    var pe *txn.PartialCommitError
    if errors.As(err, &pe) {
        rep.Failed = make(map[string]string, len(pe.Failed))
        for id, ferr := range pe.Failed { rep.Failed[id.String()] = ferr.Error() }
    }
    return rep, err
}

func ids(in []uuid.UUID) []string {
    if len(in) == 0 { return nil }
    out := make([]string, len(in))
    for i, id := range in { out[i] = id.String() }
    return out
}

func (c *Cluster) Volumes(ctx context.Context) ([]transport.VolumeView, error) {
    vs := c.vols.List()
    out := make([]transport.VolumeView, 0, len(vs))
    for _, v := range vs { out = append(out, c.volumeView(v)) }
    return out, nil
}

func (c *Cluster) Volume(ctx context.Context, name string) (transport.VolumeView, error) {
    v, ok := c.vols.Get(name)
    if !ok { return transport.VolumeView{}, errs.New(errs.VolumeNotFound, "volume %q", name) }
    return c.volumeView(v), nil
}
