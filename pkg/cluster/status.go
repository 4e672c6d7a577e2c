package cluster

import (
    "context"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/membership"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

func peerView(p peer.PeerInfo) transport.PeerView {
    v := transport.PeerView{Hostname: p.Hostname, Port: p.Port, State: p.State.String(), Since: p.Since, Connected: p.Connected}
    if p.Identified() { v.ID = p.ID.String() }
    return v
}

// hostOf names the owner of a brick for display.
func (c *Cluster) hostOf(id uuid.UUID) string {
    if id == c.self.ID { return c.self.Hostname }
    if p, ok := c.reg.Get(id); ok { return p.Hostname }
    return ""
}

func (c *Cluster) volumeView(v volume.VolumeInfo) transport.VolumeView {
    out := transport.VolumeView{
        Name:         v.Name,
        Type:         v.Type.String(),
        ReplicaCount: v.ReplicaCount,
        StripeCount:  v.StripeCount,
        Version:      v.Version,
        Bricks:       make([]transport.BrickView, 0, len(v.Bricks)),
    }
    for _, b := range v.Bricks {
        out.Bricks = append(out.Bricks, transport.BrickView{Peer: b.PeerID.String(), Hostname: c.hostOf(b.PeerID), Path: b.Path})
    }
    return out
}

// Status returns a local snapshot: identity, pool, catalog and the cluster
// lock holder if any.
func (c *Cluster) Status(ctx context.Context) (transport.NodeStatus, error) {
    st := transport.NodeStatus{
        ID:       c.self.ID.String(),
        Hostname: c.self.Hostname,
        Port:     c.self.Port,
        Gateway:  c.opts.Gateway.Addr(),
    }
    st.Peers, _ = c.Peers(ctx)
    st.Volumes, _ = c.Volumes(ctx)
    if h, held := c.part.Holder(); held {
        st.Lock = &transport.LockView{Initiator: h.Initiator.String(), TxnID: h.TxnID, Op: h.Op, Since: h.Since}
    }
    if hr, ok := c.opts.Membership.(membership.HealthReporter); ok {
        score := hr.HealthScore()
        st.GossipHealth = &score
    }
    c.refreshGauges()
    return st, nil
}

func (c *Cluster) Peers(ctx context.Context) ([]transport.PeerView, error) {
    ps := c.reg.List()
    out := make([]transport.PeerView, 0, len(ps))
    for _, p := range ps { out = append(out, peerView(p)) }
    return out, nil
}
