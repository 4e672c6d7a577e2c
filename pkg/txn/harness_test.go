package txn

import (
    "context"
    "fmt"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/transport/inmem"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

type tnode struct {
    id    uuid.UUID
    name  string
    addr  string
    reg   *peer.Registry
    gw    *inmem.Gateway
    part  *Participant
    coord *Coordinator
    vols  *volume.Store
    done  chan Outcome
}

func (n *tnode) IsLocal(id uuid.UUID) bool  { return id == n.id }
func (n *tnode) IsFriend(id uuid.UUID) bool { return n.reg.IsFriend(id) }

func (n *tnode) Resolve(host string) (uuid.UUID, error) {
    if host == n.name { return n.id, nil }
    p, ok := n.reg.Find(host)
    if !ok || p.State != peer.Friend { return uuid.Nil, errs.New(errs.PeerNotFound, "%s", host) }
    return p.ID, nil
}

// newCluster builds n fully meshed nodes named n0..n(n-1) on one network.
func newCluster(t *testing.T, n int, timeout time.Duration) (*inmem.Network, []*tnode) {
    t.Helper()
    net := inmem.NewNetwork()
    nodes := make([]*tnode, n)
    for i := range nodes {
        nd := &tnode{id: uuid.New(), name: fmt.Sprintf("n%d", i), reg: peer.NewRegistry(), done: make(chan Outcome, 16)}
        nd.addr = peer.JoinAddr(nd.name, 4284)
        nd.gw = net.Gateway(nd.addr)
        nd.vols = volume.NewStore(nd, nil)
        var err error
        nd.part, err = NewParticipant(ParticipantOptions{Self: nd.id, Logger: logutil.Discard()})
        require.NoError(t, err)
        for _, op := range VolumeOps(nd.vols, nd) { require.NoError(t, nd.part.RegisterOp(op)) }
        nd.part.Register(nd.gw)
        nd.coord, err = NewCoordinator(Options{
            Self: nd.id, Registry: nd.reg, Gateway: nd.gw, Participant: nd.part,
            PeerTimeout: timeout, Logger: logutil.Discard(),
            OnDone: func(o Outcome) { nd.done <- o },
        })
        require.NoError(t, err)
        require.NoError(t, nd.gw.Start(context.Background()))
        nodes[i] = nd
    }
    for _, a := range nodes {
        for _, b := range nodes {
            if a == b { continue }
            _, _, err := a.reg.Upsert(b.id, b.name, 4284, peer.EventFriendRequest)
            require.NoError(t, err)
            _, err = a.reg.Transition(b.id.String(), peer.EventFriendAccepted)
            require.NoError(t, err)
            a.reg.SetConn(b.id, a.gw.Open(b.addr))
        }
    }
    return net, nodes
}

func requireUnlocked(t *testing.T, nodes []*tnode) {
    t.Helper()
    for _, n := range nodes {
        h, held := n.part.Holder()
        require.False(t, held, "%s still locked by %+v", n.name, h)
    }
}

func createArgs(name string, bricks string) Dict {
    return Dict{ArgName: name, ArgBricks: bricks}
}
