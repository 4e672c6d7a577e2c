package cluster

import (
    "context"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/discovery/static"
    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/handshake"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/membership"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/store/memory"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/transport/inmem"
)

const port = 4284

func newNode(t *testing.T, net *inmem.Network, name string, st store.Store, mutate func(*Options)) *Cluster {
    t.Helper()
    if st == nil { st = memory.New() }
    self := handshake.Self{ID: uuid.New(), Hostname: name, Port: port}
    opts := Options{
        Self:        self,
        Gateway:     net.Gateway(self.Addr()),
        Store:       st,
        Logger:      logutil.Discard(),
        CallTimeout: time.Second,
        PeerTimeout: time.Second,
        FollowPeers: true,
    }
    if mutate != nil { mutate(&opts) }
    c, err := New(opts)
    require.NoError(t, err)
    require.NoError(t, c.Start(context.Background()))
    t.Cleanup(func() { _ = c.Close() })
    return c
}

// pool starts n nodes named n0.. and probes the rest from n0.
func pool(t *testing.T, n int) (*inmem.Network, []*Cluster) {
    t.Helper()
    net := inmem.NewNetwork()
    nodes := make([]*Cluster, n)
    for i := range nodes { nodes[i] = newNode(t, net, fmt.Sprintf("n%d", i), nil, nil) }
    ctx := context.Background()
    for _, other := range nodes[1:] {
        _, err := nodes[0].Probe(ctx, transport.ProbeRequest{Host: other.Self().Hostname})
        require.NoError(t, err)
    }
    for _, a := range nodes {
        for _, b := range nodes {
            if a == b { continue }
            a, b := a, b
            assert.Eventually(t, func() bool { return a.IsFriend(b.Self().ID) }, 3*time.Second, 10*time.Millisecond,
                "%s should befriend %s", a.Self().Hostname, b.Self().Hostname)
        }
    }
    return net, nodes
}

func TestValidate(t *testing.T) {
    _, err := New(Options{})
    assert.Error(t, err)
    _, err = New(Options{Self: handshake.Self{ID: uuid.New(), Hostname: "n0", Port: port}})
    assert.Error(t, err)
}

func TestResolve(t *testing.T) {
    _, nodes := pool(t, 2)
    c := nodes[0]
    id, err := c.Resolve("n0")
    require.NoError(t, err)
    assert.Equal(t, c.Self().ID, id)
    id, err = c.Resolve("n1")
    require.NoError(t, err)
    assert.Equal(t, nodes[1].Self().ID, id)
    _, err = c.Resolve("stranger")
    assert.True(t, errs.Has(err, errs.PeerNotFound))
}

func TestVolumeLifecycleAcrossPool(t *testing.T) {
    _, nodes := pool(t, 3)
    ctx := context.Background()
    events := nodes[0].Subscribe(ctx, EventTxnDone)

    rep, err := nodes[0].CreateVolume(ctx, transport.CreateVolumeRequest{
        Name:    "gv0",
        Type:    "replicate",
        Replica: 2,
        Bricks:  []string{"n1:/bricks/a", "n2:/bricks/a"},
    })
    require.NoError(t, err)
    assert.NotZero(t, rep.TxnID)
    assert.Len(t, rep.Committed, 3)
    assert.Equal(t, "unlock", rep.Phase)

    for _, n := range nodes {
        v, err := n.Volume(ctx, "gv0")
        require.NoError(t, err, n.Self().Hostname)
        assert.Equal(t, "REPLICATE", v.Type)
        require.Len(t, v.Bricks, 2)
        assert.Equal(t, "n1", v.Bricks[0].Hostname)
    }

    select {
    case e := <-events:
        require.Equal(t, EventTxnDone, e.Type, "filtered subscription")
        assert.Equal(t, rep.TxnID, e.Txn.TxnID)
    case <-time.After(2 * time.Second):
        t.Fatal("no txn event")
    }

    _, err = nodes[1].AddBrick(ctx, "gv0", transport.AddBrickRequest{Bricks: []string{"n0:/bricks/b"}})
    assert.True(t, errs.Has(err, errs.InvalidBrick), "replica 2 needs bricks in pairs: %v", err)
    _, err = nodes[1].AddBrick(ctx, "gv0", transport.AddBrickRequest{Bricks: []string{"n0:/bricks/b", "n2:/bricks/b"}})
    require.NoError(t, err)
    v, err := nodes[2].Volume(ctx, "gv0")
    require.NoError(t, err)
    assert.Len(t, v.Bricks, 4)
    assert.Equal(t, uint64(2), v.Version)

    _, err = nodes[2].Detach(ctx, transport.DetachRequest{Peer: "n1"})
    assert.True(t, errs.Has(err, errs.PeerInUse))

    _, err = nodes[2].DeleteVolume(ctx, "gv0")
    require.NoError(t, err)
    for _, n := range nodes {
        _, err := n.Volume(ctx, "gv0")
        assert.True(t, errs.Has(err, errs.VolumeNotFound))
    }

    _, err = nodes[2].Detach(ctx, transport.DetachRequest{Peer: "n1"})
    require.NoError(t, err)
    assert.False(t, nodes[2].IsFriend(nodes[1].Self().ID))
    assert.Eventually(t, func() bool { return !nodes[1].IsFriend(nodes[2].Self().ID) }, time.Second, 10*time.Millisecond)
}

func TestCreateRejectsUnknownBrickHost(t *testing.T) {
    _, nodes := pool(t, 2)
    rep, err := nodes[0].CreateVolume(context.Background(), transport.CreateVolumeRequest{Name: "gv1", Bricks: []string{"n9:/bricks/a"}})
    assert.True(t, errs.Has(err, errs.InvalidBrick))
    assert.Zero(t, rep.TxnID, "nothing is sent for a pre-flight failure")
    assert.Equal(t, "prepare", rep.Phase)
}

func TestStatus(t *testing.T) {
    _, nodes := pool(t, 2)
    st, err := nodes[0].Status(context.Background())
    require.NoError(t, err)
    assert.Equal(t, "n0", st.Hostname)
    assert.Equal(t, "n0:4284", st.Gateway)
    require.Len(t, st.Peers, 1)
    assert.Equal(t, "FRIEND", st.Peers[0].State)
    assert.Nil(t, st.Lock)
}

func TestSeedsAreProbedOnStart(t *testing.T) {
    net := inmem.NewNetwork()
    n1 := newNode(t, net, "n1", nil, nil)
    n0 := newNode(t, net, "n0", nil, func(o *Options) { o.Discovery = static.New("n1", "n0:4284", "bad:port") })
    assert.Eventually(t, func() bool { return n0.IsFriend(n1.Self().ID) && n1.IsFriend(n0.Self().ID) },
        3*time.Second, 10*time.Millisecond)
}

func TestRestartRestoresState(t *testing.T) {
    net := inmem.NewNetwork()
    st := memory.New()
    n0 := newNode(t, net, "n0", st, nil)
    n1 := newNode(t, net, "n1", nil, nil)
    ctx := context.Background()
    _, err := n0.Probe(ctx, transport.ProbeRequest{Host: "n1"})
    require.NoError(t, err)
    _, err = n0.CreateVolume(ctx, transport.CreateVolumeRequest{Name: "gv0", Bricks: []string{"n0:/b", "n1:/b"}})
    require.NoError(t, err)

    require.NoError(t, n0.Close())

    again, err := New(Options{Self: n0.Self(), Gateway: net.Gateway(n0.Self().Addr()), Store: st, Logger: logutil.Discard()})
    require.NoError(t, err)
    require.NoError(t, again.Start(ctx))
    t.Cleanup(func() { _ = again.Close() })

    assert.True(t, again.IsFriend(n1.Self().ID))
    v, err := again.Volume(ctx, "gv0")
    require.NoError(t, err)
    assert.Len(t, v.Bricks, 2)

    // the restored peer has a lazy conn and takes part in transactions
    _, err = again.DeleteVolume(ctx, "gv0")
    require.NoError(t, err)
    _, err = n1.Volume(ctx, "gv0")
    assert.True(t, errs.Has(err, errs.VolumeNotFound))
}

type fakeMembership struct {
    mu     sync.Mutex
    evts   chan membership.Event
    joined []string
}

func (f *fakeMembership) Start(ctx context.Context) error { return nil }
func (f *fakeMembership) Join(seeds []string) error {
    f.mu.Lock(); f.joined = seeds; f.mu.Unlock()
    return nil
}
func (f *fakeMembership) Local() membership.MemberInfo     { return membership.MemberInfo{} }
func (f *fakeMembership) Members() []membership.MemberInfo { return nil }
func (f *fakeMembership) Events() <-chan membership.Event  { return f.evts }
func (f *fakeMembership) Leave() error                     { return nil }
func (f *fakeMembership) Stop() error                      { return nil }
func (f *fakeMembership) HealthScore() int                  { return 0 }

func TestMembershipTogglesLiveness(t *testing.T) {
    net := inmem.NewNetwork()
    mem := &fakeMembership{evts: make(chan membership.Event, 8)}
    n1 := newNode(t, net, "n1", nil, nil)
    n0 := newNode(t, net, "n0", nil, func(o *Options) {
        o.Membership = mem
        o.GossipSeeds = []string{"n1:24010"}
        o.EvictFailed = true
    })
    ctx := context.Background()
    events := n0.Subscribe(ctx)
    _, err := n0.Probe(ctx, transport.ProbeRequest{Host: "n1"})
    require.NoError(t, err)
    mem.mu.Lock()
    assert.Equal(t, []string{"n1:24010"}, mem.joined)
    mem.mu.Unlock()

    id := n1.Self().ID
    member := membership.MemberInfo{ID: id.String(), Meta: map[string]string{membership.MetaUUID: id.String()}}
    mem.evts <- membership.Event{Type: membership.EventJoin, Member: member, At: time.Now()}
    assert.Eventually(t, func() bool {
        p, ok := n0.Registry().Get(id)
        return ok && p.Connected
    }, time.Second, 10*time.Millisecond)

    mem.evts <- membership.Event{Type: membership.EventFailed, Member: member, At: time.Now()}
    assert.Eventually(t, func() bool { return !n0.IsFriend(id) }, 2*time.Second, 10*time.Millisecond,
        "failed peer without bricks is evicted")

    seen := map[EventType]bool{}
    for len(events) > 0 { seen[(<-events).Type] = true }
    assert.True(t, seen[EventMemberJoin])
    assert.True(t, seen[EventPeerConnected])
    assert.True(t, seen[EventPeerState])

    st, err := n0.Status(ctx)
    require.NoError(t, err)
    require.NotNil(t, st.GossipHealth)
    assert.Equal(t, 0, *st.GossipHealth)
}

func TestStopIsIdempotent(t *testing.T) {
    net := inmem.NewNetwork()
    c := newNode(t, net, "n0", nil, nil)
    require.NoError(t, c.Close())
    require.NoError(t, c.Close())
    assert.ErrorIs(t, c.Start(context.Background()), ErrStopped)
}
