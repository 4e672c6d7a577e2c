package peer

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

type fakeConn struct {
    addr   string
    mu     sync.Mutex
    closed int
}

func (f *fakeConn) Addr() string { return f.addr }
func (f *fakeConn) Call(context.Context, transport.Op, transport.Request, time.Duration) (transport.Response, error) {
    return transport.Response{}, nil
}
func (f *fakeConn) Close() error { f.mu.Lock(); f.closed++; f.mu.Unlock(); return nil }

func TestTransitionTable(t *testing.T) {
    cases := []struct {
        from State
        ev   Event
        to   State
        err  bool
    }{
        {None, EventProbeAck, Outbound, false},
        {None, EventFriendRequest, Inbound, false},
        {None, EventFriendAccepted, None, true},
        {Inbound, EventFriendAccepted, Friend, false},
        {Inbound, EventProbeAck, Inbound, false},
        {Outbound, EventFriendRequest, Friend, false},
        {Outbound, EventFriendAccepted, Friend, false},
        {Friend, EventProbeAck, Friend, false},
        {Friend, EventFriendRequest, Friend, false},
    }
    for _, c := range cases {
        got, err := Next(c.from, c.ev)
        if c.err {
            assert.True(t, errs.Has(err, errs.Protocol), "%s on %s", c.from, c.ev)
            continue
        }
        require.NoError(t, err)
        assert.Equal(t, c.to, got, "%s on %s", c.from, c.ev)
    }
}

func TestStatesNeverRegress(t *testing.T) {
    for s := None; s <= Friend; s++ {
        for ev := EventProbeAck; ev <= EventFriendAccepted; ev++ {
            if to, err := Next(s, ev); err == nil {
                assert.GreaterOrEqual(t, int(to), int(s))
            }
        }
    }
}

func TestStateText(t *testing.T) {
    b, err := Friend.MarshalText()
    require.NoError(t, err)
    assert.Equal(t, "FRIEND", string(b))
    var s State
    require.NoError(t, s.UnmarshalText([]byte("outbound")))
    assert.Equal(t, Outbound, s)
    assert.Error(t, s.UnmarshalText([]byte("enemy")))
}

func TestAddIsIdempotent(t *testing.T) {
    r := NewRegistry()
    c := &fakeConn{addr: "h1:4284"}
    a, err := r.Add("h1", 4284, None, nil)
    require.NoError(t, err)
    b, err := r.Add("h1", 4284, Outbound, c)
    require.NoError(t, err)
    assert.Equal(t, None, b.State)
    assert.Equal(t, a.Hostname, b.Hostname)
    assert.Equal(t, transport.Conn(c), b.Conn)
    assert.Equal(t, 1, r.Len())

    // A re-probe brings a fresh handle; the old one is closed.
    c2 := &fakeConn{addr: "h1:4284"}
    b, err = r.Add("h1", 4284, None, c2)
    require.NoError(t, err)
    assert.Equal(t, transport.Conn(c2), b.Conn)
    assert.Equal(t, 1, c.closed)
    _, err = r.Add("h1", 4284, None, c2)
    require.NoError(t, err)
    assert.Equal(t, 0, c2.closed)
    b, err = r.Add("h1", 4284, None, nil)
    require.NoError(t, err)
    assert.Equal(t, transport.Conn(c2), b.Conn, "nil keeps the stored handle")
    assert.Equal(t, 1, r.Len())

    _, err = r.Add("", 4284, None, nil)
    assert.True(t, errs.Has(err, errs.InvalidArgument))
}

func TestBindAndTransition(t *testing.T) {
    r := NewRegistry()
    var changes []Change
    r.Observe(func(c Change) { changes = append(changes, c) })

    _, err := r.Add("h1", 4284, None, nil)
    require.NoError(t, err)
    _, err = r.Transition("h1:4284", EventProbeAck)
    assert.True(t, errs.Has(err, errs.Protocol), "unidentified peers cannot transition")

    id := uuid.New()
    p, err := r.Bind("h1:4284", id)
    require.NoError(t, err)
    assert.Equal(t, id, p.ID)

    p, err = r.Transition(id.String(), EventProbeAck)
    require.NoError(t, err)
    assert.Equal(t, Outbound, p.State)
    p, err = r.Transition("h1", EventFriendAccepted)
    require.NoError(t, err)
    assert.Equal(t, Friend, p.State)
    assert.True(t, r.IsFriend(id))

    require.Len(t, changes, 2)
    assert.Equal(t, None, changes[0].From)
    assert.Equal(t, Friend, changes[1].Peer.State)

    _, err = r.Transition("nope", EventProbeAck)
    assert.True(t, errs.Has(err, errs.PeerNotFound))
}

func TestBindFoldsDuplicateIdentity(t *testing.T) {
    r := NewRegistry()
    id := uuid.New()
    _, _, err := r.Upsert(id, "h1", 4284, EventFriendRequest)
    require.NoError(t, err)

    c := &fakeConn{addr: "alias:4284"}
    _, err = r.Add("alias", 4284, None, c)
    require.NoError(t, err)
    p, err := r.Bind("alias:4284", id)
    require.NoError(t, err)
    assert.Equal(t, "h1", p.Hostname)
    assert.Equal(t, transport.Conn(c), p.Conn)
    assert.Equal(t, 1, r.Len())
}

func TestUpsertCreatesAndAdvances(t *testing.T) {
    r := NewRegistry()
    id := uuid.New()
    p, prev, err := r.Upsert(id, "h2", 4284, EventFriendRequest)
    require.NoError(t, err)
    assert.Equal(t, None, prev)
    assert.Equal(t, Inbound, p.State)

    p, prev, err = r.Upsert(id, "h2", 4284, EventFriendAccepted)
    require.NoError(t, err)
    assert.Equal(t, Inbound, prev)
    assert.Equal(t, Friend, p.State)

    p, prev, err = r.Upsert(id, "h2", 4284, EventFriendRequest)
    require.NoError(t, err)
    assert.Equal(t, Friend, prev)
    assert.Equal(t, Friend, p.State)
}

func TestRemoveClosesConnAndIsSilent(t *testing.T) {
    r := NewRegistry()
    c := &fakeConn{addr: "h1:4284"}
    id := uuid.New()
    _, err := r.Add("h1", 4284, None, c)
    require.NoError(t, err)
    _, err = r.Bind("h1:4284", id)
    require.NoError(t, err)

    _, ok := r.Remove(id.String())
    assert.True(t, ok)
    assert.Equal(t, 1, c.closed)
    _, ok = r.Remove(id.String())
    assert.False(t, ok)
    assert.Equal(t, 0, r.Len())
}

func TestListFriendsOrderedCopies(t *testing.T) {
    r := NewRegistry()
    ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
    for i, id := range ids {
        _, _, err := r.Upsert(id, "h", 4000+i, EventFriendRequest)
        require.NoError(t, err)
        if i < 2 {
            _, err = r.Transition(id.String(), EventFriendAccepted)
            require.NoError(t, err)
        }
    }
    friends := r.ListFriends()
    require.Len(t, friends, 2)
    assert.True(t, lessByID(&friends[0], &friends[1]))

    friends[0].State = None
    assert.True(t, r.IsFriend(friends[0].ID), "mutating a copy must not touch the registry")
    assert.Len(t, r.List(), 3)
    assert.Equal(t, 2, r.CountByState()[Friend])
}

func TestSetConnectedAndRestore(t *testing.T) {
    r := NewRegistry()
    id := uuid.New()
    r.Restore([]PeerInfo{{ID: id, Hostname: "h9", Port: 4284, State: Friend}, {Hostname: "skip", Port: 1}})
    assert.Equal(t, 1, r.Len())
    assert.True(t, r.SetConnected(id, true))
    assert.False(t, r.SetConnected(id, true))
    p, ok := r.Get(id)
    require.True(t, ok)
    assert.True(t, p.Connected)
    assert.False(t, r.SetConnected(uuid.New(), true))
}
