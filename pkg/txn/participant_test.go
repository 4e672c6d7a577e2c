package txn

import (
    "context"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

func newParticipant(t *testing.T) *Participant {
    t.Helper()
    p, err := NewParticipant(ParticipantOptions{Self: uuid.New(), Lease: time.Minute, Logger: logutil.Discard()})
    require.NoError(t, err)
    return p
}

func TestParticipantLockSemantics(t *testing.T) {
    p := newParticipant(t)
    a, b := uuid.New(), uuid.New()

    require.NoError(t, p.Lock(a, 1, "x"))
    assert.NoError(t, p.Lock(a, 1, "x"), "re-delivery is granted")
    assert.True(t, errs.Has(p.Lock(a, 2, "x"), errs.Busy))
    assert.True(t, errs.Has(p.Lock(b, 1, "x"), errs.Busy))

    assert.True(t, errs.Has(p.Unlock(b, 1), errs.Protocol))
    require.NoError(t, p.Unlock(a, 1))
    assert.NoError(t, p.Unlock(a, 1), "unlocking a free lock is a no-op")
    require.NoError(t, p.Lock(b, 7, "y"))
    h, ok := p.Holder()
    require.True(t, ok)
    assert.Equal(t, b, h.Initiator)
}

func TestParticipantLeaseExpiry(t *testing.T) {
    p := newParticipant(t)
    now := time.Now()
    p.now = func() time.Time { return now }
    a, b := uuid.New(), uuid.New()
    require.NoError(t, p.Lock(a, 1, "x"))

    now = now.Add(2 * time.Minute)
    _, ok := p.Holder()
    assert.False(t, ok)
    require.NoError(t, p.Lock(b, 1, "y"))
    h, ok := p.Holder()
    require.True(t, ok)
    assert.Equal(t, b, h.Initiator)
}

func TestPhasesRequireTheLock(t *testing.T) {
    p := newParticipant(t)
    staged := 0
    require.NoError(t, p.RegisterOp(Op{
        Name:   "noop",
        Stage:  func(context.Context, Dict) error { staged++; return nil },
        Commit: func(context.Context, Dict) error { return nil },
    }))
    assert.Error(t, p.RegisterOp(Op{Name: "broken"}))

    mux := transport.NewMux()
    mux.Handle(transport.OpStage, p.handleStage)
    conn := mux.Loopback("self")
    a := uuid.New()
    req, err := transport.NewRequest(a.String(), 5, phaseRequest{Op: "noop", Args: Dict{}})
    require.NoError(t, err)
    ctx := context.Background()

    err = transport.Invoke(ctx, conn, transport.OpStage, req, time.Second, nil)
    assert.True(t, errs.Has(err, errs.Protocol), "%v", err)

    require.NoError(t, p.Lock(a, 5, "noop"))
    require.NoError(t, transport.Invoke(ctx, conn, transport.OpStage, req, time.Second, nil))
    assert.Equal(t, 1, staged)

    req.From = "not-a-uuid"
    assert.True(t, errs.Has(transport.Invoke(ctx, conn, transport.OpStage, req, time.Second, nil), errs.Protocol))
}

func TestDictHelpers(t *testing.T) {
    d := Dict{"n": "3", "bad": "x"}
    n, err := d.Int("n")
    require.NoError(t, err)
    assert.Equal(t, 3, n)
    n, err = d.Int("absent")
    require.NoError(t, err)
    assert.Zero(t, n)
    _, err = d.Int("bad")
    assert.True(t, errs.Has(err, errs.InvalidArgument))

    require.NoError(t, d.SetJSON("list", []string{"a", "b"}))
    var out []string
    require.NoError(t, d.JSON("list", &out))
    assert.Equal(t, []string{"a", "b"}, out)
    assert.Equal(t, []string{"a:/x", "b:/y"}, SplitBricks(" a:/x, ,b:/y "))

    c := d.Clone()
    c["n"] = "4"
    assert.Equal(t, "3", d["n"])
}
