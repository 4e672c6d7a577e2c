package transport

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

func TestMuxLoopbackRoundTrip(t *testing.T) {
    m := NewMux()
    m.Handle(OpProbe, func(ctx context.Context, req Request) (interface{}, error) {
        var in struct{ Name string }
        if err := req.Decode(&in); err != nil { return nil, err }
        return map[string]string{"hello": in.Name}, nil
    })
    m.Handle(OpStage, func(ctx context.Context, req Request) (interface{}, error) {
        return nil, errs.New(errs.DuplicateVolume, "volume %q exists", "vol0")
    })
    c := m.Loopback("self:1")
    ctx := context.Background()

    req, err := NewRequest("me", 7, map[string]string{"Name": "n1"})
    require.NoError(t, err)
    var out map[string]string
    require.NoError(t, Invoke(ctx, c, OpProbe, req, time.Second, &out))
    assert.Equal(t, "n1", out["hello"])

    err = Invoke(ctx, c, OpStage, req, time.Second, nil)
    assert.True(t, errs.Has(err, errs.DuplicateVolume))
    e := errs.From(err)
    assert.Equal(t, errs.DuplicateVolume.Errno(), e.Errno)
    assert.Contains(t, e.Detail, "vol0")

    err = Invoke(ctx, c, OpCommit, req, time.Second, nil)
    assert.True(t, errs.Has(err, errs.Protocol), "unregistered op")

    bad := Request{From: "me"}
    err = Invoke(ctx, c, OpProbe, bad, time.Second, &out)
    assert.True(t, errs.Has(err, errs.Protocol), "empty payload")
}

func TestLoopbackTimeout(t *testing.T) {
    m := NewMux()
    m.Handle(OpCommit, func(ctx context.Context, req Request) (interface{}, error) {
        <-ctx.Done()
        time.Sleep(10 * time.Millisecond)
        return nil, nil
    })
    err := Invoke(context.Background(), m.Loopback("self:1"), OpCommit, Request{}, 20*time.Millisecond, nil)
    assert.True(t, errs.Has(err, errs.Timeout), "%v", err)
}

func TestCallErrorClassification(t *testing.T) {
    assert.True(t, errs.Has(CallError("a", errors.New("refused")), errs.PeerUnreachable))
    assert.True(t, errs.Has(CallError("a", context.DeadlineExceeded), errs.Timeout))
    assert.True(t, errs.Has(CallError("a", errs.New(errs.Busy, "")), errs.Busy))
    assert.True(t, errs.Has(Invoke(context.Background(), nil, OpProbe, Request{}, 0, nil), errs.PeerUnreachable))
}
