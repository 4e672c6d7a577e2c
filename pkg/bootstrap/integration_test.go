//go:build integration

package bootstrap

import (
    "context"
    "net"
    "strconv"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/transport/httpjson"
)

func freePort(t *testing.T) int {
    t.Helper()
    l, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    defer l.Close()
    return l.Addr().(*net.TCPAddr).Port
}

func daemonConfig(t *testing.T, host string) Config {
    cfg := Default()
    cfg.WorkDir = t.TempDir()
    cfg.Hostname = host
    cfg.Port = freePort(t)
    cfg.Bind = "127.0.0.1:" + strconv.Itoa(cfg.Port)
    cfg.Admin = "127.0.0.1:" + strconv.Itoa(freePort(t))
    cfg.Store = "bolt"
    return cfg
}

// Two daemons over real gRPC, driven through the HTTP admin API. The
// hostnames differ so brick hosts resolve to distinct peers.
func TestTwoDaemonsOverGRPC(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    cfgA, cfgB := daemonConfig(t, "127.0.0.1"), daemonConfig(t, "localhost")
    a, err := Run(ctx, cfgA, logutil.Discard())
    require.NoError(t, err)
    defer a.Close()
    b, err := Run(ctx, cfgB, logutil.Discard())
    require.NoError(t, err)
    defer b.Close()

    api := httpjson.NewClient(10 * time.Second)
    _, err = api.Probe(ctx, cfgA.Admin, transport.ProbeRequest{Host: "localhost", Port: cfgB.Port})
    require.NoError(t, err)
    assert.True(t, b.IsFriend(a.Self().ID))

    rep, err := api.CreateVolume(ctx, cfgA.Admin, transport.CreateVolumeRequest{
        Name:   "gv0",
        Bricks: []string{"127.0.0.1:/bricks/a", "localhost:/bricks/a"},
    })
    require.NoError(t, err)
    assert.Len(t, rep.Committed, 2)

    v, err := api.Volume(ctx, cfgB.Admin, "gv0")
    require.NoError(t, err)
    assert.Len(t, v.Bricks, 2)

    _, err = api.CreateVolume(ctx, cfgB.Admin, transport.CreateVolumeRequest{Name: "gv0", Bricks: []string{"localhost:/bricks/b"}})
    assert.True(t, errs.Has(err, errs.DuplicateVolume))

    _, err = api.Detach(ctx, cfgA.Admin, transport.DetachRequest{Peer: "localhost"})
    assert.True(t, errs.Has(err, errs.PeerInUse))

    _, err = api.DeleteVolume(ctx, cfgB.Admin, "gv0")
    require.NoError(t, err)
    vols, err := api.Volumes(ctx, cfgA.Admin)
    require.NoError(t, err)
    assert.Empty(t, vols)
}
