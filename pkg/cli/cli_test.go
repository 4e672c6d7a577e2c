package cli

import (
    "bytes"
    "context"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/google/uuid"
    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/bootstrap"
    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/transport/httpjson"
)

type fakeAdmin struct {
    create transport.CreateVolumeRequest
    probe  transport.ProbeRequest
}

func (f *fakeAdmin) Status(ctx context.Context) (transport.NodeStatus, error) {
    return transport.NodeStatus{ID: "self-id", Hostname: "n0", Port: 4284, Peers: []transport.PeerView{{ID: "p1", Hostname: "n1", Port: 4284, State: "FRIEND", Connected: true}}}, nil
}

func (f *fakeAdmin) Probe(ctx context.Context, req transport.ProbeRequest) (transport.ProbeResponse, error) {
    f.probe = req
    return transport.ProbeResponse{Peer: transport.PeerView{Hostname: req.Host, Port: req.Port, State: "FRIEND"}}, nil
}

func (f *fakeAdmin) Detach(ctx context.Context, req transport.DetachRequest) (transport.PeerView, error) {
    return transport.PeerView{}, errs.New(errs.PeerInUse, "peer %s hosts bricks", req.Peer)
}

func (f *fakeAdmin) Peers(ctx context.Context) ([]transport.PeerView, error) {
    return []transport.PeerView{{ID: "p1", Hostname: "n1", Port: 4284, State: "FRIEND"}}, nil
}

func (f *fakeAdmin) CreateVolume(ctx context.Context, req transport.CreateVolumeRequest) (transport.TxnReport, error) {
    f.create = req
    return transport.TxnReport{TxnID: 3, Op: "create-volume", Committed: []string{"a", "b"}}, nil
}

func (f *fakeAdmin) AddBrick(ctx context.Context, volume string, req transport.AddBrickRequest) (transport.TxnReport, error) {
    rep := transport.TxnReport{TxnID: 4, Op: "add-brick", Committed: []string{"a"}, Failed: map[string]string{"b": "INTERNAL: disk"}}
    return rep, errs.New(errs.PartialCommit, "1 of 2 peers failed")
}

func (f *fakeAdmin) DeleteVolume(ctx context.Context, volume string) (transport.TxnReport, error) {
    return transport.TxnReport{TxnID: 5, Op: "delete-volume", Committed: []string{"a"}}, nil
}

func (f *fakeAdmin) Volumes(ctx context.Context) ([]transport.VolumeView, error) {
    return []transport.VolumeView{{Name: "v0", Type: "DISTRIBUTE", Bricks: []transport.BrickView{{Peer: "a", Hostname: "n0", Path: "/b0"}}}}, nil
}

func (f *fakeAdmin) Volume(ctx context.Context, name string) (transport.VolumeView, error) {
    if name != "v0" { return transport.VolumeView{}, errs.New(errs.VolumeNotFound, "volume %q", name) }
    return transport.VolumeView{Name: "v0", Type: "REPLICATE", ReplicaCount: 2}, nil
}

func run(t *testing.T, f *fakeAdmin, args ...string) (string, string, error) {
    t.Helper()
    srv := httptest.NewServer(httpjson.Handler(f))
    t.Cleanup(srv.Close)
    root := &cobra.Command{Use: "glusterctl", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    var out, stderr bytes.Buffer
    root.SetOut(&out)
    root.SetErr(&stderr)
    root.SetArgs(append(args, "--addr", strings.TrimPrefix(srv.URL, "http://"), "--timeout", "5s"))
    err := root.Execute()
    return out.String(), stderr.String(), err
}

func TestSplitHostPort(t *testing.T) {
    h, p, err := splitHostPort("node1:24008")
    require.NoError(t, err)
    assert.Equal(t, "node1", h)
    assert.Equal(t, 24008, p)

    h, p, err = splitHostPort("node1")
    require.NoError(t, err)
    assert.Equal(t, "node1", h)
    assert.Zero(t, p)

    _, _, err = splitHostPort("node1:x")
    assert.Error(t, err)
}

func TestPeerCommands(t *testing.T) {
    f := &fakeAdmin{}
    out, _, err := run(t, f, "peer", "probe", "n2:4290")
    require.NoError(t, err)
    assert.Contains(t, out, "peer probe: success")
    assert.Equal(t, transport.ProbeRequest{Host: "n2", Port: 4290}, f.probe)

    out, _, err = run(t, f, "peer", "status")
    require.NoError(t, err)
    assert.Contains(t, out, "Number of Peers: 1")
    assert.Contains(t, out, "FRIEND")

    _, _, err = run(t, f, "peer", "detach", "n1")
    require.Error(t, err)
    assert.True(t, errs.Has(err, errs.PeerInUse))
}

func TestVolumeCommands(t *testing.T) {
    f := &fakeAdmin{}
    out, _, err := run(t, f, "volume", "create", "v1", "--replica", "2", "n0:/b0", "n1:/b1")
    require.NoError(t, err)
    assert.Contains(t, out, "txn 3 on 2 peers")
    assert.Equal(t, "replicate", f.create.Type)
    assert.Equal(t, []string{"n0:/b0", "n1:/b1"}, f.create.Bricks)

    _, stderr, err := run(t, f, "volume", "add-brick", "v1", "n2:/b2")
    require.Error(t, err)
    assert.True(t, errs.Has(err, errs.PartialCommit))
    assert.Contains(t, stderr, "INTERNAL: disk")

    out, _, err = run(t, f, "volume", "list")
    require.NoError(t, err)
    assert.Equal(t, "v0\n", out)

    out, _, err = run(t, f, "volume", "info", "v0")
    require.NoError(t, err)
    assert.Contains(t, out, "Replica: 2")

    _, _, err = run(t, f, "volume", "info", "nope")
    assert.True(t, errs.Has(err, errs.VolumeNotFound))

    out, _, err = run(t, f, "volume", "delete", "v0", "--json")
    require.NoError(t, err)
    assert.Contains(t, out, `"txnId": 5`)
}

func TestStatusCommand(t *testing.T) {
    out, _, err := run(t, &fakeAdmin{}, "status")
    require.NoError(t, err)
    assert.Contains(t, out, "self-id")
    assert.Contains(t, out, "free")
    assert.Contains(t, out, "n1")
}

func TestFail(t *testing.T) {
    var buf bytes.Buffer
    assert.Equal(t, 2, Fail(&buf, "glusterctl", errs.New(errs.DuplicateVolume, "volume %q exists", "v0")))
    assert.Contains(t, buf.String(), "errno")
    buf.Reset()
    assert.Equal(t, 1, Fail(&buf, "glusterctl", assert.AnError))
}

func writeConfig(t *testing.T, dir, body string) string {
    t.Helper()
    path := filepath.Join(dir, "glusterd.yaml")
    require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
    return path
}

func TestDaemonFlagsOverrideConfig(t *testing.T) {
    dir := t.TempDir()
    path := writeConfig(t, dir, "workdir: "+dir+"\nhostname: n0\nport: 4300\nstore: memory\nseeds: [n1]\n")

    cmd := &cobra.Command{Use: "glusterd"}
    f := &daemonFlags{}
    f.bind(cmd)
    require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--port", "4400", "--seeds", "n2, n3"}))
    cfg, err := f.resolve(cmd)
    require.NoError(t, err)
    assert.Equal(t, "n0", cfg.Hostname)
    assert.Equal(t, 4400, cfg.Port)
    assert.Equal(t, "memory", cfg.Store)
    assert.Equal(t, []string{"n2", "n3"}, cfg.Seeds)
    assert.Equal(t, ":4400", cfg.Bind)
}

func TestExportImport(t *testing.T) {
    src, dst := t.TempDir(), t.TempDir()
    path := writeConfig(t, src, "workdir: "+src+"\nhostname: n0\nstore: bolt\n")

    cfg, err := bootstrap.LoadConfig(path)
    require.NoError(t, err)
    st, err := bootstrap.OpenStore(cfg, logutil.Discard())
    require.NoError(t, err)
    id := uuid.New()
    require.NoError(t, st.SavePeer(store.PeerRecord{ID: id, Hostname: "n1", Port: 4284, State: peer.Friend}))
    require.NoError(t, st.Close())

    dump := filepath.Join(src, "dump.json")
    cmd := NewDaemonCmd()
    cmd.SetArgs([]string{"export", "--config", path, "-o", dump})
    require.NoError(t, cmd.Execute())

    var out bytes.Buffer
    cmd = NewDaemonCmd()
    cmd.SetOut(&out)
    cmd.SetArgs([]string{"import", dump, "--config", path, "--workdir", dst})
    require.NoError(t, cmd.Execute())
    assert.Contains(t, out.String(), dst)

    cfg.WorkDir = dst
    st, err = bootstrap.OpenStore(cfg, logutil.Discard())
    require.NoError(t, err)
    defer st.Close()
    peers, err := st.LoadPeers()
    require.NoError(t, err)
    require.Len(t, peers, 1)
    assert.Equal(t, id, peers[0].ID)
    assert.Equal(t, peer.Friend, peers[0].State)
}
