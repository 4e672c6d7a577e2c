// Package bootstrap turns a Config into a running daemon.
package bootstrap

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/cluster"
    "github.com/amirimatin/go-glusterd/pkg/discovery"
    dDNS "github.com/amirimatin/go-glusterd/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-glusterd/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-glusterd/pkg/discovery/static"
    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/handshake"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/membership"
    ml "github.com/amirimatin/go-glusterd/pkg/membership/memberlist"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/store/badger"
    "github.com/amirimatin/go-glusterd/pkg/store/bolt"
    "github.com/amirimatin/go-glusterd/pkg/store/memory"
    gw "github.com/amirimatin/go-glusterd/pkg/transport/grpc"
    "github.com/amirimatin/go-glusterd/pkg/transport/httpjson"
)

// InfoFile holds the node identity inside the work directory.
const InfoFile = "glusterd.info"

// LoadOrCreateUUID reads UUID=<id> from <dir>/glusterd.info, creating the
// file with a fresh identity on first start.
func LoadOrCreateUUID(dir string) (uuid.UUID, error) {
    path := filepath.Join(dir, InfoFile)
    f, err := os.Open(path)
    if err == nil {
        defer f.Close()
        sc := bufio.NewScanner(f)
        for sc.Scan() {
            k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
            if !ok || k != "UUID" { continue }
            id, err := uuid.Parse(v)
            if err != nil { return uuid.Nil, errs.Wrap(errs.Internal, err, "%s: bad UUID", path) }
            return id, nil
        }
        if err := sc.Err(); err != nil { return uuid.Nil, err }
        return uuid.Nil, errs.New(errs.Internal, "%s: no UUID line", path)
    }
    if !os.IsNotExist(err) { return uuid.Nil, err }
    if err := os.MkdirAll(dir, 0o755); err != nil { return uuid.Nil, err }
    id := uuid.New()
    if err := os.WriteFile(path, []byte("UUID="+id.String()+"\n"), 0o600); err != nil { return uuid.Nil, err }
    return id, nil
}

// OpenStore opens the configured persistence backend under the work dir.
func OpenStore(cfg Config, l *logrus.Logger) (store.Store, error) {
    switch cfg.Store {
    case store.BackendMemory:
        return memory.New(), nil
    case store.BackendBadger:
        return badger.Open(filepath.Join(cfg.WorkDir, "badger"), l)
    case store.BackendBolt, "":
        return bolt.Open(cfg.WorkDir)
    }
    return nil, errs.New(errs.InvalidArgument, "unknown store %q", cfg.Store)
}

func buildDiscovery(cfg Config, l *logrus.Logger) discovery.Discovery {
    var srcs []discovery.Discovery
    if cfg.PeersFile != "" || cfg.PeersEnv != "" {
        srcs = append(srcs, dFile.New(dFile.Options{Path: cfg.PeersFile, Env: cfg.PeersEnv}))
    }
    if len(cfg.Seeds) > 0 { srcs = append(srcs, dStatic.New(cfg.Seeds...)) }
    if len(cfg.SeedsSRV) > 0 { srcs = append(srcs, dDNS.New(dDNS.Options{Names: cfg.SeedsSRV, Logger: l})) }
    return discovery.Multi(srcs...)
}

// Build assembles a cluster.Cluster from cfg without starting it.
func Build(cfg Config, l *logrus.Logger) (*cluster.Cluster, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if l == nil {
        logutil.SetJSON(cfg.LogJSON)
        l = logutil.New()
        if cfg.LogLevel != "" {
            if lv, err := logrus.ParseLevel(cfg.LogLevel); err == nil { l.SetLevel(lv) }
        }
    }
    id, err := LoadOrCreateUUID(cfg.WorkDir)
    if err != nil { return nil, err }
    self := handshake.Self{ID: id, Hostname: cfg.Hostname, Port: cfg.Port}

    srvTLS, err := cfg.TLS.Server()
    if err != nil { return nil, err }
    cliTLS, err := cfg.TLS.Client()
    if err != nil { return nil, err }
    gateway := gw.New(cfg.Bind)
    if srvTLS != nil { gateway.UseTLS(srvTLS, cliTLS) }

    st, err := OpenStore(cfg, l)
    if err != nil { return nil, err }

    opts := cluster.Options{
        Self:        self,
        Gateway:     gateway,
        Store:       st,
        Logger:      l,
        Discovery:   buildDiscovery(cfg, l),
        CallTimeout: time.Duration(cfg.CallTimeout),
        PeerTimeout: time.Duration(cfg.PeerTimeout),
        LockLease:   time.Duration(cfg.LockLease),
        FollowPeers: *cfg.FollowPeers,
    }
    if cfg.Admin != "" && cfg.Admin != "off" {
        srv := httpjson.NewServer(cfg.Admin, l)
        if srvTLS != nil { srv.UseTLS(srvTLS) }
        opts.Admin = srv
    }
    if cfg.Gossip.Enable {
        mem, err := ml.New(ml.Options{
            NodeID:    id.String(),
            Bind:      cfg.Gossip.Bind,
            Advertise: cfg.Gossip.Advertise,
            Logger:    l,
            Meta: map[string]string{
                membership.MetaUUID: id.String(),
                membership.MetaHost: cfg.Hostname,
                membership.MetaPort: strconv.Itoa(cfg.Port),
            },
        })
        if err != nil { _ = st.Close(); return nil, err }
        opts.Membership = mem
        opts.GossipSeeds = cfg.Gossip.Seeds
        opts.EvictFailed = cfg.Gossip.EvictFailed
    }
    c, err := cluster.New(opts)
    if err != nil { _ = st.Close(); return nil, fmt.Errorf("bootstrap: %w", err) }
    return c, nil
}

// Run builds and starts the daemon. The caller must Close it.
func Run(ctx context.Context, cfg Config, l *logrus.Logger) (*cluster.Cluster, error) {
    c, err := Build(cfg, l)
    if err != nil { return nil, err }
    if err := c.Start(ctx); err != nil {
        _ = c.Close()
        return nil, err
    }
    return c, nil
}
