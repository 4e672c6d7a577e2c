package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"
    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    base "github.com/amirimatin/go-glusterd/pkg/membership"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
    // NodeID is the gossip node name; daemons use their peer identity.
    NodeID string
    // Bind is the bind address in host:port form (e.g. ":24010").
    Bind string
    // Advertise is the address peers use to reach this node. Optional.
    Advertise string
    // Meta is gossiped with the node (identity, management host and port).
    Meta map[string]string
    Logger *logrus.Logger

    // Tuning parameters. Zero means memberlist defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

type impl struct {
    opts Options
    log  *logrus.Entry

    mu      sync.RWMutex
    ml      *memberlist.Memberlist
    logw    io.WriteCloser
    stopped bool

    // evMu guards evts separately so delegate callbacks never wait on mu
    // while Shutdown drains memberlist goroutines.
    evMu     sync.RWMutex
    evts     chan base.Event
    evClosed bool
}

// New constructs a memberlist-backed membership. No sockets are opened
// until Start.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" { return nil, fmt.Errorf("memberlist: empty NodeID") }
    if opts.Bind == "" { return nil, fmt.Errorf("memberlist: empty Bind address") }
    l := logutil.OrNew(opts.Logger)
    return &impl{opts: opts, log: l.WithField("component", "memberlist"), evts: make(chan base.Event, 64)}, nil
}

func splitAddr(addr string) (string, int, error) {
    host, portStr, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err) }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port %q", portStr) }
    return host, port, nil
}

func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil { return nil }
    if m.stopped { return fmt.Errorf("memberlist: stopped") }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitAddr(m.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitAddr(m.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }
    // memberlist's own chatter goes through logrus at debug level.
    cfg.LogOutput = io.Discard
    if m.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
        m.logw = m.log.WriterLevel(logrus.DebugLevel)
        cfg.LogOutput = m.logw
    }

    cfg.Events = &eventDelegate{emit: m.emit}
    meta, err := json.Marshal(m.opts.Meta)
    if err != nil { return fmt.Errorf("memberlist: encode meta: %w", err) }
    if len(meta) > memberlist.MetaMaxSize { return fmt.Errorf("memberlist: meta exceeds %d bytes", memberlist.MetaMaxSize) }
    cfg.Delegate = &nodeDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    m.ml = ml

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return fmt.Errorf("memberlist: not started") }
    if len(seeds) == 0 { return nil }
    _, err := ml.Join(seeds)
    return err
}

func memberOf(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return base.MemberInfo{} }
    return memberOf(m.ml.LocalNode())
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return nil }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, memberOf(n)) }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

func (m *impl) Stop() error {
    m.mu.Lock()
    if m.stopped { m.mu.Unlock(); return nil }
    m.stopped = true
    var err error
    if m.ml != nil {
        err = m.ml.Shutdown()
        m.ml = nil
    }
    if m.logw != nil { _ = m.logw.Close() }
    m.mu.Unlock()

    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    return err
}

// HealthScore exposes memberlist's awareness score.
func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return -1 }
    return m.ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
    m.evMu.RLock()
    defer m.evMu.RUnlock()
    if m.evClosed { return }
    select {
    case m.evts <- e:
    default:
        m.log.WithField("event", e.Type).Warn("dropping membership event: channel full")
    }
}

type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    d.emit(base.Event{Type: base.EventJoin, Member: memberOf(n), At: time.Now()})
}

// NotifyLeave fires for both graceful leaves and failures; the node state
// tells them apart.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    typ := base.EventFailed
    if n.State == memberlist.StateLeft { typ = base.EventLeave }
    d.emit(base.Event{Type: typ, Member: memberOf(n), At: time.Now()})
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
    d.emit(base.Event{Type: base.EventJoin, Member: memberOf(n), At: time.Now()})
}

// nodeDelegate publishes static node metadata.
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
