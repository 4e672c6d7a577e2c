// Package inmem is a process-local Gateway implementation with fault
// injection. Nodes attached to the same Network reach each other by address.
package inmem

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/transport"
)

type fault struct {
    unreachable bool
    delay       time.Duration
}

type faultKey struct {
    addr string
    op   transport.Op
}

// Network connects in-memory gateways.
type Network struct {
    mu     sync.RWMutex
    nodes  map[string]*Gateway
    faults map[faultKey]fault
}

func NewNetwork() *Network {
    return &Network{nodes: make(map[string]*Gateway), faults: make(map[faultKey]fault)}
}

// Gateway returns a new, unstarted gateway for addr.
func (n *Network) Gateway(addr string) *Gateway {
    return &Gateway{net: n, addr: addr, mux: transport.NewMux()}
}

// SetUnreachable makes calls to addr fail as if the host were down. A non-empty
// op restricts the fault to that RPC.
func (n *Network) SetUnreachable(addr string, op transport.Op, down bool) {
    n.mu.Lock(); defer n.mu.Unlock()
    k := faultKey{addr, op}
    f := n.faults[k]
    f.unreachable = down
    n.faults[k] = f
}

// SetDelay delays every call to addr (or only op when non-empty) by d before
// it is dispatched.
func (n *Network) SetDelay(addr string, op transport.Op, d time.Duration) {
    n.mu.Lock(); defer n.mu.Unlock()
    k := faultKey{addr, op}
    f := n.faults[k]
    f.delay = d
    n.faults[k] = f
}

// Heal clears every fault on addr.
func (n *Network) Heal(addr string) {
    n.mu.Lock(); defer n.mu.Unlock()
    for k := range n.faults {
        if k.addr == addr { delete(n.faults, k) }
    }
}

func (n *Network) route(addr string, op transport.Op) (*Gateway, fault, error) {
    n.mu.RLock(); defer n.mu.RUnlock()
    f := n.faults[faultKey{addr, ""}]
    if g, ok := n.faults[faultKey{addr, op}]; ok && op != "" {
        f.unreachable = f.unreachable || g.unreachable
        if g.delay > f.delay { f.delay = g.delay }
    }
    if f.unreachable { return nil, f, fmt.Errorf("inmem: %s unreachable", addr) }
    gw := n.nodes[addr]
    if gw == nil { return nil, f, fmt.Errorf("inmem: connection refused: %s", addr) }
    return gw, f, nil
}

// Gateway is one node's endpoint on a Network.
type Gateway struct {
    net  *Network
    addr string
    mux  *transport.Mux
}

func (g *Gateway) Handle(op transport.Op, h transport.Handler) { g.mux.Handle(op, h) }

func (g *Gateway) Start(ctx context.Context) error {
    g.net.mu.Lock(); defer g.net.mu.Unlock()
    if _, ok := g.net.nodes[g.addr]; ok { return fmt.Errorf("inmem: address in use: %s", g.addr) }
    g.net.nodes[g.addr] = g
    return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
    g.net.mu.Lock()
    if g.net.nodes[g.addr] == g { delete(g.net.nodes, g.addr) }
    g.net.mu.Unlock()
    return nil
}

func (g *Gateway) Addr() string { return g.addr }

func (g *Gateway) Dial(ctx context.Context, addr string) (transport.Conn, error) {
    if _, _, err := g.net.route(addr, ""); err != nil { return nil, err }
    return g.Open(addr), nil
}

func (g *Gateway) Open(addr string) transport.Conn { return &conn{net: g.net, addr: addr} }

func (g *Gateway) Loopback() transport.Conn { return g.mux.Loopback(g.addr) }

type conn struct {
    net    *Network
    addr   string
    mu     sync.Mutex
    closed bool
}

func (c *conn) Addr() string { return c.addr }

func (c *conn) Call(ctx context.Context, op transport.Op, req transport.Request, timeout time.Duration) (transport.Response, error) {
    c.mu.Lock()
    closed := c.closed
    c.mu.Unlock()
    if closed { return transport.Response{}, fmt.Errorf("inmem: connection to %s closed", c.addr) }
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    gw, f, err := c.net.route(c.addr, op)
    if err != nil { return transport.Response{}, err }
    if f.delay > 0 {
        t := time.NewTimer(f.delay)
        defer t.Stop()
        select {
        case <-t.C:
        case <-ctx.Done():
            return transport.Response{}, ctx.Err()
        }
    }
    return gw.mux.Loopback(gw.addr).Call(ctx, op, req, 0)
}

func (c *conn) Close() error {
    c.mu.Lock(); c.closed = true; c.mu.Unlock()
    return nil
}

var _ transport.Gateway = (*Gateway)(nil)
