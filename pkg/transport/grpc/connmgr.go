package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/connectivity"

    obsmetrics "github.com/amirimatin/go-glusterd/pkg/observability/metrics"
)

type dialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// connCache holds one client connection per peer address. Concurrent callers
// for the same address share a single dial. A connection whose state is
// Shutdown is replaced on the next call; an idle one is closed by sweep.
type connCache struct {
    dial dialFunc
    idle time.Duration

    mu      sync.Mutex
    entries map[string]*cacheEntry
    stop    chan struct{}
    stopped bool
}

type cacheEntry struct {
    ready    chan struct{} // closed when the dial finished
    cc       *grpc.ClientConn
    err      error
    inflight int
    lastUsed time.Time
}

func newConnCache(idle time.Duration, dial dialFunc) *connCache {
    if idle <= 0 { idle = 30 * time.Second }
    c := &connCache{dial: dial, idle: idle, entries: make(map[string]*cacheEntry), stop: make(chan struct{})}
    go c.sweepLoop()
    return c
}

func usable(cc *grpc.ClientConn) bool {
    return cc != nil && cc.GetState() != connectivity.Shutdown
}

// acquire returns the connection for addr, dialling it if needed. The
// returned release must be called once the RPC is done.
func (c *connCache) acquire(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    c.mu.Lock()
    e, ok := c.entries[addr]
    if ok {
        select {
        case <-e.ready:
            if e.err != nil || !usable(e.cc) {
                c.removeLocked(addr, e)
                ok = false
            }
        default:
        }
    }
    owner := !ok
    if owner {
        e = &cacheEntry{ready: make(chan struct{})}
        c.entries[addr] = e
    }
    e.inflight++
    c.mu.Unlock()

    if owner {
        e.cc, e.err = c.dial(ctx, addr)
        if e.err == nil {
            obsmetrics.GRPCConnDials.Inc()
            obsmetrics.GRPCConnActive.Inc()
        }
        close(e.ready)
    } else {
        select {
        case <-e.ready:
            obsmetrics.GRPCConnReuse.Inc()
        case <-ctx.Done():
            c.release(addr, e)
            return nil, func() {}, ctx.Err()
        }
    }
    if e.err != nil {
        err := e.err
        c.mu.Lock()
        e.inflight--
        if c.entries[addr] == e { delete(c.entries, addr) }
        c.mu.Unlock()
        return nil, func() {}, err
    }
    return e.cc, func() { c.release(addr, e) }, nil
}

func (c *connCache) release(addr string, e *cacheEntry) {
    c.mu.Lock()
    if e.inflight > 0 { e.inflight-- }
    e.lastUsed = time.Now()
    c.mu.Unlock()
}

// removeLocked closes a finished entry and forgets it.
func (c *connCache) removeLocked(addr string, e *cacheEntry) {
    if e.cc != nil {
        _ = e.cc.Close()
        obsmetrics.GRPCConnEvictions.Inc()
        obsmetrics.GRPCConnActive.Dec()
    }
    if c.entries[addr] == e { delete(c.entries, addr) }
}

// drop closes the connection for addr unless an RPC is using it.
func (c *connCache) drop(addr string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.entries[addr]
    if !ok || e.inflight > 0 { return }
    c.removeLocked(addr, e)
}

func (c *connCache) Len() int {
    c.mu.Lock(); defer c.mu.Unlock()
    return len(c.entries)
}

func (c *connCache) close() {
    c.mu.Lock()
    defer c.mu.Unlock()
    if !c.stopped {
        c.stopped = true
        close(c.stop)
    }
    for addr, e := range c.entries {
        select {
        case <-e.ready:
            c.removeLocked(addr, e)
        default:
        }
    }
}

func (c *connCache) sweep(now time.Time) {
    c.mu.Lock()
    defer c.mu.Unlock()
    for addr, e := range c.entries {
        if e.inflight > 0 { continue }
        select {
        case <-e.ready:
        default:
            continue
        }
        if !usable(e.cc) || now.Sub(e.lastUsed) > c.idle { c.removeLocked(addr, e) }
    }
}

func (c *connCache) sweepLoop() {
    t := time.NewTicker(c.idle / 2)
    defer t.Stop()
    for {
        select {
        case <-c.stop:
            return
        case now := <-t.C:
            c.sweep(now)
        }
    }
}
