// Package grpc is the production peer gateway: every transport.Op is a unary
// method of the hand-written service glusterd.v1.Peer, carried with a JSON
// codec.
package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "net"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-glusterd/pkg/observability/tracing"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

const serviceName = "glusterd.v1.Peer"

func fullMethod(op transport.Op) string { return "/" + serviceName + "/" + string(op) }

// Gateway implements transport.Gateway over gRPC.
type Gateway struct {
    bind      string
    serverTLS *tls.Config
    clientTLS *tls.Config
    idleTTL   time.Duration

    mux *transport.Mux
    cm  *connCache

    mu  sync.Mutex
    lis net.Listener
    srv *grpc.Server
}

// New returns a gateway that will listen on bind ("host:port"; port 0 picks a
// free one).
func New(bind string) *Gateway {
    g := &Gateway{bind: bind, idleTTL: 30 * time.Second, mux: transport.NewMux()}
    g.cm = newConnCache(g.idleTTL, g.dialCtx)
    return g
}

// UseTLS enables TLS on the listener (server) and on outgoing calls (client).
// Either may be nil.
func (g *Gateway) UseTLS(server, client *tls.Config) *Gateway {
    g.serverTLS, g.clientTLS = server, client
    return g
}

func (g *Gateway) Handle(op transport.Op, h transport.Handler) { g.mux.Handle(op, h) }

// peerServer is the HandlerType of the service; Gateway satisfies it.
type peerServer interface {
    dispatch(ctx context.Context, op transport.Op, req *transport.Request) (*transport.Response, error)
}

func (g *Gateway) dispatch(ctx context.Context, op transport.Op, req *transport.Request) (*transport.Response, error) {
    resp := g.mux.Dispatch(ctx, op, *req)
    return &resp, nil
}

func methodHandler(op transport.Op) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(transport.Request)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return srv.(peerServer).dispatch(ctx, op, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(op)}
        handler := func(ctx context.Context, req interface{}) (interface{}, error) {
            return srv.(peerServer).dispatch(ctx, op, req.(*transport.Request))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func serviceDesc() *grpc.ServiceDesc {
    desc := &grpc.ServiceDesc{ServiceName: serviceName, HandlerType: (*peerServer)(nil)}
    for _, op := range transport.Ops {
        desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: string(op), Handler: methodHandler(op)})
    }
    return desc
}

// traceInterceptor opens one span per incoming peer RPC.
func traceInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
    r, _ := req.(*transport.Request)
    attrs := []attribute.KeyValue{attribute.String("rpc.method", info.FullMethod)}
    if r != nil { attrs = append(attrs, attribute.String("peer.id", r.From)) }
    ctx, span := tracing.StartSpan(ctx, "grpc.serve", attrs...)
    out, err := handler(ctx, req)
    span.End(err)
    return out, err
}

func (g *Gateway) Start(ctx context.Context) error {
    g.mu.Lock(); defer g.mu.Unlock()
    if g.srv != nil { return fmt.Errorf("grpc: gateway already started") }
    lis, err := net.Listen("tcp", g.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.UnaryInterceptor(traceInterceptor),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if g.serverTLS != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(g.serverTLS))) }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(serviceDesc(), g)
    g.lis, g.srv = lis, srv
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (g *Gateway) Addr() string {
    g.mu.Lock(); defer g.mu.Unlock()
    if g.lis != nil { return g.lis.Addr().String() }
    return g.bind
}

func (g *Gateway) Stop(ctx context.Context) error {
    g.mu.Lock()
    srv, lis := g.srv, g.lis
    g.srv, g.lis = nil, nil
    g.mu.Unlock()
    g.cm.close()
    if srv == nil { return nil }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    if lis != nil { _ = lis.Close() }
    return nil
}

func (g *Gateway) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if g.clientTLS != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(g.clientTLS)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// Dial connects to addr, blocking until the connection is up or ctx ends.
func (g *Gateway) Dial(ctx context.Context, addr string) (transport.Conn, error) {
    _, rel, err := g.cm.acquire(ctx, addr)
    if err != nil { return nil, err }
    rel()
    return g.Open(addr), nil
}

func (g *Gateway) Open(addr string) transport.Conn { return &conn{cm: g.cm, addr: addr} }

func (g *Gateway) Loopback() transport.Conn { return g.mux.Loopback(g.Addr()) }

// conn is a handle on the shared connection cache; the underlying
// grpc.ClientConn is (re)dialled on demand.
type conn struct {
    cm   *connCache
    addr string
}

func (c *conn) Addr() string { return c.addr }

func (c *conn) Call(ctx context.Context, op transport.Op, req transport.Request, timeout time.Duration) (transport.Response, error) {
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    var resp transport.Response
    cc, rel, err := c.cm.acquire(ctx, c.addr)
    if err != nil { return resp, err }
    defer rel()
    if err = cc.Invoke(ctx, fullMethod(op), &req, &resp); status.Code(err) == codes.DeadlineExceeded {
        err = fmt.Errorf("%s: %w", status.Convert(err).Message(), context.DeadlineExceeded)
    }
    return resp, err
}

// Close drops the cached connection for the address if nobody else uses it.
func (c *conn) Close() error {
    c.cm.drop(c.addr)
    return nil
}

var _ transport.Gateway = (*Gateway)(nil)
