package transport

import (
    "context"
    "time"
)

// Op names a peer-to-peer RPC. The value doubles as the gRPC method name.
type Op string

const (
    OpProbe         Op = "Probe"
    OpFriendRequest Op = "FriendRequest"
    OpDetach        Op = "Detach"
    OpClusterLock   Op = "ClusterLock"
    OpStage         Op = "StageOp"
    OpCommit        Op = "CommitOp"
    OpClusterUnlock Op = "ClusterUnlock"
)

// Ops lists every peer RPC the gateway must be able to carry.
var Ops = []Op{OpProbe, OpFriendRequest, OpDetach, OpClusterLock, OpStage, OpCommit, OpClusterUnlock}

// Handler serves one incoming peer request. The returned value becomes the
// JSON payload of a successful response; a non-nil error becomes a failed
// response carrying the error's code and errno.
type Handler func(ctx context.Context, req Request) (interface{}, error)

// Conn is the opaque per-peer connection handle held by the peer registry.
type Conn interface {
    // Addr is the host:port the handle targets.
    Addr() string
    // Call sends one request and waits for the response or the timeout. The
    // returned error is a transport failure only; remote rejections are carried
    // in the Response.
    Call(ctx context.Context, op Op, req Request, timeout time.Duration) (Response, error)
    // Close releases this handle. Other handles to the same address stay
    // usable.
    Close() error
}

// Gateway is the node's RPC endpoint: it dispatches incoming requests to
// registered handlers and hands out connections to other nodes.
type Gateway interface {
    // Handle registers the handler for op (onIncomingRequest). Registering
    // twice replaces the previous handler.
    Handle(op Op, h Handler)
    Start(ctx context.Context) error
    Addr() string
    // Dial opens a connection and verifies the remote is reachable.
    Dial(ctx context.Context, addr string) (Conn, error)
    // Open returns a lazily connecting handle; failures surface on Call.
    Open(addr string) Conn
    // Loopback returns a handle that dispatches straight into the local
    // handlers, used when the local node is a transaction participant.
    Loopback() Conn
    Stop(ctx context.Context) error
}
