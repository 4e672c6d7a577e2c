package cluster

import (
    "context"
    "errors"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/discovery"
    "github.com/amirimatin/go-glusterd/pkg/handshake"
    "github.com/amirimatin/go-glusterd/pkg/membership"
    "github.com/amirimatin/go-glusterd/pkg/store"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// AdminServer serves the operator API on top of the cluster.
type AdminServer interface {
    Start(ctx context.Context, api transport.Admin) error
    Addr() string
    Stop(ctx context.Context) error
}

// Options carries dependency-injected components and runtime configuration
// used to assemble a Cluster. Instances are typically produced by bootstrap.
type Options struct {
    // Self is the local identity and the management address peers dial.
    Self handshake.Self
    // Gateway carries peer RPCs. Required.
    Gateway transport.Gateway
    // Store persists volumes and friendships. Required.
    Store store.Store
    Logger *logrus.Logger

    // Discovery provides seed peers probed on start. Optional.
    Discovery discovery.Discovery
    // Membership adds gossip liveness. Optional.
    Membership membership.Membership
    // GossipSeeds are the membership addresses joined on start.
    GossipSeeds []string
    // EvictFailed detaches peers gossip declares dead, unless they host bricks.
    EvictFailed bool

    // Admin serves the HTTP API. Optional.
    Admin AdminServer

    // CallTimeout bounds handshake RPCs. Default 10s.
    CallTimeout time.Duration
    // PeerTimeout bounds each transaction phase RPC. Default 30s.
    PeerTimeout time.Duration
    // LockLease bounds how long a cluster lock is honoured. Default 3m.
    LockLease time.Duration
    // FollowPeers makes the pool converge to a full mesh after a probe.
    FollowPeers bool
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.Self.ID == uuid.Nil { return errors.New("cluster: empty Self.ID") }
    if o.Self.Hostname == "" || o.Self.Port <= 0 { return errors.New("cluster: Self address required") }
    if o.Gateway == nil { return errors.New("cluster: nil Gateway") }
    if o.Store == nil { return errors.New("cluster: nil Store") }
    return nil
}
