// Package membership is the optional gossip liveness layer. It never changes
// peer handshake state; it only reports which identities are reachable.
package membership

import (
    "context"
    "time"
)

// Meta keys published by every daemon.
const (
    MetaUUID = "uuid"
    MetaHost = "host"
    MetaPort = "port"
)

// MemberInfo describes a daemon as seen by gossip. ID is the node name, which
// daemons set to their peer identity.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left on purpose.
    EventLeave EventType = "leave"
    // EventFailed indicates gossip declared the member dead.
    EventFailed EventType = "failed"
)

type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the gossip/failure-detection layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
