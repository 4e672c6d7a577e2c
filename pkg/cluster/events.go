package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/membership"
    "github.com/amirimatin/go-glusterd/pkg/observability/metrics"
    "github.com/amirimatin/go-glusterd/pkg/peer"
    "github.com/amirimatin/go-glusterd/pkg/txn"
)

type EventType string

const (
    EventPeerState     EventType = "peer_state"
    EventPeerRemoved   EventType = "peer_removed"
    EventPeerConnected EventType = "peer_connected"
    EventPeerLost      EventType = "peer_lost"
    EventTxnDone       EventType = "txn_done"
    EventMemberJoin    EventType = "member_join"
    EventMemberLeave   EventType = "member_leave"
    EventMemberFailed  EventType = "member_failed"
)

// Event describes a cluster state change. Only the fields relevant to Type
// are set.
type Event struct {
    Type   EventType
    At     time.Time
    Peer   *peer.PeerInfo
    From   peer.State
    Txn    *txn.Outcome
    Member *membership.MemberInfo
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// With types given, only those events are delivered. Slow consumers lose
// events rather than stall the daemon.
func (c *Cluster) Subscribe(ctx context.Context, types ...EventType) <-chan Event {
    sub := &subscriber{ch: make(chan Event, 64)}
    if len(types) > 0 {
        sub.only = make(map[EventType]bool, len(types))
        for _, t := range types { sub.only[t] = true }
    }
    c.eb.add(sub)
    go func() {
        <-ctx.Done()
        c.eb.remove(sub)
        close(sub.ch)
    }()
    return sub.ch
}

type subscriber struct {
    ch   chan Event
    only map[EventType]bool
}

func (s *subscriber) wants(t EventType) bool { return s.only == nil || s.only[t] }

type eventBus struct {
    mu   sync.Mutex
    subs map[*subscriber]struct{}
}

func (e *eventBus) add(s *subscriber) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[*subscriber]struct{}) }
    e.subs[s] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(s *subscriber) {
    e.mu.Lock()
    delete(e.subs, s)
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    defer e.mu.Unlock()
    for s := range e.subs {
        if !s.wants(ev.Type) { continue }
        select {
        case s.ch <- ev:
        default:
            metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
        }
    }
}
