// Package peer holds the trusted-pool membership model: the handshake state
// enum, its transition table and the registry of known peers.
package peer

import (
    "fmt"
    "strings"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// State is the handshake state of a peer as seen by the local node.
type State int

const (
    None State = iota
    Inbound
    Outbound
    Friend
)

var stateNames = [...]string{"NONE", "INBOUND", "OUTBOUND", "FRIEND"}

func (s State) String() string {
    if s < None || s > Friend { return fmt.Sprintf("State(%d)", int(s)) }
    return stateNames[s]
}

func ParseState(v string) (State, error) {
    for i, n := range stateNames {
        if strings.EqualFold(n, v) { return State(i), nil }
    }
    return None, fmt.Errorf("peer: unknown state %q", v)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
    v, err := ParseState(string(b))
    if err != nil { return err }
    *s = v
    return nil
}

// Event drives the handshake.
type Event int

const (
    // EventProbeAck: the remote answered our probe.
    EventProbeAck Event = iota
    // EventFriendRequest: a friend request arrived from the remote.
    EventFriendRequest
    // EventFriendAccepted: the friendship was confirmed.
    EventFriendAccepted
)

func (e Event) String() string {
    switch e {
    case EventProbeAck:
        return "probe-ack"
    case EventFriendRequest:
        return "friend-request"
    case EventFriendAccepted:
        return "friend-accepted"
    }
    return fmt.Sprintf("Event(%d)", int(e))
}

const invalid State = -1

// transitions[from][event]. States never regress.
var transitions = [4][3]State{
    None:     {EventProbeAck: Outbound, EventFriendRequest: Inbound, EventFriendAccepted: invalid},
    Inbound:  {EventProbeAck: Inbound, EventFriendRequest: Inbound, EventFriendAccepted: Friend},
    Outbound: {EventProbeAck: Outbound, EventFriendRequest: Friend, EventFriendAccepted: Friend},
    Friend:   {EventProbeAck: Friend, EventFriendRequest: Friend, EventFriendAccepted: Friend},
}

// Next returns the state reached from `from` on ev, or a PROTOCOL error when
// the table has no entry.
func Next(from State, ev Event) (State, error) {
    if from < None || from > Friend || ev < EventProbeAck || ev > EventFriendAccepted {
        return from, errs.New(errs.Protocol, "no transition from %s on %s", from, ev)
    }
    to := transitions[from][ev]
    if to == invalid { return from, errs.New(errs.Protocol, "no transition from %s on %s", from, ev) }
    return to, nil
}
