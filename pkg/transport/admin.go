package transport

import (
    "context"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Admin is the management surface exposed to operators over HTTP.
type Admin interface {
    Status(ctx context.Context) (NodeStatus, error)
    Probe(ctx context.Context, req ProbeRequest) (ProbeResponse, error)
    Detach(ctx context.Context, req DetachRequest) (PeerView, error)
    Peers(ctx context.Context) ([]PeerView, error)
    CreateVolume(ctx context.Context, req CreateVolumeRequest) (TxnReport, error)
    AddBrick(ctx context.Context, volume string, req AddBrickRequest) (TxnReport, error)
    DeleteVolume(ctx context.Context, volume string) (TxnReport, error)
    Volumes(ctx context.Context) ([]VolumeView, error)
    Volume(ctx context.Context, name string) (VolumeView, error)
}

type ProbeRequest struct {
    Host string `json:"host"`
    Port int    `json:"port,omitempty"`
}

type ProbeResponse struct {
    Peer        PeerView   `json:"peer"`
    RemotePeers []PeerView `json:"remotePeers,omitempty"`
}

type DetachRequest struct {
    // Peer is an identity, host:port or hostname.
    Peer string `json:"peer"`
}

type PeerView struct {
    ID        string    `json:"id,omitempty"`
    Hostname  string    `json:"hostname"`
    Port      int       `json:"port"`
    State     string    `json:"state,omitempty"`
    Since     time.Time `json:"since,omitempty"`
    Connected bool      `json:"connected"`
}

type BrickView struct {
    Peer     string `json:"peer"`
    Hostname string `json:"hostname,omitempty"`
    Path     string `json:"path"`
}

type VolumeView struct {
    Name         string      `json:"name"`
    Type         string      `json:"type"`
    ReplicaCount int         `json:"replicaCount"`
    StripeCount  int         `json:"stripeCount"`
    Bricks       []BrickView `json:"bricks"`
    Version      uint64      `json:"version"`
}

type CreateVolumeRequest struct {
    Name    string   `json:"name"`
    Type    string   `json:"type,omitempty"`
    Replica int      `json:"replica,omitempty"`
    Stripe  int      `json:"stripe,omitempty"`
    Bricks  []string `json:"bricks"`
}

type AddBrickRequest struct {
    Bricks []string `json:"bricks"`
}

// TxnReport is the result of a cluster transaction as seen by the initiator.
type TxnReport struct {
    TxnID        uint64            `json:"txnId,omitempty"`
    Op           string            `json:"op"`
    Phase        string            `json:"phase,omitempty"`
    Participants []string          `json:"participants,omitempty"`
    Committed    []string          `json:"committed,omitempty"`
    Failed       map[string]string `json:"failed,omitempty"`
    Error        *ErrorBody        `json:"error,omitempty"`
}

type LockView struct {
    Initiator string    `json:"initiator"`
    TxnID     uint64    `json:"txnId"`
    Op        string    `json:"op"`
    Since     time.Time `json:"since"`
}

type NodeStatus struct {
    ID       string       `json:"id"`
    Hostname string       `json:"hostname"`
    Port     int          `json:"port"`
    Gateway  string       `json:"gateway"`
    Peers    []PeerView   `json:"peers"`
    Volumes  []VolumeView `json:"volumes"`
    Lock     *LockView    `json:"lock,omitempty"`
    // GossipHealth is memberlist's awareness score; nil without gossip.
    GossipHealth *int `json:"gossipHealth,omitempty"`
}

// ErrorBody is the JSON form of an *errs.Error.
type ErrorBody struct {
    Code   string `json:"code"`
    Errno  int32  `json:"errno"`
    Detail string `json:"detail,omitempty"`
}

func ErrorBodyOf(err error) *ErrorBody {
    e := errs.From(err)
    if e == nil { return nil }
    detail := e.Detail
    if e.Cause != nil { detail = e.Error() }
    return &ErrorBody{Code: string(e.Code), Errno: e.Errno, Detail: detail}
}

func (b *ErrorBody) Err() error {
    if b == nil { return nil }
    code := errs.Code(b.Code)
    if code == "" { code = errs.Internal }
    return &errs.Error{Code: code, Errno: b.Errno, Detail: b.Detail}
}
