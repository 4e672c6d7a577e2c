// Package volume is the local volume catalog. Mutators run only from the
// commit phase of a cluster transaction; CheckCreate and friends are their
// side-effect free stage-time twins.
package volume

import (
    "fmt"
    "path"
    "strings"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Type is the volume layout.
type Type int

const (
    Distribute Type = iota
    Replicate
    Stripe
)

var typeNames = [...]string{"DISTRIBUTE", "REPLICATE", "STRIPE"}

func (t Type) String() string {
    if t < Distribute || t > Stripe { return fmt.Sprintf("Type(%d)", int(t)) }
    return typeNames[t]
}

func ParseType(v string) (Type, error) {
    for i, n := range typeNames {
        if strings.EqualFold(n, v) { return Type(i), nil }
    }
    return Distribute, errs.New(errs.InvalidArgument, "unknown volume type %q", v)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
    v, err := ParseType(string(b))
    if err != nil { return err }
    *t = v
    return nil
}

// BrickInfo is one export directory on one peer.
type BrickInfo struct {
    PeerID uuid.UUID `json:"peer"`
    Path   string    `json:"path"`
}

func (b BrickInfo) String() string { return b.PeerID.String() + ":" + b.Path }

// VolumeInfo describes one volume. Bricks keep their creation order.
type VolumeInfo struct {
    Name         string      `json:"name"`
    Type         Type        `json:"type"`
    ReplicaCount int         `json:"replicaCount"`
    StripeCount  int         `json:"stripeCount"`
    Bricks       []BrickInfo `json:"bricks"`
    Version      uint64      `json:"version"`
}

func (v VolumeInfo) clone() VolumeInfo {
    v.Bricks = append([]BrickInfo(nil), v.Bricks...)
    return v
}

// groupSize is the number of bricks that must be added together.
func (v VolumeInfo) groupSize() int {
    switch v.Type {
    case Replicate:
        return v.ReplicaCount
    case Stripe:
        return v.StripeCount
    }
    return 1
}

// CreateRequest is the input of a create-volume operation with bricks already
// resolved to peer identities.
type CreateRequest struct {
    Name         string      `json:"name"`
    Type         Type        `json:"type"`
    ReplicaCount int         `json:"replicaCount,omitempty"`
    StripeCount  int         `json:"stripeCount,omitempty"`
    Bricks       []BrickInfo `json:"bricks"`
}

const maxNameLen = 64

// ValidateName rejects names that cannot be used as store keys or paths.
func ValidateName(name string) error {
    if name == "" || len(name) > maxNameLen {
        return errs.New(errs.InvalidArgument, "volume name must be 1..%d characters", maxNameLen)
    }
    for _, r := range name {
        ok := r == '-' || r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
        if !ok { return errs.New(errs.InvalidArgument, "volume name %q contains %q", name, r) }
    }
    return nil
}

// ParseBrick splits "host:/path" into its parts.
func ParseBrick(s string) (host, dir string, err error) {
    i := strings.Index(s, ":/")
    if i <= 0 { return "", "", errs.New(errs.InvalidBrick, "brick %q is not host:/path", s) }
    return s[:i], s[i+1:], nil
}

func checkPath(p string) error {
    if !path.IsAbs(p) { return errs.New(errs.InvalidBrick, "brick path %q is not absolute", p) }
    if path.Clean(p) != p || p == "/" { return errs.New(errs.InvalidBrick, "brick path %q is not canonical", p) }
    return nil
}

// nested reports whether a and b are the same directory or one contains the
// other.
func nested(a, b string) bool {
    if a == b { return true }
    return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
