package txn

import (
    "context"
    "strings"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/volume"
)

// Volume operation names.
const (
    OpCreateVolume = "create-volume"
    OpAddBrick     = "add-brick"
    OpDeleteVolume = "delete-volume"
)

// Argument keys of the volume operations.
const (
    ArgName    = "volname"
    ArgType    = "type"
    ArgReplica = "replica"
    ArgStripe  = "stripe"
    // ArgBricks is a comma separated host:/path list as typed by the user.
    ArgBricks = "bricks"
    // argResolved holds the bricks resolved to peer identities by Prepare.
    argResolved = "bricks.resolved"
)

// Resolver maps a brick host to the identity of the pool member that owns it.
type Resolver interface {
    Resolve(host string) (uuid.UUID, error)
}

// VolumeOps returns the create-volume, add-brick and delete-volume operations
// bound to vols. res is consulted on the initiator only.
func VolumeOps(vols *volume.Store, res Resolver) []Op {
    return []Op{
        {
            Name: OpCreateVolume,
            Prepare: func(ctx context.Context, args Dict) (Dict, error) {
                req, err := createRequest(args)
                if err != nil { return nil, err }
                if _, ok := vols.Get(req.Name); ok { return nil, errs.New(errs.DuplicateVolume, "volume %q already exists", req.Name) }
                if err := resolveBricks(args, res); err != nil { return nil, err }
                if req, err = resolvedCreate(args); err != nil { return nil, err }
                if err := vols.CheckCreate(req); err != nil { return nil, err }
                return args, nil
            },
            Stage: func(ctx context.Context, args Dict) error {
                req, err := resolvedCreate(args)
                if err != nil { return err }
                return vols.CheckCreate(req)
            },
            Commit: func(ctx context.Context, args Dict) error {
                req, err := resolvedCreate(args)
                if err != nil { return err }
                _, err = vols.CreateVolume(req)
                return err
            },
        },
        {
            Name: OpAddBrick,
            Prepare: func(ctx context.Context, args Dict) (Dict, error) {
                name := args.Get(ArgName)
                if _, ok := vols.Get(name); !ok { return nil, errs.New(errs.VolumeNotFound, "volume %q", name) }
                if err := resolveBricks(args, res); err != nil { return nil, err }
                var bricks []volume.BrickInfo
                if err := args.JSON(argResolved, &bricks); err != nil { return nil, err }
                if err := vols.CheckAddBricks(name, bricks); err != nil { return nil, err }
                return args, nil
            },
            Stage: func(ctx context.Context, args Dict) error {
                var bricks []volume.BrickInfo
                if err := args.JSON(argResolved, &bricks); err != nil { return err }
                return vols.CheckAddBricks(args.Get(ArgName), bricks)
            },
            Commit: func(ctx context.Context, args Dict) error {
                var bricks []volume.BrickInfo
                if err := args.JSON(argResolved, &bricks); err != nil { return err }
                _, err := vols.AddBricks(args.Get(ArgName), bricks)
                return err
            },
        },
        {
            Name: OpDeleteVolume,
            Prepare: func(ctx context.Context, args Dict) (Dict, error) {
                if err := vols.CheckDelete(args.Get(ArgName)); err != nil { return nil, err }
                return args, nil
            },
            Stage: func(ctx context.Context, args Dict) error { return vols.CheckDelete(args.Get(ArgName)) },
            Commit: func(ctx context.Context, args Dict) error { return vols.DeleteVolume(args.Get(ArgName)) },
        },
    }
}

// createRequest reads the user-facing arguments of create-volume.
func createRequest(args Dict) (volume.CreateRequest, error) {
    var req volume.CreateRequest
    req.Name = args.Get(ArgName)
    if err := volume.ValidateName(req.Name); err != nil { return req, err }
    if t := args.Get(ArgType); t != "" {
        typ, err := volume.ParseType(t)
        if err != nil { return req, err }
        req.Type = typ
    }
    var err error
    if req.ReplicaCount, err = args.Int(ArgReplica); err != nil { return req, err }
    if req.StripeCount, err = args.Int(ArgStripe); err != nil { return req, err }
    return req, nil
}

func resolvedCreate(args Dict) (volume.CreateRequest, error) {
    req, err := createRequest(args)
    if err != nil { return req, err }
    err = args.JSON(argResolved, &req.Bricks)
    return req, err
}

// SplitBricks splits a comma separated brick list, dropping blanks.
func SplitBricks(s string) []string {
    var out []string
    for _, b := range strings.Split(s, ",") {
        if b = strings.TrimSpace(b); b != "" { out = append(out, b) }
    }
    return out
}

func resolveBricks(args Dict, res Resolver) error {
    raw := SplitBricks(args.Get(ArgBricks))
    if len(raw) == 0 { return errs.New(errs.InvalidBrick, "no bricks given") }
    bricks := make([]volume.BrickInfo, 0, len(raw))
    for _, b := range raw {
        host, dir, err := volume.ParseBrick(b)
        if err != nil { return err }
        id, err := res.Resolve(host)
        if err != nil { return errs.Wrap(errs.InvalidBrick, err, "brick %s", b) }
        bricks = append(bricks, volume.BrickInfo{PeerID: id, Path: dir})
    }
    return args.SetJSON(argResolved, bricks)
}
