// Package txn implements the cluster-wide LOCK, STAGE, COMMIT, UNLOCK
// transaction. The Coordinator drives it from the initiating node; every node,
// the initiator included, runs a Participant that answers the four phases.
package txn

import (
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strconv"
    "strings"

    "github.com/google/uuid"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Dict is the argument map of an operation. Structured values are stored as
// JSON strings.
type Dict map[string]string

func (d Dict) Get(k string) string { return d[k] }

func (d Dict) Int(k string) (int, error) {
    v, ok := d[k]
    if !ok || v == "" { return 0, nil }
    n, err := strconv.Atoi(v)
    if err != nil { return 0, errs.New(errs.InvalidArgument, "%s: %q is not a number", k, v) }
    return n, nil
}

func (d Dict) SetJSON(k string, v interface{}) error {
    b, err := json.Marshal(v)
    if err != nil { return err }
    d[k] = string(b)
    return nil
}

func (d Dict) JSON(k string, v interface{}) error {
    raw, ok := d[k]
    if !ok { return errs.New(errs.InvalidArgument, "missing %q", k) }
    if err := json.Unmarshal([]byte(raw), v); err != nil { return errs.Wrap(errs.Protocol, err, "decode %q", k) }
    return nil
}

// Clone returns a shallow copy.
func (d Dict) Clone() Dict {
    out := make(Dict, len(d))
    for k, v := range d { out[k] = v }
    return out
}

// Op is one transactional operation. Prepare runs only on the initiator,
// before LOCK; it validates and may enrich the arguments. Stage must not
// mutate state. Commit applies the change.
type Op struct {
    Name    string
    Prepare func(ctx context.Context, args Dict) (Dict, error)
    Stage   func(ctx context.Context, args Dict) error
    Commit  func(ctx context.Context, args Dict) error
}

func (o Op) validate() error {
    if o.Name == "" { return fmt.Errorf("txn: op without name") }
    if o.Stage == nil || o.Commit == nil { return fmt.Errorf("txn: op %q needs Stage and Commit", o.Name) }
    return nil
}

// Phase names, as used in logs, spans and metrics.
type Phase string

const (
    PhasePrepare Phase = "prepare"
    PhaseLock    Phase = "lock"
    PhaseStage   Phase = "stage"
    PhaseCommit  Phase = "commit"
    PhaseUnlock  Phase = "unlock"
)

type lockRequest struct {
    Op string `json:"op"`
}

type phaseRequest struct {
    Op   string `json:"op"`
    Args Dict   `json:"args"`
}

// PartialCommitError reports a COMMIT phase that failed on some participants
// after succeeding on others. Nothing is rolled back.
type PartialCommitError struct {
    TxnID     uint64
    Op        string
    Committed []uuid.UUID
    Failed    map[uuid.UUID]error
}

func (e *PartialCommitError) Error() string {
    ids := make([]string, 0, len(e.Failed))
    for id, err := range e.Failed { ids = append(ids, fmt.Sprintf("%s (%v)", id, err)) }
    sort.Strings(ids)
    return fmt.Sprintf("%s: txn %d %s committed on %d peers, failed on %s",
        errs.PartialCommit, e.TxnID, e.Op, len(e.Committed), strings.Join(ids, ", "))
}

// Unwrap exposes the PARTIAL_COMMIT code to errs.CodeOf.
func (e *PartialCommitError) Unwrap() error {
    return errs.New(errs.PartialCommit, "txn %d %s", e.TxnID, e.Op)
}
