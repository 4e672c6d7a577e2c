package transport

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Request is the envelope of every peer RPC.
type Request struct {
    // From is the sender's identity.
    From    string          `json:"from"`
    // TxnID tags cluster lock/stage/commit/unlock traffic.
    TxnID   uint64          `json:"txnId,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries a numeric status (0 = success) plus errno, code and detail
// on failure.
type Response struct {
    Status  int32           `json:"status"`
    Errno   int32           `json:"errno,omitempty"`
    Code    string          `json:"code,omitempty"`
    Detail  string          `json:"detail,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest encodes payload (which may be nil) into a request envelope.
func NewRequest(from string, txnID uint64, payload interface{}) (Request, error) {
    req := Request{From: from, TxnID: txnID}
    if payload != nil {
        b, err := json.Marshal(payload)
        if err != nil { return req, err }
        req.Payload = b
    }
    return req, nil
}

// Decode unmarshals the request payload into v.
func (r Request) Decode(v interface{}) error {
    if len(r.Payload) == 0 { return errs.New(errs.Protocol, "empty payload") }
    if err := json.Unmarshal(r.Payload, v); err != nil {
        return errs.Wrap(errs.Protocol, err, "malformed payload")
    }
    return nil
}

// Err reconstructs the remote error for a failed response.
func (r Response) Err() error {
    if r.Status == 0 { return nil }
    code := errs.Code(r.Code)
    if code == "" { code = errs.Internal }
    return &errs.Error{Code: code, Errno: r.Errno, Detail: r.Detail}
}

// Decode unmarshals the response payload into v; an empty payload is a no-op.
func (r Response) Decode(v interface{}) error {
    if v == nil || len(r.Payload) == 0 { return nil }
    if err := json.Unmarshal(r.Payload, v); err != nil {
        return errs.Wrap(errs.Protocol, err, "malformed response payload")
    }
    return nil
}

func okResponse(v interface{}) Response {
    if v == nil { return Response{} }
    b, err := json.Marshal(v)
    if err != nil { return failResponse(errs.Wrap(errs.Internal, err, "encode response")) }
    return Response{Payload: b}
}

func failResponse(err error) Response {
    e := errs.From(err)
    return Response{Status: -1, Errno: e.Errno, Code: string(e.Code), Detail: e.Detail}
}

// Invoke performs one call over conn and folds transport failures and remote
// rejections into a single coded error. A successful payload is decoded into
// out when out is non-nil.
func Invoke(ctx context.Context, conn Conn, op Op, req Request, timeout time.Duration, out interface{}) error {
    if conn == nil { return errs.New(errs.PeerUnreachable, "no connection") }
    resp, err := conn.Call(ctx, op, req, timeout)
    if err != nil { return CallError(conn.Addr(), err) }
    if err := resp.Err(); err != nil { return err }
    return resp.Decode(out)
}

// CallError classifies a transport-level failure as Timeout or
// PeerUnreachable.
func CallError(addr string, err error) error {
    var e *errs.Error
    if errors.As(err, &e) { return e }
    if errors.Is(err, context.DeadlineExceeded) {
        return errs.Wrap(errs.Timeout, err, "%s", addr)
    }
    return errs.Wrap(errs.PeerUnreachable, err, "%s", addr)
}

// Mux is the handler table every gateway embeds.
type Mux struct {
    mu       sync.RWMutex
    handlers map[Op]Handler
}

func NewMux() *Mux { return &Mux{handlers: make(map[Op]Handler)} }

func (m *Mux) Handle(op Op, h Handler) {
    m.mu.Lock()
    m.handlers[op] = h
    m.mu.Unlock()
}

// Dispatch runs the handler registered for op and always returns a response.
func (m *Mux) Dispatch(ctx context.Context, op Op, req Request) Response {
    m.mu.RLock()
    h := m.handlers[op]
    m.mu.RUnlock()
    if h == nil { return failResponse(errs.New(errs.Protocol, "no handler for %s", op)) }
    out, err := h(ctx, req)
    if err != nil { return failResponse(err) }
    return okResponse(out)
}

// Loopback returns a Conn that dispatches into this mux without touching the
// network. addr is reported by Conn.Addr.
func (m *Mux) Loopback(addr string) Conn { return &loopConn{mux: m, addr: addr} }

type loopConn struct {
    mux  *Mux
    addr string
}

func (l *loopConn) Addr() string { return l.addr }

func (l *loopConn) Call(ctx context.Context, op Op, req Request, timeout time.Duration) (Response, error) {
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    done := make(chan Response, 1)
    go func() { done <- l.mux.Dispatch(ctx, op, req) }()
    select {
    case resp := <-done:
        return resp, nil
    case <-ctx.Done():
        return Response{}, fmt.Errorf("loopback %s: %w", op, ctx.Err())
    }
}

func (l *loopConn) Close() error { return nil }
