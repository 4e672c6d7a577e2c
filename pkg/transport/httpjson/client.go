package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// Client is a thin HTTP client for the admin API. Reads are retried with
// backoff; mutations are sent exactly once.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

// For binds the client to one daemon address.
func (c *Client) For(addr string) transport.Admin { return remote{c: c, addr: addr} }

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// roundTrip performs one request and decodes a 200 body into out. Non-200
// answers are decoded as an error body; when raw is non-nil the body is
// also decoded into it.
func (c *Client) roundTrip(ctx context.Context, method, u string, body []byte, out, raw interface{}) error {
    var rd io.Reader
    if body != nil { rd = bytes.NewReader(body) }
    req, err := http.NewRequestWithContext(ctx, method, u, rd)
    if err != nil { return err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.httpc.Do(req)
    if err != nil { return errs.Wrap(errs.PeerUnreachable, err, "%s %s", method, u) }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return errs.Wrap(errs.PeerUnreachable, err, "read %s", u) }
    if resp.StatusCode == http.StatusOK {
        if out == nil { return nil }
        if err := json.Unmarshal(b, out); err != nil { return errs.Wrap(errs.Protocol, err, "decode %s", u) }
        return nil
    }
    if raw != nil { _ = json.Unmarshal(b, raw) }
    var eb transport.ErrorBody
    if err := json.Unmarshal(b, &eb); err == nil && eb.Code != "" {
        return eb.Err()
    }
    // txn reports nest the error body.
    var rep transport.TxnReport
    if err := json.Unmarshal(b, &rep); err == nil && rep.Error != nil {
        return rep.Error.Err()
    }
    return errs.New(errs.Internal, "status %d: %s", resp.StatusCode, string(b))
}

func (c *Client) get(ctx context.Context, addr, path string, out interface{}) error {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        lastErr = c.roundTrip(ctx, http.MethodGet, c.url(addr, path), nil, out, nil)
        if lastErr == nil { return nil }
        // only transport failures are worth another try
        if !errs.Has(lastErr, errs.PeerUnreachable) { return lastErr }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) send(ctx context.Context, method, addr, path string, in, out interface{}) error {
    var body []byte
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = b
    }
    return c.roundTrip(ctx, method, c.url(addr, path), body, out, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.NodeStatus, error) {
    var out transport.NodeStatus
    err := c.get(ctx, addr, "/status", &out)
    return out, err
}

func (c *Client) Probe(ctx context.Context, addr string, req transport.ProbeRequest) (transport.ProbeResponse, error) {
    var out transport.ProbeResponse
    err := c.send(ctx, http.MethodPost, addr, "/v1/peers/probe", req, &out)
    return out, err
}

func (c *Client) Detach(ctx context.Context, addr string, req transport.DetachRequest) (transport.PeerView, error) {
    var out transport.PeerView
    err := c.send(ctx, http.MethodPost, addr, "/v1/peers/detach", req, &out)
    return out, err
}

func (c *Client) Peers(ctx context.Context, addr string) ([]transport.PeerView, error) {
    var out []transport.PeerView
    err := c.get(ctx, addr, "/v1/peers", &out)
    return out, err
}

func (c *Client) CreateVolume(ctx context.Context, addr string, req transport.CreateVolumeRequest) (transport.TxnReport, error) {
    var out transport.TxnReport
    err := c.send(ctx, http.MethodPost, addr, "/v1/volumes", req, &out)
    return out, err
}

func (c *Client) AddBrick(ctx context.Context, addr, volume string, req transport.AddBrickRequest) (transport.TxnReport, error) {
    var out transport.TxnReport
    err := c.send(ctx, http.MethodPost, addr, "/v1/volumes/"+url.PathEscape(volume)+"/bricks", req, &out)
    return out, err
}

func (c *Client) DeleteVolume(ctx context.Context, addr, volume string) (transport.TxnReport, error) {
    var out transport.TxnReport
    err := c.send(ctx, http.MethodDelete, addr, "/v1/volumes/"+url.PathEscape(volume), nil, &out)
    return out, err
}

func (c *Client) Volumes(ctx context.Context, addr string) ([]transport.VolumeView, error) {
    var out []transport.VolumeView
    err := c.get(ctx, addr, "/v1/volumes", &out)
    return out, err
}

func (c *Client) Volume(ctx context.Context, addr, name string) (transport.VolumeView, error) {
    var out transport.VolumeView
    err := c.get(ctx, addr, "/v1/volumes/"+url.PathEscape(name), &out)
    return out, err
}

type remote struct {
    c    *Client
    addr string
}

var _ transport.Admin = remote{}

func (r remote) Status(ctx context.Context) (transport.NodeStatus, error) { return r.c.GetStatus(ctx, r.addr) }
func (r remote) Probe(ctx context.Context, req transport.ProbeRequest) (transport.ProbeResponse, error) {
    return r.c.Probe(ctx, r.addr, req)
}
func (r remote) Detach(ctx context.Context, req transport.DetachRequest) (transport.PeerView, error) {
    return r.c.Detach(ctx, r.addr, req)
}
func (r remote) Peers(ctx context.Context) ([]transport.PeerView, error) { return r.c.Peers(ctx, r.addr) }
func (r remote) CreateVolume(ctx context.Context, req transport.CreateVolumeRequest) (transport.TxnReport, error) {
    return r.c.CreateVolume(ctx, r.addr, req)
}
func (r remote) AddBrick(ctx context.Context, volume string, req transport.AddBrickRequest) (transport.TxnReport, error) {
    return r.c.AddBrick(ctx, r.addr, volume, req)
}
func (r remote) DeleteVolume(ctx context.Context, volume string) (transport.TxnReport, error) {
    return r.c.DeleteVolume(ctx, r.addr, volume)
}
func (r remote) Volumes(ctx context.Context) ([]transport.VolumeView, error) { return r.c.Volumes(ctx, r.addr) }
func (r remote) Volume(ctx context.Context, name string) (transport.VolumeView, error) {
    return r.c.Volume(ctx, r.addr, name)
}
