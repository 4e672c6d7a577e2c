package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/observability/tracing"
    "github.com/amirimatin/go-glusterd/pkg/transport"
)

// Server exposes the admin API, health and metrics over HTTP/JSON.
type Server struct {
    bind   string
    logger *logrus.Logger
    tlsCfg *tls.Config

    mu  sync.Mutex
    srv *http.Server
    lis net.Listener
}

// NewServer binds to the given TCP address (e.g., ":24007").
func NewServer(bind string, logger *logrus.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrNew(logger)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// StatusCode maps an error code to the HTTP status returned for it.
func StatusCode(err error) int {
    code := errs.CodeOf(err)
    switch code {
    case errs.VolumeNotFound, errs.PeerNotFound:
        return http.StatusNotFound
    case errs.Timeout:
        return http.StatusGatewayTimeout
    }
    switch code.Kind() {
    case errs.KindValidation:
        return http.StatusBadRequest
    case errs.KindConflict:
        return http.StatusConflict
    case errs.KindConnectivity:
        return http.StatusServiceUnavailable
    case errs.KindProtocol:
        return http.StatusBadGateway
    }
    return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
    writeJSON(w, StatusCode(err), transport.ErrorBodyOf(err))
}

func decode(r *http.Request, v interface{}) error {
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        return errs.Wrap(errs.InvalidArgument, err, "bad request body")
    }
    return nil
}

// Handler builds the route table for api. It is exported for tests.
func Handler(api transport.Admin) http.Handler {
    mux := http.NewServeMux()
    traced := func(name string, h func(ctx context.Context, w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
        return func(w http.ResponseWriter, r *http.Request) {
            ctx, span := tracing.StartSpan(r.Context(), "http."+name)
            err := h(ctx, w, r)
            span.End(err)
            if err != nil { writeError(w, err) }
        }
    }
    mux.HandleFunc("GET /status", traced("status", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        st, err := api.Status(ctx)
        if err != nil { return err }
        writeJSON(w, http.StatusOK, st)
        return nil
    }))
    mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("GET /metrics", promhttp.Handler())

    mux.HandleFunc("POST /v1/peers/probe", traced("probe", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        var req transport.ProbeRequest
        if err := decode(r, &req); err != nil { return err }
        out, err := api.Probe(ctx, req)
        if err != nil { return err }
        writeJSON(w, http.StatusOK, out)
        return nil
    }))
    mux.HandleFunc("POST /v1/peers/detach", traced("detach", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        var req transport.DetachRequest
        if err := decode(r, &req); err != nil { return err }
        out, err := api.Detach(ctx, req)
        if err != nil { return err }
        writeJSON(w, http.StatusOK, out)
        return nil
    }))
    mux.HandleFunc("GET /v1/peers", traced("peers", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        out, err := api.Peers(ctx)
        if err != nil { return err }
        writeJSON(w, http.StatusOK, out)
        return nil
    }))

    mux.HandleFunc("POST /v1/volumes", traced("create_volume", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        var req transport.CreateVolumeRequest
        if err := decode(r, &req); err != nil { return err }
        rep, err := api.CreateVolume(ctx, req)
        writeTxn(w, rep, err)
        return nil
    }))
    mux.HandleFunc("POST /v1/volumes/{name}/bricks", traced("add_brick", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        var req transport.AddBrickRequest
        if err := decode(r, &req); err != nil { return err }
        rep, err := api.AddBrick(ctx, r.PathValue("name"), req)
        writeTxn(w, rep, err)
        return nil
    }))
    mux.HandleFunc("DELETE /v1/volumes/{name}", traced("delete_volume", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        rep, err := api.DeleteVolume(ctx, r.PathValue("name"))
        writeTxn(w, rep, err)
        return nil
    }))
    mux.HandleFunc("GET /v1/volumes", traced("volumes", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        out, err := api.Volumes(ctx)
        if err != nil { return err }
        writeJSON(w, http.StatusOK, out)
        return nil
    }))
    mux.HandleFunc("GET /v1/volumes/{name}", traced("volume", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
        out, err := api.Volume(ctx, r.PathValue("name"))
        if err != nil { return err }
        writeJSON(w, http.StatusOK, out)
        return nil
    }))
    return mux
}

// writeTxn always answers with the report so a partial commit keeps its
// per-peer detail.
func writeTxn(w http.ResponseWriter, rep transport.TxnReport, err error) {
    if err == nil {
        writeJSON(w, http.StatusOK, rep)
        return
    }
    rep.Error = transport.ErrorBodyOf(err)
    writeJSON(w, StatusCode(err), rep)
}

// Start launches the HTTP server. The server is shut down when ctx is
// canceled or Stop is called.
func (s *Server) Start(ctx context.Context, api transport.Admin) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: Handler(api), ReadHeaderTimeout: 10 * time.Second}
    s.mu.Lock()
    s.srv, s.lis = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.WithError(err).Error("httpjson: server error")
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := srv.Shutdown(c); err != nil { return fmt.Errorf("httpjson: shutdown: %w", err) }
    return nil
}
