// Package cli holds the cobra commands of glusterd and glusterctl.
package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    tlsx "github.com/amirimatin/go-glusterd/pkg/security/tlsconfig"
    "github.com/amirimatin/go-glusterd/pkg/transport"
    "github.com/amirimatin/go-glusterd/pkg/transport/httpjson"
)

// AddAll attaches the glusterctl commands to root.
func AddAll(root *cobra.Command) {
    cf := &clientFlags{}
    cf.bind(root)
    root.AddCommand(NewPeerCmd(cf))
    root.AddCommand(NewVolumeCmd(cf))
    root.AddCommand(NewStatusCmd(cf))
}

// clientFlags are shared by every command that talks to a daemon.
type clientFlags struct {
    addr    string
    timeout time.Duration
    asJSON  bool
    tls     tlsx.Options
}

func (f *clientFlags) bind(root *cobra.Command) {
    pf := root.PersistentFlags()
    pf.StringVar(&f.addr, "addr", "127.0.0.1:24007", "admin address of a glusterd (host:port)")
    pf.DurationVar(&f.timeout, "timeout", 2*time.Minute, "request timeout")
    pf.BoolVar(&f.asJSON, "json", false, "print raw JSON")
    pf.BoolVar(&f.tls.Enable, "tls-enable", false, "use mTLS towards the admin endpoint")
    pf.StringVar(&f.tls.Dir, "tls-dir", tlsx.DefaultDir, "directory holding glusterfs.pem/.key/.ca")
    pf.BoolVar(&f.tls.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    pf.StringVar(&f.tls.ServerName, "tls-server-name", "", "expected server name")
}

func (f *clientFlags) api() (transport.Admin, error) {
    c := httpjson.NewClient(f.timeout)
    cfg, err := f.tls.Client()
    if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    if cfg != nil { c.UseTLS(cfg) }
    return c.For(f.addr), nil
}

func (f *clientFlags) context() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), f.timeout)
}

func printJSON(w io.Writer, v interface{}) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}

// Fail prints err with its code and errno and returns the process exit
// status: 1 for untyped errors, 2 for typed ones.
func Fail(w io.Writer, prog string, err error) int {
    var e *errs.Error
    if !errors.As(err, &e) {
        fmt.Fprintf(w, "%s: %v\n", prog, err)
        return 1
    }
    fmt.Fprintf(w, "%s: %v (errno %d)\n", prog, err, e.Errno)
    return 2
}
