// Package dns finds seed peers through SRV records such as
// _glusterd._tcp.example.com. Targets are kept as hostnames since peers are
// identified by the name they are probed with.
package dns

import (
    "context"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/amirimatin/go-glusterd/pkg/discovery"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
)

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
    LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

type Options struct {
    // Names are SRV names ("_service._proto.domain"). Anything else is
    // passed through unchanged as a seed.
    Names []string
    // Refresh bounds cache staleness; defaults to 30s.
    Refresh time.Duration
    // Timeout bounds one round of lookups; defaults to 5s.
    Timeout  time.Duration
    Resolver Resolver
    Logger   *logrus.Logger
}

type source struct {
    opts Options
    log  *logrus.Entry

    mu    sync.Mutex
    last  time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 30 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 5 * time.Second }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &source{opts: opts, log: logutil.OrNew(opts.Logger).WithField("component", "discovery.dns")}
}

func (s *source) Seeds() []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.cache != nil && time.Since(s.last) < s.opts.Refresh { return append([]string(nil), s.cache...) }
    ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
    defer cancel()
    s.cache, s.last = s.resolve(ctx), time.Now()
    return append([]string(nil), s.cache...)
}

func (s *source) resolve(ctx context.Context) []string {
    seen := map[string]bool{}
    out := []string{}
    add := func(v string) {
        if !seen[v] { seen[v] = true; out = append(out, v) }
    }
    for _, name := range s.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        svc, proto, domain, ok := splitSRV(name)
        if !ok { add(name); continue }
        _, recs, err := s.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
        if err != nil {
            s.log.WithError(err).WithField("name", name).Warn("SRV lookup failed")
            continue
        }
        for _, r := range recs {
            add(net.JoinHostPort(strings.TrimSuffix(r.Target, "."), strconv.Itoa(int(r.Port))))
        }
    }
    sort.Strings(out)
    return out
}

// splitSRV parses "_service._proto.domain".
func splitSRV(name string) (service, proto, domain string, ok bool) {
    parts := strings.SplitN(name, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "", false }
    return parts[0][1:], parts[1][1:], parts[2], parts[2] != ""
}
