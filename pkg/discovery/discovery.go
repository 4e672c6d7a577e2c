// Package discovery supplies the seed peers a daemon probes on start.
package discovery

import (
    "net"
    "strconv"
    "strings"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Discovery abstracts how seed peers are provided. Seeds are "host" or
// "host:port" strings.
type Discovery interface {
    Seeds() []string
}

// Endpoint is a seed resolved against the default management port.
type Endpoint struct {
    Host string
    Port int
}

func (e Endpoint) String() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// ParseSeed splits a seed into host and port, filling in defPort when the
// seed carries none.
func ParseSeed(seed string, defPort int) (Endpoint, error) {
    seed = strings.TrimSpace(seed)
    if seed == "" { return Endpoint{}, errs.New(errs.InvalidArgument, "empty seed") }
    host, portStr, err := net.SplitHostPort(seed)
    if err != nil {
        // bare hostname
        if strings.Contains(seed, ":") && !strings.HasPrefix(seed, "[") {
            return Endpoint{}, errs.Wrap(errs.InvalidArgument, err, "seed %q", seed)
        }
        return Endpoint{Host: strings.Trim(seed, "[]"), Port: defPort}, nil
    }
    port, err := strconv.Atoi(portStr)
    if err != nil || port <= 0 || port > 65535 {
        return Endpoint{}, errs.New(errs.InvalidArgument, "seed %q: bad port", seed)
    }
    if host == "" { return Endpoint{}, errs.New(errs.InvalidArgument, "seed %q: empty host", seed) }
    return Endpoint{Host: host, Port: port}, nil
}

// Endpoints resolves every seed of d, skipping malformed entries and
// duplicates. The second result lists the rejected seeds.
func Endpoints(d Discovery, defPort int) ([]Endpoint, []error) {
    if d == nil { return nil, nil }
    var (
        out  []Endpoint
        bad  []error
        seen = map[Endpoint]bool{}
    )
    for _, s := range d.Seeds() {
        ep, err := ParseSeed(s, defPort)
        if err != nil { bad = append(bad, err); continue }
        if seen[ep] { continue }
        seen[ep] = true
        out = append(out, ep)
    }
    return out, bad
}

type multi []Discovery

func (m multi) Seeds() []string {
    var out []string
    for _, d := range m { out = append(out, d.Seeds()...) }
    return out
}

// Multi concatenates the seeds of every non-nil source. It returns nil when
// no source is given.
func Multi(ds ...Discovery) Discovery {
    var m multi
    for _, d := range ds {
        if d != nil { m = append(m, d) }
    }
    switch len(m) {
    case 0:
        return nil
    case 1:
        return m[0]
    }
    return m
}
