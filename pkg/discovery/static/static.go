package static

import (
    "strings"

    "github.com/amirimatin/go-glusterd/pkg/discovery"
)

type seeds []string

func (s seeds) Seeds() []string { return append([]string(nil), s...) }

// New returns a Discovery that always yields the given peers.
func New(peers ...string) discovery.Discovery {
    out := make(seeds, 0, len(peers))
    for _, p := range peers {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

// Parse converts a comma-separated peer list, as given on the command line.
func Parse(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
