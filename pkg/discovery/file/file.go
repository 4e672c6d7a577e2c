// Package file reads seed peers from a peers file (or a glob of them), with
// an environment variable override.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-glusterd/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path is a file or glob holding one peer per line, '#' comments allowed.
    Path string
    // Env names a variable whose comma-separated value overrides the file.
    Env string
    // Refresh bounds cache staleness; defaults to 5s.
    Refresh time.Duration
}

type source struct {
    opts Options

    mu    sync.Mutex
    read  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &source{opts: opts}
}

func (s *source) Seeds() []string {
    if s.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(s.opts.Env)); v != "" {
            return normalize(strings.Split(v, ","))
        }
    }
    if s.opts.Path == "" { return nil }

    s.mu.Lock(); defer s.mu.Unlock()
    now := time.Now()
    if st, err := os.Stat(s.opts.Path); err == nil {
        if st.ModTime().After(s.mtime) || now.Sub(s.read) >= s.opts.Refresh {
            s.cache, s.read, s.mtime = readPeers(s.opts.Path), now, st.ModTime()
        }
        return append([]string(nil), s.cache...)
    }
    if matches, _ := filepath.Glob(s.opts.Path); len(matches) > 0 && now.Sub(s.read) >= s.opts.Refresh {
        var all []string
        for _, m := range matches { all = append(all, readPeers(m)...) }
        s.cache, s.read = normalize(all), now
    }
    return append([]string(nil), s.cache...)
}

func readPeers(path string) []string {
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var out []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := sc.Text()
        if i := strings.IndexByte(line, '#'); i >= 0 { line = line[:i] }
        out = append(out, strings.Split(line, ",")...)
    }
    if sc.Err() != nil { return nil }
    return normalize(out)
}

// normalize trims, drops empties, dedups and sorts.
func normalize(in []string) []string {
    set := make(map[string]struct{}, len(in))
    for _, p := range in {
        if p = strings.TrimSpace(p); p != "" { set[p] = struct{}{} }
    }
    if len(set) == 0 { return nil }
    out := make([]string, 0, len(set))
    for p := range set { out = append(out, p) }
    sort.Strings(out)
    return out
}
