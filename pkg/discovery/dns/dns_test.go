package dns

import (
    "context"
    "errors"
    "net"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"

    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
)

type fakeResolver struct {
    mu    sync.Mutex
    calls int
    recs  map[string][]*net.SRV
}

func (f *fakeResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
    f.mu.Lock(); defer f.mu.Unlock()
    f.calls++
    recs, ok := f.recs[service+"/"+proto+"/"+name]
    if !ok { return "", nil, errors.New("no such host") }
    return "", recs, nil
}

func TestSplitSRV(t *testing.T) {
    svc, proto, domain, ok := splitSRV("_glusterd._tcp.example.com")
    assert.True(t, ok)
    assert.Equal(t, []string{"glusterd", "tcp", "example.com"}, []string{svc, proto, domain})

    _, _, _, ok = splitSRV("node1.example.com")
    assert.False(t, ok)
    _, _, _, ok = splitSRV("_glusterd.example.com")
    assert.False(t, ok)
}

func TestSeedsResolveSRVAndPassThrough(t *testing.T) {
    r := &fakeResolver{recs: map[string][]*net.SRV{
        "glusterd/tcp/example.com": {
            {Target: "n2.example.com.", Port: 4284},
            {Target: "n1.example.com.", Port: 4284},
        },
    }}
    d := New(Options{
        Names:    []string{"_glusterd._tcp.example.com", "n3:4290", "_glusterd._tcp.missing.com", "n1.example.com:4284"},
        Resolver: r,
        Logger:   logutil.Discard(),
    })
    assert.Equal(t, []string{"n1.example.com:4284", "n2.example.com:4284", "n3:4290"}, d.Seeds())
}

func TestSeedsAreCached(t *testing.T) {
    r := &fakeResolver{recs: map[string][]*net.SRV{"glusterd/tcp/example.com": {{Target: "n1.", Port: 4284}}}}
    d := New(Options{Names: []string{"_glusterd._tcp.example.com"}, Resolver: r, Refresh: time.Hour, Logger: logutil.Discard()})
    d.Seeds()
    d.Seeds()
    r.mu.Lock()
    assert.Equal(t, 1, r.calls)
    r.mu.Unlock()
}
