package grpc

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "google.golang.org/grpc"
)

func TestConnCacheSharesOneDial(t *testing.T) {
    g := startGateway(t)
    var (
        mu    sync.Mutex
        dials int
    )
    client := New("127.0.0.1:0")
    cache := newConnCache(time.Minute, func(ctx context.Context, target string) (*grpc.ClientConn, error) {
        mu.Lock(); dials++; mu.Unlock()
        return client.dialCtx(ctx, target)
    })
    t.Cleanup(cache.close)

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            _, rel, err := cache.acquire(context.Background(), g.Addr())
            assert.NoError(t, err)
            rel()
        }()
    }
    wg.Wait()
    mu.Lock()
    assert.Equal(t, 1, dials)
    mu.Unlock()
    assert.Equal(t, 1, cache.Len())
}

func TestConnCacheSweepsIdle(t *testing.T) {
    g := startGateway(t)
    client := New("127.0.0.1:0")
    cache := newConnCache(time.Minute, client.dialCtx)
    t.Cleanup(cache.close)

    _, rel, err := cache.acquire(context.Background(), g.Addr())
    require.NoError(t, err)
    cache.sweep(time.Now().Add(2 * time.Minute))
    assert.Equal(t, 1, cache.Len(), "in-flight connection is kept")

    rel()
    cache.sweep(time.Now().Add(2 * time.Minute))
    assert.Equal(t, 0, cache.Len())
}

func TestConnCacheForgetsFailedDial(t *testing.T) {
    client := New("127.0.0.1:0")
    cache := newConnCache(time.Minute, client.dialCtx)
    t.Cleanup(cache.close)
    ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
    defer cancel()
    _, _, err := cache.acquire(ctx, "127.0.0.1:1")
    assert.Error(t, err)
    assert.Equal(t, 0, cache.Len())
}
