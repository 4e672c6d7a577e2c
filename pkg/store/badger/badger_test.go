package badger

import (
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/store/storetest"
)

func TestBadgerInMemory(t *testing.T) {
    s, err := OpenInMemory()
    require.NoError(t, err)
    defer s.Close()
    storetest.Run(t, s)
}

func TestBadgerOnDisk(t *testing.T) {
    s, err := Open(t.TempDir(), logutil.Discard())
    require.NoError(t, err)
    defer s.Close()
    storetest.Run(t, s)
}
