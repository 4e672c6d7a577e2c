package memory

import (
    "testing"

    "github.com/amirimatin/go-glusterd/pkg/store/storetest"
)

func TestMemoryStore(t *testing.T) { storetest.Run(t, New()) }
