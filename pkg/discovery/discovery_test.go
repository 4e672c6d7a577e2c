package discovery

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

type fixed []string

func (f fixed) Seeds() []string { return f }

func TestParseSeed(t *testing.T) {
    ep, err := ParseSeed("node1", 4284)
    require.NoError(t, err)
    assert.Equal(t, Endpoint{Host: "node1", Port: 4284}, ep)

    ep, err = ParseSeed(" node2:7000 ", 4284)
    require.NoError(t, err)
    assert.Equal(t, "node2:7000", ep.String())

    ep, err = ParseSeed("[::1]:7000", 4284)
    require.NoError(t, err)
    assert.Equal(t, "::1", ep.Host)

    for _, bad := range []string{"", "node:x", ":7000", "node:0"} {
        _, err := ParseSeed(bad, 4284)
        assert.True(t, errs.Has(err, errs.InvalidArgument), bad)
    }
}

func TestEndpointsDedup(t *testing.T) {
    eps, bad := Endpoints(fixed{"a", "a:4284", "b:1", "c:x"}, 4284)
    assert.Equal(t, []Endpoint{{"a", 4284}, {"b", 1}}, eps)
    assert.Len(t, bad, 1)

    eps, bad = Endpoints(nil, 4284)
    assert.Nil(t, eps)
    assert.Nil(t, bad)
}

func TestMulti(t *testing.T) {
    assert.Nil(t, Multi(nil, nil))
    one := fixed{"a"}
    assert.Equal(t, one, Multi(nil, one))
    assert.Equal(t, []string{"a", "b", "c"}, Multi(one, fixed{"b", "c"}).Seeds())
}
