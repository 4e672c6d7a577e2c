package static

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
    assert.Nil(t, Parse(""))
    assert.Equal(t, []string{"node1"}, Parse("node1"))
    assert.Equal(t, []string{"node1:4284", "node2"}, Parse(",, node1:4284, ,node2,"))
}

func TestSeedsAreCopies(t *testing.T) {
    d := New(" node1 ", "", "node2:4284")
    got := d.Seeds()
    assert.Equal(t, []string{"node1", "node2:4284"}, got)
    got[0] = "x"
    assert.Equal(t, "node1", d.Seeds()[0])
}
