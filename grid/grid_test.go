package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagroute/go-eagroute/model"
)

// rect builds a w×h grid with node ids assigned row-major starting at 1.
func rect(w, h int, blocked ...model.BlockedEdge) *Grid {
	var nodes []model.Node
	id := int64(1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nodes = append(nodes, model.Node{ID: id, X: x, Y: y})
			id++
		}
	}
	return New(nodes, blocked)
}

func TestNeighbors(t *testing.T) {
	g := rect(3, 3)

	center, ok := g.NodeAt(1, 1)
	require.True(t, ok)
	assert.Len(t, g.Neighbors(center), 4)

	corner, ok := g.NodeAt(0, 0)
	require.True(t, ok)
	assert.Len(t, g.Neighbors(corner), 2)

	assert.Nil(t, g.Neighbors(999))
}

func TestBlockedEdgeIsBidirectional(t *testing.T) {
	g := rect(2, 1, model.BlockedEdge{FromNodeID: 1, ToNodeID: 2})

	assert.True(t, g.Blocked(1, 2))
	assert.True(t, g.Blocked(2, 1))
	assert.Empty(t, g.Neighbors(1))
	assert.Empty(t, g.Neighbors(2))
}

func TestCoordsAndNodeAt(t *testing.T) {
	g := rect(3, 2)

	x, y, ok := g.Coords(4) // second row, first column
	require.True(t, ok)
	assert.Equal(t, 0, x)
	assert.Equal(t, 1, y)

	id, ok := g.NodeAt(2, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok = g.NodeAt(9, 9)
	assert.False(t, ok)

	_, _, ok = g.Coords(42)
	assert.False(t, ok)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "LR74", Address(7, 4))
	assert.Equal(t, "LR00", Address(0, 0))
}
