// Package grid provides the in-memory street graph of the town: an
// undirected 4-connected grid with permanently blocked segments, plus A*
// shortest-path search over it.
//
// The graph is loaded once from the immutable node and blocked-edge sets
// and is safe for concurrent readers; there is no mutation after New.
package grid

import (
	"fmt"

	"github.com/eagroute/go-eagroute/model"
)

type coord struct{ x, y int }

type edge struct{ from, to int64 }

// Grid is the immutable street graph.
type Grid struct {
	coords  map[int64]coord
	byCoord map[coord]int64
	blocked map[edge]struct{}
}

// New builds a Grid from the persisted node and blocked-edge sets.
// Blocked edges are indexed in both orientations so neighbor filtering is
// a single map probe.
func New(nodes []model.Node, blockedEdges []model.BlockedEdge) *Grid {
	g := &Grid{
		coords:  make(map[int64]coord, len(nodes)),
		byCoord: make(map[coord]int64, len(nodes)),
		blocked: make(map[edge]struct{}, 2*len(blockedEdges)),
	}
	for _, n := range nodes {
		c := coord{n.X, n.Y}
		g.coords[n.ID] = c
		g.byCoord[c] = n.ID
	}
	for _, b := range blockedEdges {
		g.blocked[edge{b.FromNodeID, b.ToNodeID}] = struct{}{}
		g.blocked[edge{b.ToNodeID, b.FromNodeID}] = struct{}{}
	}
	return g
}

// steps enumerates the four cardinal directions in a fixed order so that
// neighbor listings, and therefore search expansion, are deterministic.
var steps = [4]coord{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}

// Neighbors returns the node ids reachable from id in one step, excluding
// blocked segments. The result is in fixed direction order.
func (g *Grid) Neighbors(id int64) []int64 {
	c, ok := g.coords[id]
	if !ok {
		return nil
	}
	out := make([]int64, 0, 4)
	for _, d := range steps {
		next, ok := g.byCoord[coord{c.x + d.x, c.y + d.y}]
		if !ok {
			continue
		}
		if _, cut := g.blocked[edge{id, next}]; cut {
			continue
		}
		out = append(out, next)
	}
	return out
}

// Coords returns the (x, y) position of a node.
func (g *Grid) Coords(id int64) (x, y int, ok bool) {
	c, ok := g.coords[id]
	return c.x, c.y, ok
}

// NodeAt returns the node id at (x, y), if any.
func (g *Grid) NodeAt(x, y int) (int64, bool) {
	id, ok := g.byCoord[coord{x, y}]
	return id, ok
}

// Contains reports whether the node exists on the grid.
func (g *Grid) Contains(id int64) bool {
	_, ok := g.coords[id]
	return ok
}

// Blocked reports whether the segment between two adjacent nodes is
// impassable. Both directions of a blocked pair answer true.
func (g *Grid) Blocked(from, to int64) bool {
	_, cut := g.blocked[edge{from, to}]
	return cut
}

// Size returns the number of nodes.
func (g *Grid) Size() int {
	return len(g.coords)
}

// Address renders grid coordinates as the human-facing street label used
// by the frontend, e.g. (7,4) -> "LR74".
func Address(x, y int) string {
	return fmt.Sprintf("LR%d%d", x, y)
}
