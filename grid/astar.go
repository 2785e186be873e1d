package grid

import "container/heap"

// FindPath runs A* from start to goal and returns the node sequence
// including both endpoints, or ok=false when the goal is unreachable or
// either endpoint is off the grid. Edge cost is 1 and the heuristic is
// Manhattan distance, which is admissible and consistent on a
// 4-connected unit grid, so the first pop of the goal is optimal.
// Equal f-scores break FIFO, keeping results stable across runs.
func (g *Grid) FindPath(start, goal int64) ([]int64, bool) {
	sc, ok := g.coords[start]
	if !ok {
		return nil, false
	}
	gc, ok := g.coords[goal]
	if !ok {
		return nil, false
	}
	if start == goal {
		return []int64{start}, true
	}

	h := func(c coord) int {
		return abs(c.x-gc.x) + abs(c.y-gc.y)
	}

	open := &searchQueue{}
	heap.Init(open)
	heap.Push(open, &searchNode{id: start, f: h(sc)})

	cameFrom := make(map[int64]int64)
	gScore := map[int64]int{start: 0}
	closed := make(map[int64]struct{})

	for open.Len() > 0 {
		current := heap.Pop(open).(*searchNode)
		if current.id == goal {
			return reconstruct(cameFrom, current.id), true
		}
		if _, done := closed[current.id]; done {
			continue
		}
		closed[current.id] = struct{}{}

		for _, next := range g.Neighbors(current.id) {
			if _, done := closed[next]; done {
				continue
			}
			tentative := gScore[current.id] + 1
			if best, seen := gScore[next]; !seen || tentative < best {
				cameFrom[next] = current.id
				gScore[next] = tentative
				heap.Push(open, &searchNode{
					id: next,
					f:  tentative + h(g.coords[next]),
				})
			}
		}
	}
	return nil, false
}

// PathLength returns the number of edges on a shortest path, or ok=false
// when no path exists.
func (g *Grid) PathLength(start, goal int64) (int, bool) {
	path, ok := g.FindPath(start, goal)
	if !ok {
		return 0, false
	}
	return len(path) - 1, true
}

func reconstruct(cameFrom map[int64]int64, current int64) []int64 {
	path := []int64{current}
	for {
		prev, ok := cameFrom[current]
		if !ok {
			break
		}
		current = prev
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type searchNode struct {
	id  int64
	f   int
	seq int // push order, for FIFO tie-breaking
}

type searchQueue struct {
	nodes []*searchNode
	next  int
}

func (q *searchQueue) Len() int { return len(q.nodes) }

func (q *searchQueue) Less(i, j int) bool {
	if q.nodes[i].f != q.nodes[j].f {
		return q.nodes[i].f < q.nodes[j].f
	}
	return q.nodes[i].seq < q.nodes[j].seq
}

func (q *searchQueue) Swap(i, j int) {
	q.nodes[i], q.nodes[j] = q.nodes[j], q.nodes[i]
}

func (q *searchQueue) Push(x any) {
	n := x.(*searchNode)
	n.seq = q.next
	q.next++
	q.nodes = append(q.nodes, n)
}

func (q *searchQueue) Pop() any {
	old := q.nodes
	n := old[len(old)-1]
	old[len(old)-1] = nil
	q.nodes = old[:len(old)-1]
	return n
}
